// Package dkr defines the read-side key resolution contract shared by the
// footer reader and the metadata resolver: given the key metadata bytes
// stored for the footer or a column, return the plaintext data-encryption
// key. The Key Toolkit is the production implementation; tests can supply
// a trivial stand-in.
package dkr

// DecryptionKeyRetriever resolves a key from the bytes stored in the file
// as that key's metadata (see internal/keymaterial.KeyMetadata).
type DecryptionKeyRetriever interface {
	GetKey(keyMetadata []byte) ([]byte, error)
}

// Func adapts a plain function to a DecryptionKeyRetriever.
type Func func(keyMetadata []byte) ([]byte, error)

func (f Func) GetKey(keyMetadata []byte) ([]byte, error) { return f(keyMetadata) }
