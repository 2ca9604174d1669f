// Package codec defines the boundary between the encryption/metadata core
// and the Thrift compact-protocol codec for schema structures — a
// collaborator the core's specification explicitly places out of scope
// (it is a byte-blob (de)serializer the core invokes with a
// caller-supplied buffer, post-decryption for encrypted modules). The
// core never assumes a wire format: footer and metadata-resolver code
// takes a Codec by dependency injection.
package codec

import "github.com/kenchrcum/pqcrypt/internal/pmetadata"

// Codec (de)serializes the structural pieces of a Parquet file that are
// otherwise opaque byte blobs to the encryption core.
type Codec interface {
	// DecodeFileMetaData decodes the self-delimiting structure from the
	// front of b and reports how many bytes it consumed. For a signed
	// plaintext footer, the 28-byte nonce||tag signature immediately
	// follows the footer bytes in the same region with no length
	// prefix of its own, so the caller needs consumed to find it.
	DecodeFileMetaData(b []byte) (m *pmetadata.FileMetaData, consumed int, err error)
	EncodeFileMetaData(m *pmetadata.FileMetaData) ([]byte, error)

	DecodeColumnMetaData(b []byte) (*pmetadata.ColumnChunkMetaData, error)
	EncodeColumnMetaData(m *pmetadata.ColumnChunkMetaData) ([]byte, error)

	// DecodeFileCryptoMetaData decodes the self-delimiting structure from
	// the front of b and reports how many bytes it consumed, since the
	// encrypted FileMetaData ciphertext immediately follows it in the same
	// footer region with no separate length prefix.
	DecodeFileCryptoMetaData(b []byte) (m *pmetadata.FileCryptoMetaData, consumed int, err error)
	EncodeFileCryptoMetaData(m *pmetadata.FileCryptoMetaData) ([]byte, error)
}
