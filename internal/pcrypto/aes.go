// Package pcrypto implements the AES-GCM and AES-GCM-CTR module cipher
// used for every encrypted region of a Parquet file: the footer, column
// metadata, and page bodies/headers.
package pcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

const (
	nonceSize = 12
	tagSize   = 16
	lenPrefix = 4
)

// CiphertextSizeDelta returns how many bytes a module grows by relative to
// its plaintext, for the given aead flag (true selects GCM with a trailing
// tag, false selects CTR with none).
func CiphertextSizeDelta(authenticated bool) int {
	if authenticated {
		return lenPrefix + nonceSize + tagSize
	}
	return lenPrefix + nonceSize
}

func newCipherBlock(key []byte) (cipher.Block, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, pqerrors.ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("pcrypto: creating AES cipher: %w", err)
	}
	return block, nil
}

// EncryptGCM encrypts plaintext under key and aad with a fresh random
// 12-byte nonce. The returned buffer is len(4 LE) || nonce(12) ||
// ciphertext || tag(16), where len counts every byte after the length
// prefix itself.
func EncryptGCM(plaintext, key, aad []byte) ([]byte, error) {
	block, err := newCipherBlock(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("pcrypto: creating GCM: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("pcrypto: generating nonce: %w", err)
	}
	return frame(gcm.Seal(nil, nonce, plaintext, aad), nonce), nil
}

// DecryptGCM is the inverse of EncryptGCM; it authenticates the tag
// against aad and fails with ErrAuthenticationFailed on any mismatch.
func DecryptGCM(framed, key, aad []byte) ([]byte, error) {
	block, err := newCipherBlock(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("pcrypto: creating GCM: %w", err)
	}
	nonce, ciphertextAndTag, err := unframe(framed)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertextAndTag, aad)
	if err != nil {
		return nil, pqerrors.ErrAuthenticationFailed
	}
	return plaintext, nil
}

// SignedFooterEncrypt is GCM with a caller-provided nonce rather than a
// random one, used to produce (and, by the reader, to recompute) the
// 28-byte plaintext-footer signature.
func SignedFooterEncrypt(plaintext, key, aad, nonce []byte) ([]byte, error) {
	if len(nonce) != nonceSize {
		return nil, fmt.Errorf("pcrypto: signed footer nonce must be %d bytes, got %d", nonceSize, len(nonce))
	}
	block, err := newCipherBlock(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("pcrypto: creating GCM: %w", err)
	}
	return frame(gcm.Seal(nil, nonce, plaintext, aad), nonce), nil
}

// VerifySignedFooter recomputes the signature over footer and compares it
// in constant time against the stored nonce||tag trailer.
func VerifySignedFooter(footer, key, aad, signature []byte) error {
	if len(signature) != nonceSize+tagSize {
		return fmt.Errorf("pcrypto: footer signature must be %d bytes, got %d", nonceSize+tagSize, len(signature))
	}
	nonce := signature[:nonceSize]
	wantTag := signature[nonceSize:]

	block, err := newCipherBlock(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return fmt.Errorf("pcrypto: creating GCM: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, footer, aad)
	gotTag := sealed[len(sealed)-tagSize:]
	if subtle.ConstantTimeCompare(gotTag, wantTag) != 1 {
		return pqerrors.ErrAuthenticationFailed
	}
	return nil
}

// EncryptCTR encrypts plaintext in CTR mode (no authentication tag) with a
// fresh random 12-byte nonce. Output is len(4 LE) || nonce(12) ||
// ciphertext.
func EncryptCTR(plaintext, key []byte) ([]byte, error) {
	block, err := newCipherBlock(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("pcrypto: generating nonce: %w", err)
	}
	ciphertext := make([]byte, len(plaintext))
	ctrStream(block, nonce, plaintext, ciphertext)
	return frame(ciphertext, nonce), nil
}

// DecryptCTR is the inverse of EncryptCTR. CTR carries no authentication
// tag; callers rely on the metadata module (always GCM) to authenticate
// the column as a whole.
func DecryptCTR(framed, key []byte) ([]byte, error) {
	block, err := newCipherBlock(key)
	if err != nil {
		return nil, err
	}
	nonce, ciphertext, err := unframe(framed)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	ctrStream(block, nonce, ciphertext, plaintext)
	return plaintext, nil
}

// ctrStream builds a full-block CTR counter from the 12-byte nonce (as
// parquet-mr does: nonce || 0x00000001 initial big-endian counter) and
// XORs src into dst.
func ctrStream(block cipher.Block, nonce, src, dst []byte) {
	iv := make([]byte, aes.BlockSize)
	copy(iv, nonce)
	binary.BigEndian.PutUint32(iv[nonceSize:], 1)
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(dst, src)
}

func frame(ciphertext, nonce []byte) []byte {
	body := make([]byte, nonceSize+len(ciphertext))
	copy(body, nonce)
	copy(body[nonceSize:], ciphertext)

	out := make([]byte, lenPrefix+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[lenPrefix:], body)
	return out
}

func unframe(framed []byte) (nonce, rest []byte, err error) {
	if len(framed) < lenPrefix+nonceSize {
		return nil, nil, fmt.Errorf("pcrypto: framed module too short: %d bytes", len(framed))
	}
	declared := binary.LittleEndian.Uint32(framed[:lenPrefix])
	body := framed[lenPrefix:]
	if int(declared) != len(body) {
		return nil, nil, fmt.Errorf("pcrypto: declared module length %d does not match %d available bytes", declared, len(body))
	}
	return body[:nonceSize], body[nonceSize:], nil
}
