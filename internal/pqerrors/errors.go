// Package pqerrors defines the fatal and recoverable error kinds shared
// across the encryption core. Every kind is a distinct sentinel so callers
// can dispatch with errors.Is instead of string matching.
package pqerrors

import "errors"

var (
	// Fatal open errors.
	ErrTruncated            = errors.New("pqcrypt: file shorter than the 8-byte trailer")
	ErrBadMagic             = errors.New("pqcrypt: trailer magic is neither PAR1 nor PARE")
	ErrShortMetadata        = errors.New("pqcrypt: metadata length exceeds file length")
	ErrUnsupportedAlgorithm = errors.New("pqcrypt: unsupported encryption algorithm")

	// Fatal configuration/format errors.
	ErrInvalidKeyLength    = errors.New("pqcrypt: key length must be 16, 24, or 32 bytes")
	ErrMalformedKeyMaterial = errors.New("pqcrypt: malformed key material")
	ErrMalformedColumnKeys = errors.New("pqcrypt: malformed column-keys specification")
	ErrConfigConflict      = errors.New("pqcrypt: exactly one of uniform_encryption or column_keys must be set")
	ErrConfigMissing       = errors.New("pqcrypt: neither uniform_encryption nor column_keys was set")
	ErrDuplicateColumnKey  = errors.New("pqcrypt: column assigned to more than one key")

	// Fatal crypto-setup errors.
	ErrNoFooterKey       = errors.New("pqcrypt: no footer key available")
	ErrAadPrefixMissing  = errors.New("pqcrypt: file requires an externally supplied AAD prefix")
	ErrAadPrefixMismatch = errors.New("pqcrypt: supplied AAD prefix does not match the file's stored prefix")

	// Fatal per-module error.
	ErrAuthenticationFailed = errors.New("pqcrypt: module authentication failed")

	// Surfaced as-is from the KMS client.
	ErrKmsError    = errors.New("pqcrypt: KMS operation failed")
	ErrKeyNotFound = errors.New("pqcrypt: key not found")

	// Recoverable: KeyAccessDenied from the KMS is converted into this at
	// the metadata resolver.
	ErrKeyAccessDenied = errors.New("pqcrypt: KMS denied access to the requested key")
)

// HiddenColumn is the recoverable error surfaced when a column's key
// cannot be resolved because the KMS denied access. The caller may choose
// to skip the column and continue reading the rest of the file.
type HiddenColumn struct {
	Path []string
}

func (e *HiddenColumn) Error() string {
	s := "pqcrypt: hidden column ["
	for i, p := range e.Path {
		if i > 0 {
			s += "."
		}
		s += p
	}
	return s + "]: key access denied"
}

func (e *HiddenColumn) Unwrap() error { return ErrKeyAccessDenied }
