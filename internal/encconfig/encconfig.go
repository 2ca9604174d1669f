// Package encconfig implements the Properties-Driven Factory: it turns a
// declarative EncryptionConfiguration into concrete, per-file and
// per-column data-encryption keys and their serialized key metadata,
// drawing fresh random DEKs and delegating wrapping to the Key Toolkit.
package encconfig

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/kenchrcum/pqcrypt/internal/keytoolkit"
	"github.com/kenchrcum/pqcrypt/internal/pmetadata"
	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

// EncryptionConfiguration is the declarative, user-facing configuration
// surface (spec.md §6.4): exactly one of UniformEncryption or ColumnKeys
// selects the encryption layout.
type EncryptionConfiguration struct {
	FooterKey         string // KMS master key id wrapping the footer DEK
	UniformEncryption bool
	ColumnKeys        string // "keyId1:col1,col2;keyId2:col3,..."
	Algorithm         pmetadata.Algorithm
	PlaintextFooter   bool
	DataKeyLengthBits int
}

// NewEncryptionConfiguration returns a configuration with the spec's
// defaults applied (128-bit AesGcmV1 DEKs, encrypted footer); callers
// then set FooterKey and exactly one of UniformEncryption/ColumnKeys.
func NewEncryptionConfiguration() EncryptionConfiguration {
	return EncryptionConfiguration{
		Algorithm:         pmetadata.AesGcmV1,
		DataKeyLengthBits: 128,
	}
}

// ColumnKeyProperties is one distinct column key's generated DEK, its
// serialized key metadata, and the columns it covers.
type ColumnKeyProperties struct {
	KeyID       string
	Key         []byte
	KeyMetadata []byte
	Columns     []string
}

// FileEncryptionProperties is the write-side property bag a writer (out
// of this core's scope beyond this symmetry) would consume to encrypt a
// file matching one EncryptionConfiguration.
type FileEncryptionProperties struct {
	Algorithm         pmetadata.Algorithm
	PlaintextFooter   bool
	UniformEncryption bool

	FooterKey         []byte
	FooterKeyMetadata []byte

	// ColumnKeys is nil under uniform encryption, where every column
	// uses the footer key instead.
	ColumnKeys map[string]ColumnKeyProperties
}

// Build validates cfg and generates one fresh DEK per distinct key (the
// footer key, plus one per column-key group under non-uniform
// encryption), wrapping each through toolkit.
func Build(ctx context.Context, cfg EncryptionConfiguration, toolkit *keytoolkit.Toolkit, accessToken string) (*FileEncryptionProperties, error) {
	if cfg.FooterKey == "" {
		return nil, fmt.Errorf("encconfig: footer_key is required: %w", pqerrors.ErrConfigMissing)
	}
	if cfg.UniformEncryption && cfg.ColumnKeys != "" {
		return nil, pqerrors.ErrConfigConflict
	}
	if !cfg.UniformEncryption && cfg.ColumnKeys == "" {
		return nil, pqerrors.ErrConfigMissing
	}
	if cfg.DataKeyLengthBits != 128 && cfg.DataKeyLengthBits != 192 && cfg.DataKeyLengthBits != 256 {
		return nil, pqerrors.ErrInvalidKeyLength
	}

	var groups map[string][]string
	if !cfg.UniformEncryption {
		var err error
		groups, err = ParseColumnKeys(cfg.ColumnKeys)
		if err != nil {
			return nil, err
		}
	}

	dekLen := cfg.DataKeyLengthBits / 8

	footerDEK, err := randomKey(dekLen)
	if err != nil {
		return nil, err
	}
	footerKeyMetadata, err := toolkit.GetEncryptionKeyMetadata(ctx, accessToken, footerDEK, cfg.FooterKey, true)
	if err != nil {
		return nil, fmt.Errorf("encconfig: wrapping footer key: %w", err)
	}

	props := &FileEncryptionProperties{
		Algorithm:         cfg.Algorithm,
		PlaintextFooter:   cfg.PlaintextFooter,
		UniformEncryption: cfg.UniformEncryption,
		FooterKey:         footerDEK,
		FooterKeyMetadata: footerKeyMetadata,
	}

	if cfg.UniformEncryption {
		return props, nil
	}

	props.ColumnKeys = make(map[string]ColumnKeyProperties, len(groups))
	for keyID, columns := range groups {
		dek, err := randomKey(dekLen)
		if err != nil {
			return nil, err
		}
		keyMetadata, err := toolkit.GetEncryptionKeyMetadata(ctx, accessToken, dek, keyID, false)
		if err != nil {
			return nil, fmt.Errorf("encconfig: wrapping column key %q: %w", keyID, err)
		}
		props.ColumnKeys[keyID] = ColumnKeyProperties{KeyID: keyID, Key: dek, KeyMetadata: keyMetadata, Columns: columns}
	}
	return props, nil
}

func randomKey(n int) ([]byte, error) {
	k := make([]byte, n)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("encconfig: generating data encryption key: %w", err)
	}
	return k, nil
}

// ParseColumnKeys parses the "keyId1:col1,col2;keyId2:col3,..." syntax
// into keyID -> column-name groups. Whitespace around keys and column
// names is trimmed; empty segments (from a trailing or doubled ";") are
// skipped; anything else malformed is ErrMalformedColumnKeys; a column
// named under more than one key is ErrDuplicateColumnKey.
func ParseColumnKeys(spec string) (map[string][]string, error) {
	groups := make(map[string][]string)
	owner := make(map[string]string)

	for _, segment := range strings.Split(spec, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		parts := strings.SplitN(segment, ":", 2)
		if len(parts) != 2 {
			return nil, pqerrors.ErrMalformedColumnKeys
		}
		keyID := strings.TrimSpace(parts[0])
		columnsRaw := strings.TrimSpace(parts[1])
		if keyID == "" || columnsRaw == "" {
			return nil, pqerrors.ErrMalformedColumnKeys
		}

		for _, col := range strings.Split(columnsRaw, ",") {
			col = strings.TrimSpace(col)
			if col == "" {
				return nil, pqerrors.ErrMalformedColumnKeys
			}
			if prev, ok := owner[col]; ok && prev != keyID {
				return nil, pqerrors.ErrDuplicateColumnKey
			}
			owner[col] = keyID
			groups[keyID] = append(groups[keyID], col)
		}
	}

	if len(groups) == 0 {
		return nil, pqerrors.ErrMalformedColumnKeys
	}
	return groups, nil
}
