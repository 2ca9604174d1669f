// Package keymaterial serializes and parses the JSON key-material blob
// that travels either embedded in a file (internal storage) or in an
// external sidecar referenced by a KeyMetadata wrapper (external storage).
package keymaterial

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

// keyMaterialType is the only recognized key-material format version.
const keyMaterialType = "PKMT1"

// KeyMaterial is the envelope-encryption record for one data-encryption
// key: which master key wrapped it, whether it went through an
// intermediate key-encryption key, and the wrapped bytes themselves.
type KeyMaterial struct {
	IsFooterKey    bool
	KmsInstanceID  string // present iff IsFooterKey
	KmsInstanceURL string // present iff IsFooterKey
	MasterKeyID    string
	IsDoubleWrapped bool
	KekID          string // present iff IsDoubleWrapped
	WrappedKEK     []byte // present iff IsDoubleWrapped
	WrappedDEK     []byte
}

// wireKeyMaterial mirrors the JSON schema in field name and presence
// exactly; fields are pointers/omitempty so absent fields serialize as
// absent rather than as zero values.
type wireKeyMaterial struct {
	KeyMaterialType string  `json:"keyMaterialType"`
	InternalStorage *bool   `json:"internalStorage,omitempty"`
	IsFooterKey     bool    `json:"isFooterKey"`
	KmsInstanceID   *string `json:"kmsInstanceID,omitempty"`
	KmsInstanceURL  *string `json:"kmsInstanceURL,omitempty"`
	MasterKeyID     string  `json:"masterKeyID"`
	WrappedDEK      string  `json:"wrappedDEK"`
	DoubleWrapping  bool    `json:"doubleWrapping"`
	KeyEncryptionKeyID *string `json:"keyEncryptionKeyID,omitempty"`
	WrappedKEK         *string `json:"wrappedKEK,omitempty"`
}

// Serialize encodes km as the key-material JSON string. internalStorage
// records whether this blob will be embedded directly inside a
// KeyMetadata (true) or persisted in an external sidecar referenced by a
// keyReference (false); per §6.3 the field is only present when true.
func Serialize(km KeyMaterial, internalStorage bool) (string, error) {
	if km.MasterKeyID == "" {
		return "", fmt.Errorf("keymaterial: %w: empty masterKeyID", pqerrors.ErrMalformedKeyMaterial)
	}
	if len(km.WrappedDEK) == 0 {
		return "", fmt.Errorf("keymaterial: %w: empty wrappedDEK", pqerrors.ErrMalformedKeyMaterial)
	}
	w := wireKeyMaterial{
		KeyMaterialType: keyMaterialType,
		IsFooterKey:     km.IsFooterKey,
		MasterKeyID:     km.MasterKeyID,
		WrappedDEK:      base64.StdEncoding.EncodeToString(km.WrappedDEK),
		DoubleWrapping:  km.IsDoubleWrapped,
	}
	if internalStorage {
		w.InternalStorage = &internalStorage
	}
	if km.IsFooterKey {
		w.KmsInstanceID = &km.KmsInstanceID
		w.KmsInstanceURL = &km.KmsInstanceURL
	}
	if km.IsDoubleWrapped {
		if km.KekID == "" || len(km.WrappedKEK) == 0 {
			return "", fmt.Errorf("keymaterial: %w: double-wrapped material missing keyEncryptionKeyID or wrappedKEK", pqerrors.ErrMalformedKeyMaterial)
		}
		w.KeyEncryptionKeyID = &km.KekID
		wrappedKEK := base64.StdEncoding.EncodeToString(km.WrappedKEK)
		w.WrappedKEK = &wrappedKEK
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("keymaterial: marshal: %w", err)
	}
	return string(b), nil
}

// Parse decodes a key-material JSON string produced by Serialize,
// validating every required field and the "PKMT1" version tag.
func Parse(s string) (KeyMaterial, error) {
	var w wireKeyMaterial
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return KeyMaterial{}, fmt.Errorf("keymaterial: %w: invalid JSON: %v", pqerrors.ErrMalformedKeyMaterial, err)
	}
	if w.KeyMaterialType != keyMaterialType {
		return KeyMaterial{}, fmt.Errorf("keymaterial: %w: keyMaterialType %q, want %q", pqerrors.ErrMalformedKeyMaterial, w.KeyMaterialType, keyMaterialType)
	}
	if w.MasterKeyID == "" {
		return KeyMaterial{}, fmt.Errorf("keymaterial: %w: missing masterKeyID", pqerrors.ErrMalformedKeyMaterial)
	}
	if w.WrappedDEK == "" {
		return KeyMaterial{}, fmt.Errorf("keymaterial: %w: missing wrappedDEK", pqerrors.ErrMalformedKeyMaterial)
	}
	dek, err := base64.StdEncoding.DecodeString(w.WrappedDEK)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("keymaterial: %w: wrappedDEK is not base64: %v", pqerrors.ErrMalformedKeyMaterial, err)
	}

	km := KeyMaterial{
		IsFooterKey:     w.IsFooterKey,
		MasterKeyID:     w.MasterKeyID,
		WrappedDEK:      dek,
		IsDoubleWrapped: w.DoubleWrapping,
	}
	if w.IsFooterKey {
		if w.KmsInstanceID != nil {
			km.KmsInstanceID = *w.KmsInstanceID
		}
		if w.KmsInstanceURL != nil {
			km.KmsInstanceURL = *w.KmsInstanceURL
		}
	}
	if w.DoubleWrapping {
		if w.KeyEncryptionKeyID == nil || w.WrappedKEK == nil {
			return KeyMaterial{}, fmt.Errorf("keymaterial: %w: doubleWrapping set but keyEncryptionKeyID/wrappedKEK missing", pqerrors.ErrMalformedKeyMaterial)
		}
		km.KekID = *w.KeyEncryptionKeyID
		kek, err := base64.StdEncoding.DecodeString(*w.WrappedKEK)
		if err != nil {
			return KeyMaterial{}, fmt.Errorf("keymaterial: %w: wrappedKEK is not base64: %v", pqerrors.ErrMalformedKeyMaterial, err)
		}
		km.WrappedKEK = kek
	}
	return km, nil
}
