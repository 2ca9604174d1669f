package keymaterial

import (
	"encoding/json"
	"fmt"

	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

// KeyMetadata is the blob actually stored in a column chunk's
// key_metadata field (or as the encrypted footer's key metadata). When
// InternalStorage is true the KeyMaterial JSON is embedded verbatim;
// otherwise only KeyReference is populated and the material must be
// resolved through an external store (out of scope for this module, see
// ExternalMaterialStore).
type KeyMetadata struct {
	InternalStorage bool
	KeyReference    string // set iff !InternalStorage
	KeyMaterial     string // set iff InternalStorage; raw serialized KeyMaterial JSON
}

type wireKeyMetadata struct {
	KeyMaterialType string `json:"keyMaterialType"`
	InternalStorage bool   `json:"internalStorage"`
	KeyReference    string `json:"keyReference,omitempty"`
}

// SerializeMetadata produces the bytes stored as a column's key_metadata.
// For internal storage that is the KeyMaterial JSON itself (which carries
// its own internalStorage:true field, the one ParseMetadata checks);
// for external storage it is the {keyMaterialType, internalStorage:false,
// keyReference} wrapper of §6.3.
func SerializeMetadata(km KeyMetadata) ([]byte, error) {
	if km.InternalStorage {
		if km.KeyMaterial == "" {
			return nil, fmt.Errorf("keymaterial: %w: internal storage requires embedded key material", pqerrors.ErrMalformedKeyMaterial)
		}
		return []byte(km.KeyMaterial), nil
	}
	if km.KeyReference == "" {
		return nil, fmt.Errorf("keymaterial: %w: external storage requires a keyReference", pqerrors.ErrMalformedKeyMaterial)
	}
	b, err := json.Marshal(wireKeyMetadata{
		KeyMaterialType: keyMaterialType,
		InternalStorage: false,
		KeyReference:    km.KeyReference,
	})
	if err != nil {
		return nil, fmt.Errorf("keymaterial: marshal: %w", err)
	}
	return b, nil
}

// ParseMetadata distinguishes internal from external storage by probing
// the "internalStorage" field, then either keeps the raw bytes as the
// embedded KeyMaterial JSON or extracts the external keyReference.
func ParseMetadata(b []byte) (KeyMetadata, error) {
	var probe wireKeyMetadata
	if err := json.Unmarshal(b, &probe); err != nil {
		return KeyMetadata{}, fmt.Errorf("keymaterial: %w: invalid JSON: %v", pqerrors.ErrMalformedKeyMaterial, err)
	}
	if probe.KeyMaterialType != keyMaterialType {
		return KeyMetadata{}, fmt.Errorf("keymaterial: %w: keyMaterialType %q, want %q", pqerrors.ErrMalformedKeyMaterial, probe.KeyMaterialType, keyMaterialType)
	}
	if probe.InternalStorage {
		return KeyMetadata{InternalStorage: true, KeyMaterial: string(b)}, nil
	}
	if probe.KeyReference == "" {
		return KeyMetadata{}, fmt.Errorf("keymaterial: %w: external storage missing keyReference", pqerrors.ErrMalformedKeyMaterial)
	}
	return KeyMetadata{InternalStorage: false, KeyReference: probe.KeyReference}, nil
}

// ExternalMaterialStore resolves a keyReference to the serialized
// KeyMaterial JSON it points to. Out of scope per the core's contract;
// callers inject an implementation (e.g. a Hadoop-FS-backed or database-
// backed store).
type ExternalMaterialStore interface {
	GetKeyMaterial(keyReference string) (string, error)
	PutKeyMaterial(keyReference, keyMaterialJSON string) error
}
