package kms

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/kenchrcum/pqcrypt/internal/pcrypto"
	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

// InMemory is a deterministic KMS test double: a map from master-key-id to
// raw key bytes, wrapping keys with local AES-GCM under an AAD of the
// master-key-id itself. It is the canonical in-memory KMS shape for this
// core (see spec design notes: the other in-memory KMS variants found in
// the source tree are development artifacts, not alternatives to this
// one).
type InMemory struct {
	mu        sync.RWMutex
	masterKeys map[string][]byte
}

// NewInMemory builds an in-memory KMS from an explicit set of master keys,
// replacing the process-wide static map the reference implementation
// used for its test double.
func NewInMemory(masterKeys map[string][]byte) *InMemory {
	m := &InMemory{masterKeys: make(map[string][]byte, len(masterKeys))}
	for id, key := range masterKeys {
		m.masterKeys[id] = append([]byte(nil), key...)
	}
	return m
}

// PutMasterKey installs or rotates a master key; keys wrapped under the
// previous bytes for that id no longer unwrap.
func (m *InMemory) PutMasterKey(masterKeyID string, key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masterKeys[masterKeyID] = append([]byte(nil), key...)
}

// RemoveMasterKey simulates revoking access to a master key id; subsequent
// Wrap/Unwrap/GetMasterKey calls for it fail with ErrKeyAccessDenied.
func (m *InMemory) RemoveMasterKey(masterKeyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.masterKeys, masterKeyID)
}

func (m *InMemory) lookup(masterKeyID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.masterKeys[masterKeyID]
	if !ok {
		return nil, fmt.Errorf("kms: %w: master key %q", pqerrors.ErrKeyAccessDenied, masterKeyID)
	}
	return key, nil
}

func (m *InMemory) WrapKey(_ context.Context, dataKey []byte, masterKeyID string) (string, error) {
	masterKey, err := m.lookup(masterKeyID)
	if err != nil {
		return "", err
	}
	framed, err := pcrypto.EncryptGCM(dataKey, masterKey, []byte(masterKeyID))
	if err != nil {
		return "", fmt.Errorf("kms: %w: %v", pqerrors.ErrKmsError, err)
	}
	return base64.StdEncoding.EncodeToString(framed), nil
}

func (m *InMemory) UnwrapKey(_ context.Context, wrapped string, masterKeyID string) ([]byte, error) {
	masterKey, err := m.lookup(masterKeyID)
	if err != nil {
		return nil, err
	}
	framed, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("kms: %w: wrapped key is not base64: %v", pqerrors.ErrKmsError, err)
	}
	plaintext, err := pcrypto.DecryptGCM(framed, masterKey, []byte(masterKeyID))
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func (m *InMemory) GetMasterKey(_ context.Context, masterKeyID string) ([]byte, error) {
	key, err := m.lookup(masterKeyID)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), key...), nil
}
