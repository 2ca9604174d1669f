// Package keytoolkit orchestrates envelope encryption: wrapping a
// data-encryption key under a master key (optionally through an
// intermediate key-encryption key) on write, and unwrapping it again on
// read, driving the KMS client and the two-level expiring caches that
// avoid a KMS round trip per column.
package keytoolkit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/kenchrcum/pqcrypt/internal/dkr"
	"github.com/kenchrcum/pqcrypt/internal/expcache"
	"github.com/kenchrcum/pqcrypt/internal/keymaterial"
	"github.com/kenchrcum/pqcrypt/internal/kms"
	"github.com/kenchrcum/pqcrypt/internal/metrics"
	"github.com/kenchrcum/pqcrypt/internal/pcrypto"
	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

const (
	kekBytesLength = 16
	kekIDLength    = 16
)

// Options configures one Toolkit instance; the zero value is not usable,
// use NewToolkit.
type Options struct {
	Registry            *kms.Registry
	KmsInstanceID       string
	KmsInstanceURL      string
	DoubleWrapping      bool
	WrapLocally         bool
	InternalKeyMaterial bool
	CacheLifetime       time.Duration
	CacheCleanupPeriod  time.Duration
	// ExternalStore is consulted when InternalKeyMaterial is false. It may
	// be nil if the caller never produces or reads externally stored
	// material.
	ExternalStore keymaterial.ExternalMaterialStore

	// Metrics, if set, observes every KMS round trip and DEK cache
	// decision this toolkit makes.
	Metrics *metrics.Metrics
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, pqerrors.ErrKeyAccessDenied):
		return "key_access_denied"
	case errors.Is(err, pqerrors.ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, pqerrors.ErrKmsError):
		return "kms_error"
	default:
		return "other"
	}
}

type kek struct {
	id           string
	bytes        []byte
	wrappedB64   string
}

// Toolkit is the orchestrator behind the envelope encryption contract.
// One Toolkit is shared across every column and the footer of a single
// KMS connection; its caches are scoped by access token so that distinct
// callers (or distinct token rotations) never share key material.
type Toolkit struct {
	opts Options

	kekByMasterKey *expcache.TwoLevelCache[kek]    // write-side: token -> masterKeyID -> kek
	kekByID        *expcache.TwoLevelCache[[]byte] // read-side: token -> kekID -> kek bytes
	masterKeyCache *expcache.TwoLevelCache[[]byte] // wrap_locally: token -> masterKeyID -> raw key
	dekCache       *expcache.TwoLevelCache[[]byte] // token -> wrappedDEK -> plaintext DEK

	externalKeyCounter int
}

func NewToolkit(opts Options) *Toolkit {
	return &Toolkit{
		opts:           opts,
		kekByMasterKey: expcache.New[kek](),
		kekByID:        expcache.New[[]byte](),
		masterKeyCache: expcache.New[[]byte](),
		dekCache:       expcache.New[[]byte](),
	}
}

// Sweep runs the opportunistic expired-token cleanup across every cache
// this toolkit owns; callers invoke it at most once per
// CacheCleanupPeriod, e.g. once per file opened or written.
func (t *Toolkit) Sweep() {
	t.kekByMasterKey.Sweep(t.opts.CacheCleanupPeriod)
	t.kekByID.Sweep(t.opts.CacheCleanupPeriod)
	t.masterKeyCache.Sweep(t.opts.CacheCleanupPeriod)
	t.dekCache.Sweep(t.opts.CacheCleanupPeriod)
}

func (t *Toolkit) client() (kms.Client, error) {
	return t.opts.Registry.Get(t.opts.KmsInstanceID)
}

// GetEncryptionKeyMetadata is the writer-side entry point: wrap dataKey
// under masterKeyID (through a KEK if double wrapping is enabled) and
// return the bytes to store as the column's (or footer's) key metadata.
func (t *Toolkit) GetEncryptionKeyMetadata(ctx context.Context, accessToken string, dataKey []byte, masterKeyID string, isFooterKey bool) ([]byte, error) {
	client, err := t.client()
	if err != nil {
		return nil, err
	}

	var wrappedDEK, kekID, wrappedKEK string
	if !t.opts.DoubleWrapping {
		wrappedDEK, err = t.wrapDirect(ctx, client, dataKey, masterKeyID)
		if err != nil {
			return nil, err
		}
	} else {
		k, err := t.getOrCreateKEK(ctx, client, accessToken, masterKeyID)
		if err != nil {
			return nil, err
		}
		framed, err := pcrypto.EncryptGCM(dataKey, k.bytes, []byte(k.id))
		if err != nil {
			return nil, fmt.Errorf("keytoolkit: wrapping DEK with KEK: %w", err)
		}
		wrappedDEK = base64.StdEncoding.EncodeToString(framed)
		kekID = k.id
		wrappedKEK = k.wrappedB64
	}

	km := keymaterial.KeyMaterial{
		IsFooterKey:     isFooterKey,
		MasterKeyID:     masterKeyID,
		IsDoubleWrapped: t.opts.DoubleWrapping,
		WrappedDEK:      mustDecodeBase64(wrappedDEK),
	}
	if isFooterKey {
		km.KmsInstanceID = t.opts.KmsInstanceID
		km.KmsInstanceURL = t.opts.KmsInstanceURL
	}
	if t.opts.DoubleWrapping {
		km.KekID = kekID
		km.WrappedKEK = mustDecodeBase64(wrappedKEK)
	}

	serialized, err := keymaterial.Serialize(km, t.opts.InternalKeyMaterial)
	if err != nil {
		return nil, err
	}

	if t.opts.InternalKeyMaterial {
		return keymaterial.SerializeMetadata(keymaterial.KeyMetadata{InternalStorage: true, KeyMaterial: serialized})
	}

	if t.opts.ExternalStore == nil {
		return nil, fmt.Errorf("keytoolkit: internal_key_material=false requires an ExternalStore")
	}
	ref := externalKeyReference(isFooterKey, &t.externalKeyCounter)
	if err := t.opts.ExternalStore.PutKeyMaterial(ref, serialized); err != nil {
		return nil, fmt.Errorf("keytoolkit: writing external key material: %w", err)
	}
	return keymaterial.SerializeMetadata(keymaterial.KeyMetadata{InternalStorage: false, KeyReference: ref})
}

func externalKeyReference(isFooterKey bool, counter *int) string {
	if isFooterKey {
		return "footer_key"
	}
	ref := fmt.Sprintf("col_key%d", *counter)
	*counter++
	return ref
}

// Unwrap is the reader-side entry point: given the bytes stored as a
// column's (or footer's) key metadata, resolve and return the plaintext
// data-encryption key.
func (t *Toolkit) Unwrap(ctx context.Context, accessToken string, keyMetadataBytes []byte) ([]byte, error) {
	meta, err := keymaterial.ParseMetadata(keyMetadataBytes)
	if err != nil {
		return nil, err
	}

	materialJSON := meta.KeyMaterial
	if !meta.InternalStorage {
		if t.opts.ExternalStore == nil {
			return nil, fmt.Errorf("keytoolkit: external key material referenced but no ExternalStore configured")
		}
		materialJSON, err = t.opts.ExternalStore.GetKeyMaterial(meta.KeyReference)
		if err != nil {
			return nil, fmt.Errorf("keytoolkit: resolving external key material %q: %w", meta.KeyReference, err)
		}
	}

	km, err := keymaterial.Parse(materialJSON)
	if err != nil {
		return nil, err
	}

	var cached []byte
	found := false
	t.dekCache.WithInnerCache(accessToken, t.opts.CacheLifetime, func(inner map[string][]byte) {
		cached, found = inner[string(km.WrappedDEK)]
	})
	if found {
		if t.opts.Metrics != nil {
			t.opts.Metrics.RecordCacheHit("dek")
		}
		return cached, nil
	}
	if t.opts.Metrics != nil {
		t.opts.Metrics.RecordCacheMiss("dek")
	}

	client, err := t.client()
	if err != nil {
		return nil, err
	}

	var plaintext []byte
	if !km.IsDoubleWrapped {
		plaintext, err = t.unwrapDirect(ctx, client, base64.StdEncoding.EncodeToString(km.WrappedDEK), km.MasterKeyID)
		if err != nil {
			return nil, err
		}
	} else {
		kekBytes, err := t.resolveKEKByID(ctx, client, accessToken, km.KekID, km.MasterKeyID, km.WrappedKEK)
		if err != nil {
			return nil, err
		}
		plaintext, err = pcrypto.DecryptGCM(km.WrappedDEK, kekBytes, []byte(km.KekID))
		if err != nil {
			return nil, err
		}
	}

	t.dekCache.WithInnerCache(accessToken, t.opts.CacheLifetime, func(inner map[string][]byte) {
		inner[string(km.WrappedDEK)] = plaintext
	})
	return plaintext, nil
}

// getOrCreateKEK returns the cached KEK for (token, masterKeyID),
// generating and wrapping a fresh one on first use so that every column
// sharing a master key reuses the same KEK for the file's lifetime.
func (t *Toolkit) getOrCreateKEK(ctx context.Context, client kms.Client, accessToken, masterKeyID string) (kek, error) {
	var result kek
	var genErr error
	t.kekByMasterKey.WithInnerCache(accessToken, t.opts.CacheLifetime, func(inner map[string]kek) {
		if existing, ok := inner[masterKeyID]; ok {
			result = existing
			return
		}
		k, err := t.createKEK(ctx, client, masterKeyID)
		if err != nil {
			genErr = err
			return
		}
		inner[masterKeyID] = k
		result = k
	})
	if genErr != nil {
		return kek{}, genErr
	}
	// Make the new KEK reachable by id too, so a reader unwrapping the same
	// file within this process skips re-wrapping/unwrapping through KMS.
	t.kekByID.WithInnerCache(accessToken, t.opts.CacheLifetime, func(inner map[string][]byte) {
		inner[result.id] = result.bytes
	})
	return result, nil
}

func (t *Toolkit) createKEK(ctx context.Context, client kms.Client, masterKeyID string) (kek, error) {
	kekBytes := make([]byte, kekBytesLength)
	if _, err := rand.Read(kekBytes); err != nil {
		return kek{}, fmt.Errorf("keytoolkit: generating KEK: %w", err)
	}
	kekIDBytes := make([]byte, kekIDLength)
	if _, err := rand.Read(kekIDBytes); err != nil {
		return kek{}, fmt.Errorf("keytoolkit: generating KEK id: %w", err)
	}
	kekID := base64.StdEncoding.EncodeToString(kekIDBytes)

	wrapped, err := t.wrapDirect(ctx, client, kekBytes, masterKeyID)
	if err != nil {
		return kek{}, err
	}
	return kek{id: kekID, bytes: kekBytes, wrappedB64: wrapped}, nil
}

// resolveKEKByID returns the cached KEK bytes for (token, kekID), falling
// back to a KMS unwrap of wrappedKEK under masterKeyID on miss — the path
// exercised when a reader opens a file without having written it, or
// after the KEK cache expired (e.g. following an out-of-process key
// rotation).
func (t *Toolkit) resolveKEKByID(ctx context.Context, client kms.Client, accessToken, kekID, masterKeyID string, wrappedKEK []byte) ([]byte, error) {
	var cached []byte
	found := false
	t.kekByID.WithInnerCache(accessToken, t.opts.CacheLifetime, func(inner map[string][]byte) {
		cached, found = inner[kekID]
	})
	if found {
		return cached, nil
	}

	plaintext, err := t.unwrapDirect(ctx, client, base64.StdEncoding.EncodeToString(wrappedKEK), masterKeyID)
	if err != nil {
		return nil, err
	}
	t.kekByID.WithInnerCache(accessToken, t.opts.CacheLifetime, func(inner map[string][]byte) {
		inner[kekID] = plaintext
	})
	return plaintext, nil
}

// wrapDirect wraps key under masterKeyID, either remotely through the KMS
// client or, if wrap_locally is set, with a cached local copy of the
// master key.
func (t *Toolkit) wrapDirect(ctx context.Context, client kms.Client, key []byte, masterKeyID string) (string, error) {
	if !t.opts.WrapLocally {
		wrapped, err := client.WrapKey(ctx, key, masterKeyID)
		if t.opts.Metrics != nil {
			if err != nil {
				t.opts.Metrics.RecordKmsError("wrap", errorKind(err))
			} else {
				t.opts.Metrics.RecordKmsWrap(t.opts.KmsInstanceID)
			}
		}
		return wrapped, err
	}
	masterKey, err := t.cachedMasterKey(ctx, client, "", masterKeyID)
	if err != nil {
		return "", err
	}
	framed, err := pcrypto.EncryptGCM(key, masterKey, []byte(masterKeyID))
	if err != nil {
		return "", fmt.Errorf("keytoolkit: local wrap: %w", err)
	}
	return base64.StdEncoding.EncodeToString(framed), nil
}

func (t *Toolkit) unwrapDirect(ctx context.Context, client kms.Client, wrapped, masterKeyID string) ([]byte, error) {
	if !t.opts.WrapLocally {
		plaintext, err := client.UnwrapKey(ctx, wrapped, masterKeyID)
		if t.opts.Metrics != nil {
			if err != nil {
				t.opts.Metrics.RecordKmsError("unwrap", errorKind(err))
			} else {
				t.opts.Metrics.RecordKmsUnwrap(t.opts.KmsInstanceID)
			}
		}
		return plaintext, err
	}
	masterKey, err := t.cachedMasterKey(ctx, client, "", masterKeyID)
	if err != nil {
		return nil, err
	}
	framed, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("keytoolkit: %w: wrapped key is not base64: %v", pqerrors.ErrKmsError, err)
	}
	return pcrypto.DecryptGCM(framed, masterKey, []byte(masterKeyID))
}

func (t *Toolkit) cachedMasterKey(ctx context.Context, client kms.Client, accessToken, masterKeyID string) ([]byte, error) {
	var cached []byte
	found := false
	t.masterKeyCache.WithInnerCache(accessToken, t.opts.CacheLifetime, func(inner map[string][]byte) {
		cached, found = inner[masterKeyID]
	})
	if found {
		return cached, nil
	}
	key, err := client.GetMasterKey(ctx, masterKeyID)
	if err != nil {
		return nil, err
	}
	t.masterKeyCache.WithInnerCache(accessToken, t.opts.CacheLifetime, func(inner map[string][]byte) {
		inner[masterKeyID] = key
	})
	return key, nil
}

// Retriever binds this toolkit to one KMS access token and returns a
// dkr.DecryptionKeyRetriever the footer reader and metadata resolver can
// call without themselves knowing about tokens or caches.
func (t *Toolkit) Retriever(ctx context.Context, accessToken string) dkr.DecryptionKeyRetriever {
	return dkr.Func(func(keyMetadata []byte) ([]byte, error) {
		return t.Unwrap(ctx, accessToken, keyMetadata)
	})
}

func mustDecodeBase64(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// wrapDirect and the KEK base64 encoding always produce valid base64; a decode failure
		// here means a programmer error upstream, not bad input.
		panic(fmt.Sprintf("keytoolkit: internal invariant violated: %v", err))
	}
	return b
}
