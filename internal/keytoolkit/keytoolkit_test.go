package keytoolkit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/kenchrcum/pqcrypt/internal/keymaterial"
	"github.com/kenchrcum/pqcrypt/internal/kms"
)

func newTestToolkit(t *testing.T, doubleWrapping bool) (*Toolkit, *kms.InMemory) {
	t.Helper()
	mk := kms.NewInMemory(map[string][]byte{
		"kf":   bytes.Repeat([]byte{0x00}, 16),
		"kcol": bytes.Repeat([]byte{0x01}, 16),
	})
	registry := kms.NewRegistry()
	registry.Register("default", mk)

	tk := NewToolkit(Options{
		Registry:            registry,
		KmsInstanceID:       "default",
		KmsInstanceURL:      "https://kms.example",
		DoubleWrapping:      doubleWrapping,
		InternalKeyMaterial: true,
		CacheLifetime:       time.Minute,
		CacheCleanupPeriod:  time.Minute,
	})
	return tk, mk
}

func TestSingleWrapRoundTrip(t *testing.T) {
	tk, _ := newTestToolkit(t, false)
	ctx := context.Background()
	dek := []byte("0123456789abcdef")

	meta, err := tk.GetEncryptionKeyMetadata(ctx, "token-1", dek, "kf", true)
	if err != nil {
		t.Fatalf("GetEncryptionKeyMetadata: %v", err)
	}
	got, err := tk.Unwrap(ctx, "token-1", meta)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if !bytes.Equal(got, dek) {
		t.Fatalf("got %q want %q", got, dek)
	}
}

func TestDoubleWrapRoundTrip(t *testing.T) {
	tk, _ := newTestToolkit(t, true)
	ctx := context.Background()
	dek := []byte("fedcba9876543210")

	meta, err := tk.GetEncryptionKeyMetadata(ctx, "token-1", dek, "kcol", false)
	if err != nil {
		t.Fatalf("GetEncryptionKeyMetadata: %v", err)
	}
	got, err := tk.Unwrap(ctx, "token-1", meta)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if !bytes.Equal(got, dek) {
		t.Fatalf("got %q want %q", got, dek)
	}
}

// TestDoubleWrapEquivalence exercises spec's "double-wrap equivalence"
// invariant: the same plaintext DEK round-trips whether or not double
// wrapping is enabled.
func TestDoubleWrapEquivalence(t *testing.T) {
	dek := []byte("abcdefghijklmnop")
	ctx := context.Background()

	single, _ := newTestToolkit(t, false)
	metaSingle, err := single.GetEncryptionKeyMetadata(ctx, "t", dek, "kf", true)
	if err != nil {
		t.Fatal(err)
	}
	gotSingle, err := single.Unwrap(ctx, "t", metaSingle)
	if err != nil {
		t.Fatal(err)
	}

	double, _ := newTestToolkit(t, true)
	metaDouble, err := double.GetEncryptionKeyMetadata(ctx, "t", dek, "kf", true)
	if err != nil {
		t.Fatal(err)
	}
	gotDouble, err := double.Unwrap(ctx, "t", metaDouble)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(gotSingle, dek) || !bytes.Equal(gotDouble, dek) {
		t.Fatalf("round trips diverged: single=%q double=%q want %q", gotSingle, gotDouble, dek)
	}
}

// TestDoubleWrapAfterKEKCacheInvalidation simulates scenario 6 from the
// core's end-to-end test list: write with double wrapping, drop the KEK
// cache out of process (RemoveToken), then read — the unwrap path must
// re-issue a KMS unwrap of the wrapped KEK and still succeed.
func TestDoubleWrapAfterKEKCacheInvalidation(t *testing.T) {
	tk, _ := newTestToolkit(t, true)
	ctx := context.Background()
	dek := []byte("rotatemeplzplzpl")

	meta, err := tk.GetEncryptionKeyMetadata(ctx, "token-1", dek, "kcol", false)
	if err != nil {
		t.Fatal(err)
	}

	tk.kekByID.RemoveToken("token-1")
	tk.kekByMasterKey.RemoveToken("token-1")
	tk.dekCache.RemoveToken("token-1")

	got, err := tk.Unwrap(ctx, "token-1", meta)
	if err != nil {
		t.Fatalf("Unwrap after cache invalidation: %v", err)
	}
	if !bytes.Equal(got, dek) {
		t.Fatalf("got %q want %q", got, dek)
	}
}

// TestSharedMasterKeyWrapsKEKOnce verifies many columns sharing a master
// key reuse the same cached KEK rather than minting a fresh one per call.
func TestSharedMasterKeyWrapsKEKOnce(t *testing.T) {
	tk, _ := newTestToolkit(t, true)
	ctx := context.Background()

	meta1, err := tk.GetEncryptionKeyMetadata(ctx, "token-1", []byte("deadbeefdeadbeef"), "kcol", false)
	if err != nil {
		t.Fatal(err)
	}
	meta2, err := tk.GetEncryptionKeyMetadata(ctx, "token-1", []byte("cafebabecafebabe"), "kcol", false)
	if err != nil {
		t.Fatal(err)
	}

	got1, err := tk.Unwrap(ctx, "token-1", meta1)
	if err != nil {
		t.Fatal(err)
	}
	got2, err := tk.Unwrap(ctx, "token-1", meta2)
	if err != nil {
		t.Fatal(err)
	}
	if string(got1) != "deadbeefdeadbeef" || string(got2) != "cafebabecafebabe" {
		t.Fatalf("unexpected plaintexts: %q, %q", got1, got2)
	}
	km1, err := keymaterial.Parse(string(meta1))
	if err != nil {
		t.Fatal(err)
	}
	km2, err := keymaterial.Parse(string(meta2))
	if err != nil {
		t.Fatal(err)
	}
	if km1.KekID != km2.KekID {
		t.Fatalf("expected both columns to share one KEK, got KekID %q and %q", km1.KekID, km2.KekID)
	}
	if tk.kekByMasterKey.Len() != 1 {
		t.Fatalf("expected a single token entry in kekByMasterKey, got Len()=%d", tk.kekByMasterKey.Len())
	}
}
