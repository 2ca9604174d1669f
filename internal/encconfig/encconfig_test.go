package encconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/kenchrcum/pqcrypt/internal/keytoolkit"
	"github.com/kenchrcum/pqcrypt/internal/kms"
	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

func newTestToolkit(t *testing.T) *keytoolkit.Toolkit {
	t.Helper()
	reg := kms.NewRegistry()
	im := kms.NewInMemory(map[string][]byte{
		"kf":   make([]byte, 16),
		"kcol": append(make([]byte, 15), 0x01),
	})
	reg.Register("default", im)
	return keytoolkit.NewToolkit(keytoolkit.Options{
		Registry:            reg,
		KmsInstanceID:       "default",
		DoubleWrapping:      false,
		InternalKeyMaterial: true,
	})
}

func TestParseColumnKeysBasic(t *testing.T) {
	groups, err := ParseColumnKeys("kcol:a,b; k2 : c")
	if err != nil {
		t.Fatal(err)
	}
	if len(groups["kcol"]) != 2 || groups["kcol"][0] != "a" || groups["kcol"][1] != "b" {
		t.Fatalf("unexpected groups: %+v", groups)
	}
	if len(groups["k2"]) != 1 || groups["k2"][0] != "c" {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}

func TestParseColumnKeysSkipsEmptySegments(t *testing.T) {
	groups, err := ParseColumnKeys("kcol:a;;k2:b;")
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}

func TestParseColumnKeysDuplicateColumn(t *testing.T) {
	_, err := ParseColumnKeys("k1:a;k2:a")
	if !errors.Is(err, pqerrors.ErrDuplicateColumnKey) {
		t.Fatalf("got %v, want ErrDuplicateColumnKey", err)
	}
}

func TestParseColumnKeysMalformed(t *testing.T) {
	for _, spec := range []string{"nocolon", ":a", "k1:", "k1:a,,b"} {
		if _, err := ParseColumnKeys(spec); !errors.Is(err, pqerrors.ErrMalformedColumnKeys) {
			t.Fatalf("spec %q: got %v, want ErrMalformedColumnKeys", spec, err)
		}
	}
}

func TestBuildUniformEncryption(t *testing.T) {
	tk := newTestToolkit(t)
	cfg := NewEncryptionConfiguration()
	cfg.FooterKey = "kf"
	cfg.UniformEncryption = true

	props, err := Build(context.Background(), cfg, tk, "token")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(props.FooterKey) != 16 {
		t.Fatalf("footer key length = %d, want 16", len(props.FooterKey))
	}
	if len(props.FooterKeyMetadata) == 0 {
		t.Fatal("expected non-empty footer key metadata")
	}
	if props.ColumnKeys != nil {
		t.Fatal("uniform encryption should not produce column keys")
	}

	// Round trip: unwrapping the footer key metadata returns the same DEK.
	got, err := tk.Unwrap(context.Background(), "token", props.FooterKeyMetadata)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if string(got) != string(props.FooterKey) {
		t.Fatal("unwrapped footer key does not match generated DEK")
	}
}

func TestBuildColumnKeys(t *testing.T) {
	tk := newTestToolkit(t)
	cfg := NewEncryptionConfiguration()
	cfg.FooterKey = "kf"
	cfg.ColumnKeys = "kcol:a,b"

	props, err := Build(context.Background(), cfg, tk, "token")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ck, ok := props.ColumnKeys["kcol"]
	if !ok {
		t.Fatal("expected a column key group for kcol")
	}
	if len(ck.Columns) != 2 {
		t.Fatalf("unexpected columns: %+v", ck.Columns)
	}

	got, err := tk.Unwrap(context.Background(), "token", ck.KeyMetadata)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if string(got) != string(ck.Key) {
		t.Fatal("unwrapped column key does not match generated DEK")
	}
}

func TestBuildConfigConflict(t *testing.T) {
	tk := newTestToolkit(t)
	cfg := NewEncryptionConfiguration()
	cfg.FooterKey = "kf"
	cfg.UniformEncryption = true
	cfg.ColumnKeys = "kcol:a"

	if _, err := Build(context.Background(), cfg, tk, "token"); !errors.Is(err, pqerrors.ErrConfigConflict) {
		t.Fatalf("got %v, want ErrConfigConflict", err)
	}
}

func TestBuildConfigMissing(t *testing.T) {
	tk := newTestToolkit(t)
	cfg := NewEncryptionConfiguration()
	cfg.FooterKey = "kf"

	if _, err := Build(context.Background(), cfg, tk, "token"); !errors.Is(err, pqerrors.ErrConfigMissing) {
		t.Fatalf("got %v, want ErrConfigMissing", err)
	}
}

func TestBuildInvalidKeyLength(t *testing.T) {
	tk := newTestToolkit(t)
	cfg := NewEncryptionConfiguration()
	cfg.FooterKey = "kf"
	cfg.UniformEncryption = true
	cfg.DataKeyLengthBits = 100

	if _, err := Build(context.Background(), cfg, tk, "token"); !errors.Is(err, pqerrors.ErrInvalidKeyLength) {
		t.Fatalf("got %v, want ErrInvalidKeyLength", err)
	}
}
