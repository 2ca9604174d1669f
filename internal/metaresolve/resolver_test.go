package metaresolve

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kenchrcum/pqcrypt/internal/aad"
	"github.com/kenchrcum/pqcrypt/internal/codec"
	"github.com/kenchrcum/pqcrypt/internal/dkr"
	"github.com/kenchrcum/pqcrypt/internal/pcrypto"
	"github.com/kenchrcum/pqcrypt/internal/pmetadata"
	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

func footerKey() []byte {
	k := make([]byte, 16)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func columnKey() []byte {
	k := make([]byte, 16)
	for i := range k {
		k[i] = byte(i + 100)
	}
	return k
}

func buildEncryptedColumnMetadata(t *testing.T, c codec.Codec, key, fileAad []byte, rgOrd, colOrd int16, decoded *pmetadata.ColumnChunkMetaData) []byte {
	t.Helper()
	plain, err := c.EncodeColumnMetaData(decoded)
	if err != nil {
		t.Fatal(err)
	}
	columnAad := aad.Module(fileAad, aad.ColumnMetaData, uint16(rgOrd), uint16(colOrd), 0)
	enc, err := pcrypto.EncryptGCM(plain, key, columnAad)
	if err != nil {
		t.Fatal(err)
	}
	return enc
}

func TestColumnUnencrypted(t *testing.T) {
	meta := &pmetadata.FileMetaData{
		RowGroups: []pmetadata.RowGroupMetaData{
			{Ordinal: 0, Columns: []pmetadata.ColumnChunkMetaData{
				{PathInSchema: []string{"a"}, Crypto: pmetadata.ColumnCrypto{Kind: pmetadata.Unencrypted}},
			}},
		},
	}
	r := New(meta, Options{})
	rg, err := r.RowGroup(0)
	if err != nil {
		t.Fatal(err)
	}
	col, err := rg.Column(0)
	if err != nil {
		t.Fatal(err)
	}
	if col.Key != nil {
		t.Fatalf("expected nil key for unencrypted column, got %v", col.Key)
	}
}

func TestColumnEncryptedWithFooterKey(t *testing.T) {
	c := codec.NewJSONCodec()
	fk := footerKey()
	fileAad := aad.FileAad(nil, []byte("uniq"))

	meta := &pmetadata.FileMetaData{
		RowGroups: []pmetadata.RowGroupMetaData{
			{Ordinal: 0, Columns: []pmetadata.ColumnChunkMetaData{
				{
					PathInSchema: []string{"b"},
					Crypto:       pmetadata.ColumnCrypto{Kind: pmetadata.EncryptedWithFooterKey},
				},
			}},
		},
	}
	decoded := &pmetadata.ColumnChunkMetaData{PathInSchema: []string{"b"}, NumValues: 3, CompressedSize: 100}
	meta.RowGroups[0].Columns[0].EncryptedColumnMetadata = buildEncryptedColumnMetadata(t, c, fk, fileAad, 0, 0, decoded)

	r := New(meta, Options{Codec: c, FooterKey: fk, FileAad: fileAad})
	rg, _ := r.RowGroup(0)
	col, err := rg.Column(0)
	if err != nil {
		t.Fatalf("Column: %v", err)
	}
	if !bytes.Equal(col.Key, fk) {
		t.Fatal("expected footer key as column key")
	}
	if col.Meta.NumValues != 3 || col.Meta.CompressedSize != 100 {
		t.Fatalf("decrypted metadata not merged: %+v", col.Meta)
	}
}

func TestColumnEncryptedWithColumnKeyViaRetriever(t *testing.T) {
	c := codec.NewJSONCodec()
	ck := columnKey()
	fileAad := aad.FileAad(nil, []byte("uniq"))

	meta := &pmetadata.FileMetaData{
		RowGroups: []pmetadata.RowGroupMetaData{
			{Ordinal: 0, Columns: []pmetadata.ColumnChunkMetaData{
				{
					PathInSchema: []string{"a"},
					Crypto:       pmetadata.ColumnCrypto{Kind: pmetadata.EncryptedWithColumnKey, KeyMetadata: []byte("col-key-ref")},
				},
			}},
		},
	}
	decoded := &pmetadata.ColumnChunkMetaData{PathInSchema: []string{"a"}, NumValues: 5}
	meta.RowGroups[0].Columns[0].EncryptedColumnMetadata = buildEncryptedColumnMetadata(t, c, ck, fileAad, 0, 0, decoded)

	calls := 0
	retriever := dkr.Func(func(keyMetadata []byte) ([]byte, error) {
		calls++
		if string(keyMetadata) != "col-key-ref" {
			t.Fatalf("unexpected key metadata %q", keyMetadata)
		}
		return ck, nil
	})

	r := New(meta, Options{Codec: c, Retriever: retriever, FileAad: fileAad})
	rg, _ := r.RowGroup(0)

	col, err := rg.Column(0)
	if err != nil {
		t.Fatalf("Column: %v", err)
	}
	if !bytes.Equal(col.Key, ck) {
		t.Fatal("expected resolved column key")
	}
	if col.Meta.NumValues != 5 {
		t.Fatalf("decrypted metadata not merged: %+v", col.Meta)
	}

	// A second resolution of the same column should hit the cache, not
	// call the retriever again.
	if _, err := rg.Column(0); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("retriever called %d times, want 1 (cache should have served the second lookup)", calls)
	}
}

func TestColumnOverrideBypassesRetriever(t *testing.T) {
	c := codec.NewJSONCodec()
	ck := columnKey()
	fileAad := aad.FileAad(nil, []byte("uniq"))

	meta := &pmetadata.FileMetaData{
		RowGroups: []pmetadata.RowGroupMetaData{
			{Ordinal: 0, Columns: []pmetadata.ColumnChunkMetaData{
				{PathInSchema: []string{"a"}, Crypto: pmetadata.ColumnCrypto{Kind: pmetadata.EncryptedWithColumnKey, KeyMetadata: []byte("ref")}},
			}},
		},
	}
	decoded := &pmetadata.ColumnChunkMetaData{PathInSchema: []string{"a"}}
	meta.RowGroups[0].Columns[0].EncryptedColumnMetadata = buildEncryptedColumnMetadata(t, c, ck, fileAad, 0, 0, decoded)

	retriever := dkr.Func(func([]byte) ([]byte, error) {
		t.Fatal("retriever should not be called when an override is configured")
		return nil, nil
	})

	r := New(meta, Options{
		Codec:              c,
		Retriever:          retriever,
		FileAad:            fileAad,
		ColumnKeyOverrides: map[string][]byte{"a": ck},
	})
	rg, _ := r.RowGroup(0)
	col, err := rg.Column(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(col.Key, ck) {
		t.Fatal("expected override key")
	}
}

func TestColumnKeyAccessDeniedYieldsHiddenColumn(t *testing.T) {
	meta := &pmetadata.FileMetaData{
		RowGroups: []pmetadata.RowGroupMetaData{
			{Ordinal: 0, Columns: []pmetadata.ColumnChunkMetaData{
				{PathInSchema: []string{"secret"}, Crypto: pmetadata.ColumnCrypto{Kind: pmetadata.EncryptedWithColumnKey, KeyMetadata: []byte("ref")}},
			}},
		},
	}
	retriever := dkr.Func(func([]byte) ([]byte, error) {
		return nil, pqerrors.ErrKeyAccessDenied
	})
	r := New(meta, Options{Codec: codec.NewJSONCodec(), Retriever: retriever})
	rg, _ := r.RowGroup(0)

	_, err := rg.Column(0)
	var hidden *pqerrors.HiddenColumn
	if !errors.As(err, &hidden) {
		t.Fatalf("got %v, want *pqerrors.HiddenColumn", err)
	}
	if len(hidden.Path) != 1 || hidden.Path[0] != "secret" {
		t.Fatalf("unexpected hidden column path: %v", hidden.Path)
	}
	if !errors.Is(err, pqerrors.ErrKeyAccessDenied) {
		t.Fatal("HiddenColumn must unwrap to ErrKeyAccessDenied")
	}
}

func TestColumnEncryptedWithFooterKeyButNoFooterKey(t *testing.T) {
	meta := &pmetadata.FileMetaData{
		RowGroups: []pmetadata.RowGroupMetaData{
			{Ordinal: 0, Columns: []pmetadata.ColumnChunkMetaData{
				{PathInSchema: []string{"a"}, Crypto: pmetadata.ColumnCrypto{Kind: pmetadata.EncryptedWithFooterKey}},
			}},
		},
	}
	r := New(meta, Options{Codec: codec.NewJSONCodec()})
	rg, _ := r.RowGroup(0)
	if _, err := rg.Column(0); !errors.Is(err, pqerrors.ErrNoFooterKey) {
		t.Fatalf("got %v, want ErrNoFooterKey", err)
	}
}
