package coldecrypt

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kenchrcum/pqcrypt/internal/pcrypto"
	"github.com/kenchrcum/pqcrypt/internal/pmetadata"
	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

func testKey() []byte {
	k := make([]byte, 16)
	for i := range k {
		k[i] = byte(i + 7)
	}
	return k
}

func TestChunkRangeNoDictionary(t *testing.T) {
	col := &pmetadata.ColumnChunkMetaData{DataPageOffset: 100, CompressedSize: 50}
	start, length := ChunkRange(col, "parquet-cpp 12.0.0")
	if start != 100 || length != 50 {
		t.Fatalf("got (%d,%d), want (100,50)", start, length)
	}
}

func TestChunkRangeWithDictionary(t *testing.T) {
	col := &pmetadata.ColumnChunkMetaData{
		DataPageOffset:       200,
		DictionaryPageOffset: 120,
		HasDictionaryPage:    true,
		CompressedSize:       100,
	}
	start, length := ChunkRange(col, "parquet-mr 1.10.0")
	if start != 120 || length != 100 {
		t.Fatalf("got (%d,%d), want (120,100)", start, length)
	}
}

func TestChunkRangeLegacyPad(t *testing.T) {
	col := &pmetadata.ColumnChunkMetaData{DataPageOffset: 0, CompressedSize: 50}

	for _, tc := range []struct {
		writerVersion string
		wantPad       bool
	}{
		{"parquet-mr version 1.2.8", true},
		{"parquet-mr version 1.1.9", true},
		{"parquet-mr version 1.2.9", false},
		{"parquet-mr version 1.3.0", false},
		{"parquet-mr version 2.0.0", false},
		{"", false},
	} {
		_, length := ChunkRange(col, tc.writerVersion)
		gotPad := length == 50+legacyDictHeaderPad
		if gotPad != tc.wantPad {
			t.Errorf("writerVersion=%q: pad applied=%v, want %v", tc.writerVersion, gotPad, tc.wantPad)
		}
	}
}

func TestDecryptorGCMRoundTrip(t *testing.T) {
	key := testKey()
	fileAad := []byte("file-aad")
	d := NewDecryptor(pmetadata.AesGcmV1, key, fileAad, 0, 2, true)

	dictHeader := []byte("dictionary page header bytes")
	framedHeader, err := pcrypto.EncryptGCM(dictHeader, key, moduleAadFor(fileAad, 5, 0, 2, 0))
	if err != nil {
		t.Fatal(err)
	}
	got, err := d.DecryptDictionaryPageHeader(framedHeader)
	if err != nil {
		t.Fatalf("DecryptDictionaryPageHeader: %v", err)
	}
	if !bytes.Equal(got, dictHeader) {
		t.Fatalf("round trip mismatch: got %q", got)
	}

	// Under AesGcmV1, data pages are GCM too.
	ord := d.NextDataPageOrdinal()
	if ord != 1 {
		t.Fatalf("first data page ordinal = %d, want 1 (dictionary occupies 0)", ord)
	}
	page := []byte("data page bytes")
	framedPage, err := pcrypto.EncryptGCM(page, key, moduleAadFor(fileAad, 2, 0, 2, ord))
	if err != nil {
		t.Fatal(err)
	}
	gotPage, err := d.DecryptDataPage(ord, framedPage)
	if err != nil {
		t.Fatalf("DecryptDataPage: %v", err)
	}
	if !bytes.Equal(gotPage, page) {
		t.Fatalf("round trip mismatch: got %q", gotPage)
	}
}

func TestDecryptorCTRDataPageUnderGcmCtrV1(t *testing.T) {
	key := testKey()
	fileAad := []byte("file-aad")
	d := NewDecryptor(pmetadata.AesGcmCtrV1, key, fileAad, 1, 0, false)

	if d.NextDataPageOrdinal() != 0 {
		t.Fatal("without a dictionary page, first data page ordinal should be 0")
	}

	plaintext := []byte("bulk column values")
	framed, err := pcrypto.EncryptCTR(plaintext, key)
	if err != nil {
		t.Fatal(err)
	}
	got, err := d.DecryptDataPage(0, framed)
	if err != nil {
		t.Fatalf("DecryptDataPage (CTR): %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestDecryptorTagTamperFails(t *testing.T) {
	key := testKey()
	fileAad := []byte("file-aad")
	d := NewDecryptor(pmetadata.AesGcmV1, key, fileAad, 0, 0, false)

	header := []byte("header bytes")
	framed, err := pcrypto.EncryptGCM(header, key, moduleAadFor(fileAad, 4, 0, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte{}, framed...)
	tampered[len(tampered)-1] ^= 0x01

	if _, err := d.DecryptDataPageHeader(0, tampered); !errors.Is(err, pqerrors.ErrAuthenticationFailed) {
		t.Fatalf("got %v, want ErrAuthenticationFailed", err)
	}
}

// moduleAadFor mirrors internal/aad.Module so tests can build the exact
// ciphertext a real writer would have produced without importing the
// unexported parts of this package.
func moduleAadFor(fileAad []byte, kind byte, rowGroup, column, page uint16) []byte {
	out := append([]byte{}, fileAad...)
	out = append(out, kind)
	le := func(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
	switch kind {
	case 0:
	case 1:
		out = append(out, le(rowGroup)...)
		out = append(out, le(column)...)
	default:
		out = append(out, le(rowGroup)...)
		out = append(out, le(column)...)
		out = append(out, le(page)...)
	}
	return out
}
