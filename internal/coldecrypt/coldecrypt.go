// Package coldecrypt implements the Column-Chunk Decryptor Factory: given
// a resolved column chunk's key and crypto metadata, it locates the
// chunk's byte range within the file and produces per-module decryptors
// for its dictionary page, data pages, and their headers.
package coldecrypt

import (
	"regexp"
	"strconv"

	"github.com/kenchrcum/pqcrypt/internal/aad"
	"github.com/kenchrcum/pqcrypt/internal/pcrypto"
	"github.com/kenchrcum/pqcrypt/internal/pmetadata"
)

// legacyDictHeaderPad covers a parquet-mr < 1.2.9 bug that under-counts a
// dictionary page's header bytes in total_compressed_size.
const legacyDictHeaderPad = 100

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// ChunkRange returns the byte range [start, start+length) a column
// chunk's pages occupy, including the dictionary page when present and
// the legacy padding workaround when writerVersion predates parquet-mr
// 1.2.9.
func ChunkRange(col *pmetadata.ColumnChunkMetaData, writerVersion string) (start, length int64) {
	start = col.DataPageOffset
	if col.HasDictionaryPage && col.DictionaryPageOffset > 0 && col.DictionaryPageOffset < start {
		start = col.DictionaryPageOffset
	}
	length = col.CompressedSize
	if needsLegacyDictHeaderPad(writerVersion) {
		length += legacyDictHeaderPad
	}
	return start, length
}

func needsLegacyDictHeaderPad(writerVersion string) bool {
	m := versionRe.FindStringSubmatch(writerVersion)
	if m == nil {
		return false
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	switch {
	case major != 1:
		return major < 1
	case minor != 2:
		return minor < 2
	default:
		return patch < 9
	}
}

// Decryptor decrypts every module within one column chunk, tracking the
// page_ordinal each module's AAD must carry: the dictionary page (if any)
// is ordinal 0, and data pages are numbered contiguously after it.
type Decryptor struct {
	algorithm pmetadata.Algorithm
	key       []byte
	fileAad   []byte
	rowGroup  uint16
	column    uint16

	nextDataOrdinal uint16
}

// NewDecryptor builds a Decryptor for one column chunk. hasDictionaryPage
// must match the chunk's HasDictionaryPage so data-page ordinals start
// from the correct offset.
func NewDecryptor(algorithm pmetadata.Algorithm, key, fileAad []byte, rowGroup, column uint16, hasDictionaryPage bool) *Decryptor {
	next := uint16(0)
	if hasDictionaryPage {
		next = 1
	}
	return &Decryptor{
		algorithm:       algorithm,
		key:             key,
		fileAad:         fileAad,
		rowGroup:        rowGroup,
		column:          column,
		nextDataOrdinal: next,
	}
}

// NextDataPageOrdinal reserves and returns the ordinal for the next data
// page; callers must consume ordinals strictly in file order and must
// not skip one even when a page will be filtered out downstream, since
// the AAD binds to file position rather than to emitted output.
func (d *Decryptor) NextDataPageOrdinal() uint16 {
	ord := d.nextDataOrdinal
	d.nextDataOrdinal++
	return ord
}

func (d *Decryptor) DecryptDictionaryPageHeader(framed []byte) ([]byte, error) {
	return d.decryptModule(framed, aad.DictionaryPageHeader, 0)
}

func (d *Decryptor) DecryptDictionaryPage(framed []byte) ([]byte, error) {
	return d.decryptModule(framed, aad.DictionaryPage, 0)
}

func (d *Decryptor) DecryptDataPageHeader(ordinal uint16, framed []byte) ([]byte, error) {
	return d.decryptModule(framed, aad.DataPageHeader, ordinal)
}

func (d *Decryptor) DecryptDataPage(ordinal uint16, framed []byte) ([]byte, error) {
	return d.decryptModule(framed, aad.DataPage, ordinal)
}

// decryptModule authenticates page headers (and, under AesGcmV1, page
// bodies) via GCM; under AesGcmCtrV1, page bodies are CTR-only, relying
// on the column's metadata GCM tag to authenticate the chunk as a whole.
func (d *Decryptor) decryptModule(framed []byte, kind aad.ModuleKind, pageOrdinal uint16) ([]byte, error) {
	if d.algorithm == pmetadata.AesGcmCtrV1 && isBulkDataKind(kind) {
		return pcrypto.DecryptCTR(framed, d.key)
	}
	moduleAad := aad.Module(d.fileAad, kind, d.rowGroup, d.column, pageOrdinal)
	return pcrypto.DecryptGCM(framed, d.key, moduleAad)
}

func isBulkDataKind(kind aad.ModuleKind) bool {
	return kind == aad.DataPage || kind == aad.DictionaryPage
}
