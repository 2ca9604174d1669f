// Package pmetadata holds the in-memory representation of a Parquet
// file's structural metadata: the algorithm/AAD envelope, the row-group
// and column-chunk tree, and the crypto annotations attached to each
// column. Values here are produced by a Codec (internal/codec) from the
// on-disk Thrift-encoded bytes, or constructed directly by tests.
package pmetadata

// Algorithm is the tagged two-case encryption algorithm. AesGcmV1
// authenticates every module; AesGcmCtrV1 authenticates metadata but
// leaves data pages CTR-only (relying on the metadata module's tag to
// authenticate the column as a whole).
type Algorithm int

const (
	AesGcmV1 Algorithm = iota
	AesGcmCtrV1
)

func (a Algorithm) String() string {
	switch a {
	case AesGcmV1:
		return "AesGcmV1"
	case AesGcmCtrV1:
		return "AesGcmCtrV1"
	default:
		return "Unknown"
	}
}

// AadInfo is the per-file AAD sub-structure carried by an
// EncryptionAlgorithm: an optional externally supplied prefix, the
// file-unique random suffix, and whether the prefix must be supplied by
// the reader rather than read from the file.
type AadInfo struct {
	AadPrefix       []byte
	AadFileUnique   []byte
	SupplyAadPrefix bool
}

// FileCryptoMetaData is present only when the footer itself is
// encrypted (the PARE trailer).
type FileCryptoMetaData struct {
	Algorithm   Algorithm
	Aad         AadInfo
	KeyMetadata []byte
}

// ColumnCryptoKind distinguishes the ColumnCrypto variants: footer key,
// column key, or unencrypted.
type ColumnCryptoKind int

const (
	EncryptedWithFooterKey ColumnCryptoKind = iota
	EncryptedWithColumnKey
	Unencrypted
)

// ColumnCrypto tags how (or whether) a column chunk is encrypted.
type ColumnCrypto struct {
	Kind        ColumnCryptoKind
	PathInSchema []string // set iff Kind == EncryptedWithColumnKey
	KeyMetadata  []byte   // set iff Kind == EncryptedWithColumnKey
}

// ColumnChunkMetaData is the logical column chunk record.
type ColumnChunkMetaData struct {
	PathInSchema         []string
	FileOffset           int64
	DataPageOffset       int64
	DictionaryPageOffset int64 // 0 if absent
	HasDictionaryPage    bool
	CompressedSize       int64
	UncompressedSize     int64
	NumValues            int64
	Codec                string
	Encodings            []string
	Crypto               ColumnCrypto
	EncryptedColumnMetadata []byte // set when the column's metadata is encrypted (column key or footer key)

	// resolvedKey is filled in by the metadata resolver (Component H) once
	// the column's key has been obtained, and cached for the life of the
	// reader so later page reads don't re-enter the key toolkit.
	resolvedKey []byte
}

func (c *ColumnChunkMetaData) ResolvedKey() ([]byte, bool) {
	return c.resolvedKey, c.resolvedKey != nil
}

func (c *ColumnChunkMetaData) SetResolvedKey(key []byte) {
	c.resolvedKey = key
}

// RowGroupMetaData groups the column chunks of one row group.
type RowGroupMetaData struct {
	Ordinal       int16
	NumRows       int64
	TotalByteSize int64
	Columns       []ColumnChunkMetaData
}

// FileMetaData is the root of the parsed (and, for encrypted files,
// already-decrypted) footer.
type FileMetaData struct {
	Schema        []string // flattened leaf column paths, in order
	NumRows       int64
	CreatedBy     string
	WriterVersion string
	RowGroups     []RowGroupMetaData
	CryptoMetaData *FileCryptoMetaData // non-nil only for encrypted-footer files

	// EncryptionAlgorithm and Aad are set when the file carries a
	// plaintext footer but some of its columns are still encrypted
	// (uniform encryption with plaintext_footer=true). They are nil for
	// a fully unencrypted file and nil for an encrypted-footer file,
	// whose equivalent envelope lives in CryptoMetaData instead — the two
	// are never both set.
	EncryptionAlgorithm *Algorithm
	Aad                 *AadInfo

	// FooterKeyMetadata identifies the footer key for a plaintext,
	// signed footer. It is nil when the footer is unsigned or when the
	// footer itself is encrypted (the encrypted-footer case carries its
	// own KeyMetadata on FileCryptoMetaData instead).
	FooterKeyMetadata []byte
}
