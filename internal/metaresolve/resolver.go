// Package metaresolve implements the Metadata Resolver: it walks a parsed
// FileMetaData's row groups and column chunks, resolving each encrypted
// column's key (from an override, the column-key cache, or a
// DecryptionKeyRetriever) and decrypting its ColumnMetaData on demand.
package metaresolve

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kenchrcum/pqcrypt/internal/aad"
	"github.com/kenchrcum/pqcrypt/internal/audit"
	"github.com/kenchrcum/pqcrypt/internal/codec"
	"github.com/kenchrcum/pqcrypt/internal/dkr"
	"github.com/kenchrcum/pqcrypt/internal/metrics"
	"github.com/kenchrcum/pqcrypt/internal/pcrypto"
	"github.com/kenchrcum/pqcrypt/internal/pmetadata"
	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

// Options configures a Resolver.
type Options struct {
	Codec codec.Codec

	// Retriever resolves a column's key from its stored key metadata.
	// Required whenever the file contains any EncryptedWithColumnKey
	// column; an EncryptedWithFooterKey-only file can omit it as long as
	// FooterKey is supplied directly.
	Retriever dkr.DecryptionKeyRetriever

	// FooterKey is the already-resolved footer key (from the File Footer
	// Reader), reused for every EncryptedWithFooterKey column.
	FooterKey []byte

	// FileAad is the file-level AAD prefix from the File Footer Reader;
	// nil for a fully unencrypted file.
	FileAad []byte

	// ColumnKeyOverrides lets a caller pin a column's key directly
	// (dot-joined PathInSchema as the map key), bypassing both the cache
	// and the retriever.
	ColumnKeyOverrides map[string][]byte

	// Audit, if set, records every column key resolution and hidden
	// column. Metrics, if set, observes cache hits/misses and modules
	// decrypted. Both are optional; a nil value disables the
	// corresponding observation.
	Audit   audit.Logger
	Metrics *metrics.Metrics
}

// Resolver exposes row-group/column views over one file's metadata,
// resolving keys and decrypting column metadata lazily as columns are
// visited.
type Resolver struct {
	meta *pmetadata.FileMetaData
	opts Options

	mu             sync.Mutex
	columnKeyCache map[string][]byte
}

func New(meta *pmetadata.FileMetaData, opts Options) *Resolver {
	return &Resolver{meta: meta, opts: opts, columnKeyCache: make(map[string][]byte)}
}

func (r *Resolver) NumRowGroups() int { return len(r.meta.RowGroups) }

// RowGroup returns a view over row group i.
func (r *Resolver) RowGroup(i int) (*RowGroupView, error) {
	if i < 0 || i >= len(r.meta.RowGroups) {
		return nil, fmt.Errorf("metaresolve: row group index %d out of range", i)
	}
	return &RowGroupView{r: r, meta: &r.meta.RowGroups[i]}, nil
}

// RowGroupView is one row group's column chunks, not yet resolved.
type RowGroupView struct {
	r    *Resolver
	meta *pmetadata.RowGroupMetaData
}

func (rg *RowGroupView) Ordinal() int16    { return rg.meta.Ordinal }
func (rg *RowGroupView) NumRows() int64    { return rg.meta.NumRows }
func (rg *RowGroupView) NumColumns() int   { return len(rg.meta.Columns) }

// Column resolves column i: its key (if encrypted) and, if the column's
// metadata is itself encrypted, its decrypted ColumnMetaData. A column
// whose key the KMS denies surfaces as *pqerrors.HiddenColumn rather than
// a fatal error, per the core's recoverable-error contract.
func (rg *RowGroupView) Column(i int) (*ColumnView, error) {
	if i < 0 || i >= len(rg.meta.Columns) {
		return nil, fmt.Errorf("metaresolve: column index %d out of range", i)
	}
	col := &rg.meta.Columns[i]
	r := rg.r

	switch col.Crypto.Kind {
	case pmetadata.Unencrypted:
		return &ColumnView{Meta: col}, nil

	case pmetadata.EncryptedWithFooterKey:
		if len(r.opts.FooterKey) == 0 {
			return nil, pqerrors.ErrNoFooterKey
		}
		if err := r.maybeDecryptColumnMetadata(col, r.opts.FooterKey, rg.meta.Ordinal, int16(i)); err != nil {
			return nil, err
		}
		col.SetResolvedKey(r.opts.FooterKey)
		if r.opts.Audit != nil {
			r.opts.Audit.LogColumnKeyResolved("", col.PathInSchema)
		}
		return &ColumnView{Meta: col, Key: r.opts.FooterKey}, nil

	case pmetadata.EncryptedWithColumnKey:
		key, err := r.resolveColumnKey(col)
		if err != nil {
			if errors.Is(err, pqerrors.ErrKeyAccessDenied) {
				if r.opts.Audit != nil {
					r.opts.Audit.LogHiddenColumn(col.PathInSchema, err)
				}
				if r.opts.Metrics != nil {
					r.opts.Metrics.RecordHiddenColumn()
				}
				return nil, &pqerrors.HiddenColumn{Path: col.PathInSchema}
			}
			return nil, err
		}
		if err := r.maybeDecryptColumnMetadata(col, key, rg.meta.Ordinal, int16(i)); err != nil {
			return nil, err
		}
		col.SetResolvedKey(key)
		if r.opts.Audit != nil {
			r.opts.Audit.LogColumnKeyResolved("", col.PathInSchema)
		}
		return &ColumnView{Meta: col, Key: key}, nil

	default:
		return nil, fmt.Errorf("metaresolve: unknown ColumnCryptoKind %d", col.Crypto.Kind)
	}
}

// ColumnView is a resolved column chunk: its (possibly decrypted)
// metadata and the key later page reads decrypt under, nil for an
// unencrypted column.
type ColumnView struct {
	Meta *pmetadata.ColumnChunkMetaData
	Key  []byte
}

func (r *Resolver) resolveColumnKey(col *pmetadata.ColumnChunkMetaData) ([]byte, error) {
	path := strings.Join(col.PathInSchema, ".")

	if override, ok := r.opts.ColumnKeyOverrides[path]; ok {
		return override, nil
	}

	r.mu.Lock()
	cached, ok := r.columnKeyCache[path]
	r.mu.Unlock()
	if ok {
		if r.opts.Metrics != nil {
			r.opts.Metrics.RecordCacheHit("column_key")
		}
		return cached, nil
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordCacheMiss("column_key")
	}

	if r.opts.Retriever == nil {
		return nil, fmt.Errorf("metaresolve: column %q is encrypted with a column key but no DecryptionKeyRetriever is configured", path)
	}
	key, err := r.opts.Retriever.GetKey(col.Crypto.KeyMetadata)
	if err != nil {
		if errors.Is(err, pqerrors.ErrKeyAccessDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("metaresolve: resolving key for column %q: %w", path, err)
	}

	r.mu.Lock()
	r.columnKeyCache[path] = key
	r.mu.Unlock()
	return key, nil
}

// maybeDecryptColumnMetadata decrypts col.EncryptedColumnMetadata in
// place (merging the decoded fields into col) if present; a column whose
// metadata travels in the clear (non-uniform encryption layouts sometimes
// leave ColumnMetaData itself unencrypted) has nothing to do here.
func (r *Resolver) maybeDecryptColumnMetadata(col *pmetadata.ColumnChunkMetaData, key []byte, rgOrdinal, colOrdinal int16) error {
	if len(col.EncryptedColumnMetadata) == 0 {
		return nil
	}
	columnAad := aad.Module(r.opts.FileAad, aad.ColumnMetaData, uint16(rgOrdinal), uint16(colOrdinal), 0)
	plaintext, err := pcrypto.DecryptGCM(col.EncryptedColumnMetadata, key, columnAad)
	if err != nil {
		return err
	}
	decoded, err := r.opts.Codec.DecodeColumnMetaData(plaintext)
	if err != nil {
		return fmt.Errorf("metaresolve: decoding ColumnMetaData: %w", err)
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordModuleDecrypted("ColumnMetaData")
	}

	col.PathInSchema = decoded.PathInSchema
	col.FileOffset = decoded.FileOffset
	col.DataPageOffset = decoded.DataPageOffset
	col.DictionaryPageOffset = decoded.DictionaryPageOffset
	col.HasDictionaryPage = decoded.HasDictionaryPage
	col.CompressedSize = decoded.CompressedSize
	col.UncompressedSize = decoded.UncompressedSize
	col.NumValues = decoded.NumValues
	col.Codec = decoded.Codec
	col.Encodings = decoded.Encodings
	return nil
}
