// Package pqcrypt is the Reader Facade: it ties the File Footer Reader,
// Metadata Resolver, and Column-Chunk Decryptor Factory together behind
// one OpenFile entry point, and exposes row-group/column views a caller
// can walk without touching any of those components directly.
package pqcrypt

import (
	"fmt"
	"io"
	"sync"

	"github.com/kenchrcum/pqcrypt/internal/audit"
	"github.com/kenchrcum/pqcrypt/internal/byteio"
	"github.com/kenchrcum/pqcrypt/internal/codec"
	"github.com/kenchrcum/pqcrypt/internal/coldecrypt"
	"github.com/kenchrcum/pqcrypt/internal/dkr"
	"github.com/kenchrcum/pqcrypt/internal/footer"
	"github.com/kenchrcum/pqcrypt/internal/metaresolve"
	"github.com/kenchrcum/pqcrypt/internal/metrics"
	"github.com/kenchrcum/pqcrypt/internal/pmetadata"
)

// Options collects every OpenFile tuning knob; Option functions mutate
// it before the footer is read.
type Options struct {
	Codec                         codec.Codec
	Retriever                     dkr.DecryptionKeyRetriever
	AadPrefix                     []byte
	AadPrefixVerifier             func([]byte) error
	CheckPlaintextFooterIntegrity bool
	ColumnKeyOverrides            map[string][]byte
	Audit                         audit.Logger
	Metrics                       *metrics.Metrics
}

type Option func(*Options)

func WithCodec(c codec.Codec) Option { return func(o *Options) { o.Codec = c } }

func WithRetriever(r dkr.DecryptionKeyRetriever) Option {
	return func(o *Options) { o.Retriever = r }
}

func WithAadPrefix(prefix []byte) Option { return func(o *Options) { o.AadPrefix = prefix } }

func WithAadPrefixVerifier(v func([]byte) error) Option {
	return func(o *Options) { o.AadPrefixVerifier = v }
}

func WithPlaintextFooterIntegrityCheck() Option {
	return func(o *Options) { o.CheckPlaintextFooterIntegrity = true }
}

func WithColumnKeyOverrides(overrides map[string][]byte) Option {
	return func(o *Options) { o.ColumnKeyOverrides = overrides }
}

func WithAudit(l audit.Logger) Option { return func(o *Options) { o.Audit = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Options) { o.Metrics = m } }

// Reader is an opened Parquet file: its metadata has already been
// decrypted and validated, and every row group/column is available for
// on-demand key resolution and page decryption.
type Reader struct {
	src           byteio.Source
	meta          *pmetadata.FileMetaData
	resolver      *metaresolve.Resolver
	fileAad       []byte
	writerVersion string
	algorithm     pmetadata.Algorithm

	mu     sync.Mutex
	closed bool
}

// OpenFile reads and decrypts src's footer, then prepares the metadata
// resolver over it. It does not eagerly resolve any column key; that
// happens the first time a caller asks for that column.
func OpenFile(src byteio.Source, opts ...Option) (*Reader, error) {
	o := Options{Codec: codec.NewJSONCodec()}
	for _, fn := range opts {
		fn(&o)
	}

	res, err := footer.Read(src, footer.Options{
		Codec:                         o.Codec,
		Retriever:                     o.Retriever,
		AadPrefix:                     o.AadPrefix,
		AadPrefixVerifier:             o.AadPrefixVerifier,
		CheckPlaintextFooterIntegrity: o.CheckPlaintextFooterIntegrity,
		Audit:                         o.Audit,
		Metrics:                       o.Metrics,
	})
	if err != nil {
		return nil, err
	}

	resolver := metaresolve.New(res.Meta, metaresolve.Options{
		Codec:              o.Codec,
		Retriever:          o.Retriever,
		FooterKey:          res.FooterKey,
		FileAad:            res.FileAad,
		ColumnKeyOverrides: o.ColumnKeyOverrides,
		Audit:              o.Audit,
		Metrics:            o.Metrics,
	})

	return &Reader{
		src:           src,
		meta:          res.Meta,
		resolver:      resolver,
		fileAad:       res.FileAad,
		writerVersion: res.Meta.WriterVersion,
		algorithm:     fileAlgorithm(res.Meta),
	}, nil
}

func fileAlgorithm(m *pmetadata.FileMetaData) pmetadata.Algorithm {
	switch {
	case m.CryptoMetaData != nil:
		return m.CryptoMetaData.Algorithm
	case m.EncryptionAlgorithm != nil:
		return *m.EncryptionAlgorithm
	default:
		return pmetadata.AesGcmV1
	}
}

func (r *Reader) NumRowGroups() int { return r.resolver.NumRowGroups() }

func (r *Reader) Schema() []string { return r.meta.Schema }

func (r *Reader) NumRows() int64 { return r.meta.NumRows }

func (r *Reader) RowGroup(i int) (*RowGroupReader, error) {
	view, err := r.resolver.RowGroup(i)
	if err != nil {
		return nil, err
	}
	return &RowGroupReader{r: r, view: view}, nil
}

// Close closes the byte source when it is an io.Closer and clears the
// resolved key recorded on each column chunk's metadata. Keys cached by the
// resolver or held by ColumnChunkReaders already handed out are not cleared,
// and no key bytes are zeroed. It is idempotent: a second call is a no-op.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	for i := range r.meta.RowGroups {
		cols := r.meta.RowGroups[i].Columns
		for j := range cols {
			cols[j].SetResolvedKey(nil)
		}
	}

	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// RowGroupReader is one row group's column chunks, not yet resolved.
type RowGroupReader struct {
	r    *Reader
	view *metaresolve.RowGroupView
}

func (rg *RowGroupReader) NumColumns() int { return rg.view.NumColumns() }
func (rg *RowGroupReader) NumRows() int64  { return rg.view.NumRows() }

// Column resolves column i's key (surfacing *pqerrors.HiddenColumn if
// the KMS denies it) and returns a reader bound to its byte range and,
// if encrypted, its per-module Decryptor.
func (rg *RowGroupReader) Column(i int) (*ColumnChunkReader, error) {
	col, err := rg.view.Column(i)
	if err != nil {
		return nil, err
	}

	var dec *coldecrypt.Decryptor
	if col.Key != nil {
		dec = coldecrypt.NewDecryptor(rg.r.algorithm, col.Key, rg.r.fileAad, uint16(rg.view.Ordinal()), uint16(i), col.Meta.HasDictionaryPage)
	}

	start, length := coldecrypt.ChunkRange(col.Meta, rg.r.writerVersion)
	if start < 0 || length < 0 {
		return nil, fmt.Errorf("pqcrypt: invalid column chunk range [%d, %d)", start, start+length)
	}

	return &ColumnChunkReader{
		Meta:      col.Meta,
		Key:       col.Key,
		Decryptor: dec,
		Chunk:     io.NewSectionReader(rg.r.src, start, length),
	}, nil
}

// ColumnChunkReader is a resolved column chunk: its metadata, key (nil
// if unencrypted), a Decryptor for its pages, and a SectionReader over
// its raw on-disk bytes. Splitting that byte range into page headers and
// bodies is the page/value decoder's job (out of this core's scope); the
// Decryptor is what that decoder calls per module.
type ColumnChunkReader struct {
	Meta      *pmetadata.ColumnChunkMetaData
	Key       []byte
	Decryptor *coldecrypt.Decryptor
	Chunk     *io.SectionReader
}
