// Package footer implements the File Footer Reader: locating the 8-byte
// trailer, classifying a file as plaintext-footer (PAR1) or
// encrypted-footer (PARE), and producing a decrypted, decoded
// FileMetaData plus the file-level AAD every later module derives its
// own AAD from.
package footer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/kenchrcum/pqcrypt/internal/aad"
	"github.com/kenchrcum/pqcrypt/internal/audit"
	"github.com/kenchrcum/pqcrypt/internal/byteio"
	"github.com/kenchrcum/pqcrypt/internal/codec"
	"github.com/kenchrcum/pqcrypt/internal/dkr"
	"github.com/kenchrcum/pqcrypt/internal/metrics"
	"github.com/kenchrcum/pqcrypt/internal/pcrypto"
	"github.com/kenchrcum/pqcrypt/internal/pmetadata"
	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

const (
	trailerSize     = 8
	signatureSize   = 12 + 16 // nonce || tag, see pcrypto.VerifySignedFooter
	magicPlaintext  = "PAR1"
	magicEncrypted  = "PARE"
)

// Options configures how a footer is opened. Codec is required; Retriever
// is required for any file whose footer is encrypted or signed.
type Options struct {
	Codec     codec.Codec
	Retriever dkr.DecryptionKeyRetriever

	// AadPrefix is the reader-supplied AAD prefix (FileDecryptionProperties
	// equivalent). Required when the file's AadInfo.SupplyAadPrefix is set.
	AadPrefix []byte

	// AadPrefixVerifier, if set, is called with the resolved AAD prefix
	// (whichever of AadPrefix or the file's own stored prefix wins)
	// before it is used, so callers can reject a file encrypted for a
	// different tenant even when the bytes would otherwise decrypt.
	AadPrefixVerifier func(prefix []byte) error

	// CheckPlaintextFooterIntegrity verifies the 28-byte signature
	// trailing a signed plaintext footer. It has no effect on an
	// encrypted footer, which is always authenticated by GCM.
	CheckPlaintextFooterIntegrity bool

	// Audit and Metrics are optional observers; a nil value disables
	// the corresponding observation.
	Audit   audit.Logger
	Metrics *metrics.Metrics
}

// Result is the decoded footer plus the file-level AAD, or a nil FileAad
// for a fully unencrypted file.
type Result struct {
	Meta            *pmetadata.FileMetaData
	FileAad         []byte
	FooterEncrypted bool

	// FooterKey is the resolved footer key, present whenever the file
	// carries any encryption (encrypted footer, or plaintext footer with
	// encrypted columns) so the Metadata Resolver can reuse it for
	// EncryptedWithFooterKey columns without a second retriever call.
	FooterKey []byte
}

// Read opens the footer of the file backed by src.
func Read(src byteio.Source, opts Options) (*Result, error) {
	if opts.Codec == nil {
		return nil, fmt.Errorf("footer: Options.Codec is required")
	}
	if opts.Metrics != nil {
		start := time.Now()
		defer func() { opts.Metrics.ObserveFooterOpenDuration(time.Since(start)) }()
	}

	tc := byteio.NewTailCache(src)
	size, err := tc.Size()
	if err != nil {
		return nil, fmt.Errorf("footer: stat: %w", err)
	}
	if size < trailerSize {
		return nil, pqerrors.ErrTruncated
	}

	tail, tailOffset, err := tc.Tail()
	if err != nil {
		return nil, fmt.Errorf("footer: reading tail: %w", err)
	}
	trailer := tail[len(tail)-trailerSize:]
	metadataLen := binary.LittleEndian.Uint32(trailer[:4])
	magic := string(trailer[4:8])

	var plaintextFooter bool
	switch magic {
	case magicPlaintext:
		plaintextFooter = true
	case magicEncrypted:
		plaintextFooter = false
	default:
		return nil, pqerrors.ErrBadMagic
	}

	if metadataLen == 0 {
		return nil, pqerrors.ErrShortMetadata
	}
	regionStart := size - trailerSize - int64(metadataLen)
	if regionStart < 0 {
		return nil, pqerrors.ErrShortMetadata
	}

	region := make([]byte, metadataLen)
	if regionStart >= tailOffset && regionStart+int64(metadataLen) <= tailOffset+int64(len(tail)) {
		copy(region, tail[regionStart-tailOffset:])
	} else if _, err := tc.ReadAt(region, regionStart); err != nil && err != io.EOF {
		return nil, fmt.Errorf("footer: reading footer region: %w", err)
	}

	if plaintextFooter {
		return readPlaintextFooter(region, opts)
	}
	return readEncryptedFooter(region, opts)
}

func readEncryptedFooter(region []byte, opts Options) (*Result, error) {
	cryptoMeta, consumed, err := opts.Codec.DecodeFileCryptoMetaData(region)
	if err != nil {
		return nil, fmt.Errorf("footer: decoding FileCryptoMetaData: %w", err)
	}
	if !validAlgorithm(cryptoMeta.Algorithm) {
		return nil, pqerrors.ErrUnsupportedAlgorithm
	}
	if opts.Retriever == nil {
		return nil, pqerrors.ErrNoFooterKey
	}

	prefix, err := resolveAadPrefix(opts, cryptoMeta.Aad)
	if err != nil {
		return nil, err
	}
	fileAad := aad.FileAad(prefix, cryptoMeta.Aad.AadFileUnique)

	footerKey, err := opts.Retriever.GetKey(cryptoMeta.KeyMetadata)
	if err != nil {
		return nil, fmt.Errorf("footer: resolving footer key: %w", err)
	}

	footerAad := aad.Module(fileAad, aad.Footer, 0, 0, 0)
	plaintext, err := pcrypto.DecryptGCM(region[consumed:], footerKey, footerAad)
	if err != nil {
		return nil, err
	}

	meta, _, err := opts.Codec.DecodeFileMetaData(plaintext)
	if err != nil {
		return nil, fmt.Errorf("footer: decoding FileMetaData: %w", err)
	}
	meta.CryptoMetaData = cryptoMeta
	if opts.Audit != nil {
		opts.Audit.LogFooterKeyResolved("")
	}
	if opts.Metrics != nil {
		opts.Metrics.RecordModuleDecrypted("Footer")
	}
	return &Result{Meta: meta, FileAad: fileAad, FooterEncrypted: true, FooterKey: footerKey}, nil
}

func readPlaintextFooter(region []byte, opts Options) (*Result, error) {
	meta, consumed, err := opts.Codec.DecodeFileMetaData(region)
	if err != nil {
		return nil, fmt.Errorf("footer: decoding FileMetaData: %w", err)
	}

	if meta.EncryptionAlgorithm == nil {
		return &Result{Meta: meta, FileAad: nil, FooterEncrypted: false}, nil
	}
	if !validAlgorithm(*meta.EncryptionAlgorithm) {
		return nil, pqerrors.ErrUnsupportedAlgorithm
	}
	if meta.Aad == nil {
		return nil, fmt.Errorf("footer: plaintext footer declares an encryption algorithm but no AAD info: %w", pqerrors.ErrMalformedKeyMaterial)
	}

	prefix, err := resolveAadPrefix(opts, *meta.Aad)
	if err != nil {
		return nil, err
	}
	fileAad := aad.FileAad(prefix, meta.Aad.AadFileUnique)

	if opts.Retriever == nil {
		return nil, pqerrors.ErrNoFooterKey
	}
	footerKey, err := opts.Retriever.GetKey(meta.FooterKeyMetadata)
	if err != nil {
		return nil, fmt.Errorf("footer: resolving footer key: %w", err)
	}

	if opts.CheckPlaintextFooterIntegrity {
		if err := verifyPlaintextFooterSignature(region, consumed, footerKey, fileAad); err != nil {
			if opts.Audit != nil {
				opts.Audit.LogFooterSignatureFailed(err)
			}
			return nil, err
		}
	}

	if opts.Audit != nil {
		opts.Audit.LogFooterKeyResolved("")
	}
	return &Result{Meta: meta, FileAad: fileAad, FooterEncrypted: false, FooterKey: footerKey}, nil
}

func verifyPlaintextFooterSignature(region []byte, consumed int, footerKey, fileAad []byte) error {
	sig := region[consumed:]
	if len(sig) != signatureSize {
		return fmt.Errorf("footer: signature is %d bytes, want %d: %w", len(sig), signatureSize, pqerrors.ErrShortMetadata)
	}
	footerAad := aad.Module(fileAad, aad.Footer, 0, 0, 0)
	return pcrypto.VerifySignedFooter(region[:consumed], footerKey, footerAad, sig)
}

func validAlgorithm(a pmetadata.Algorithm) bool {
	return a == pmetadata.AesGcmV1 || a == pmetadata.AesGcmCtrV1
}

// resolveAadPrefix reconciles the AAD prefix the reader was configured
// with against the prefix (if any) the file itself carries, per the
// three-way policy: the file may demand an externally supplied prefix,
// may carry its own, or may use none at all.
func resolveAadPrefix(opts Options, info pmetadata.AadInfo) ([]byte, error) {
	if info.SupplyAadPrefix {
		if len(opts.AadPrefix) == 0 {
			return nil, pqerrors.ErrAadPrefixMissing
		}
		if opts.AadPrefixVerifier != nil {
			if err := opts.AadPrefixVerifier(opts.AadPrefix); err != nil {
				return nil, err
			}
		}
		return opts.AadPrefix, nil
	}

	if len(info.AadPrefix) > 0 {
		if len(opts.AadPrefix) > 0 && !bytes.Equal(opts.AadPrefix, info.AadPrefix) {
			return nil, pqerrors.ErrAadPrefixMismatch
		}
		if opts.AadPrefixVerifier != nil {
			if err := opts.AadPrefixVerifier(info.AadPrefix); err != nil {
				return nil, err
			}
		}
		return info.AadPrefix, nil
	}

	if opts.AadPrefixVerifier != nil {
		if err := opts.AadPrefixVerifier(opts.AadPrefix); err != nil {
			return nil, err
		}
	}
	return opts.AadPrefix, nil
}
