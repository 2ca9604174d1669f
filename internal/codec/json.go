package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kenchrcum/pqcrypt/internal/pmetadata"
)

// JSONCodec is a reference/test stand-in for the real Thrift
// compact-protocol codec a production deployment injects. It is never
// meant to be wire-compatible with parquet-mr; it exists so this module's
// own test suite and the pqinspect CLI can exercise a full open/decrypt
// cycle without depending on a Thrift implementation.
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec { return &JSONCodec{} }

func (JSONCodec) DecodeFileMetaData(b []byte) (*pmetadata.FileMetaData, int, error) {
	r := bytes.NewReader(b)
	dec := json.NewDecoder(r)
	var m pmetadata.FileMetaData
	if err := dec.Decode(&m); err != nil {
		return nil, 0, fmt.Errorf("codec: decoding FileMetaData: %w", err)
	}
	return &m, int(dec.InputOffset()), nil
}

func (JSONCodec) EncodeFileMetaData(m *pmetadata.FileMetaData) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding FileMetaData: %w", err)
	}
	return b, nil
}

func (JSONCodec) DecodeColumnMetaData(b []byte) (*pmetadata.ColumnChunkMetaData, error) {
	var m pmetadata.ColumnChunkMetaData
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("codec: decoding ColumnMetaData: %w", err)
	}
	return &m, nil
}

func (JSONCodec) EncodeColumnMetaData(m *pmetadata.ColumnChunkMetaData) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding ColumnMetaData: %w", err)
	}
	return b, nil
}

func (JSONCodec) DecodeFileCryptoMetaData(b []byte) (*pmetadata.FileCryptoMetaData, int, error) {
	r := bytes.NewReader(b)
	dec := json.NewDecoder(r)
	var m pmetadata.FileCryptoMetaData
	if err := dec.Decode(&m); err != nil {
		return nil, 0, fmt.Errorf("codec: decoding FileCryptoMetaData: %w", err)
	}
	return &m, int(dec.InputOffset()), nil
}

func (JSONCodec) EncodeFileCryptoMetaData(m *pmetadata.FileCryptoMetaData) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding FileCryptoMetaData: %w", err)
	}
	return b, nil
}
