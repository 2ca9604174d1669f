// Package aad builds the Additional Authenticated Data bound into every
// encrypted module of a Parquet file: the footer, a column's metadata, and
// each page within a column chunk. The construction is a pure function of
// its inputs so that two files sharing a file-unique identifier and the
// same ordinals always produce byte-identical AAD.
package aad

// ModuleKind tags which part of the file a module AAD addresses. Values
// match the wire encoding (a single byte) used by the reference
// implementation.
type ModuleKind byte

const (
	Footer                ModuleKind = 0
	ColumnMetaData         ModuleKind = 1
	DataPage               ModuleKind = 2
	DictionaryPage         ModuleKind = 3
	DataPageHeader         ModuleKind = 4
	DictionaryPageHeader   ModuleKind = 5
	ColumnIndex            ModuleKind = 6
	OffsetIndex            ModuleKind = 7
)

// FileAad returns the AAD prefix shared by every module in one file:
// aadPrefix || aadFileUnique. Either may be empty.
func FileAad(aadPrefix, aadFileUnique []byte) []byte {
	out := make([]byte, 0, len(aadPrefix)+len(aadFileUnique))
	out = append(out, aadPrefix...)
	out = append(out, aadFileUnique...)
	return out
}

// Module composes the AAD for one module: fileAad || kind || ordinals.
// Ordinals are included left-to-right and truncated according to kind:
// Footer carries none, ColumnMetaData carries (rowGroup, column), and the
// page kinds carry (rowGroup, column, page). Passing extra ordinals beyond
// what a kind uses is the caller's bug, not this function's; it always
// emits exactly the ordinals the kind requires regardless of what is
// passed, by consulting ordinalCount.
func Module(fileAad []byte, kind ModuleKind, rowGroup, column, page uint16) []byte {
	n := ordinalCount(kind)
	out := make([]byte, 0, len(fileAad)+1+2*n)
	out = append(out, fileAad...)
	out = append(out, byte(kind))
	ordinals := [3]uint16{rowGroup, column, page}
	for i := 0; i < n; i++ {
		out = appendLE16(out, ordinals[i])
	}
	return out
}

func ordinalCount(kind ModuleKind) int {
	switch kind {
	case Footer:
		return 0
	case ColumnMetaData:
		return 2
	default:
		return 3
	}
}

func appendLE16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}
