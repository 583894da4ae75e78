// Package record implements the column-value codec and key comparison used
// by the B-tree engine: a record is the byte payload stored in a cell, built
// from a header of serial-type varints followed by the concatenated column
// values.
//
// Serial type codes:
//
//	0:        NULL
//	1-6:      big-endian signed integer, widths 1,2,3,4,6,8 bytes
//	7:        IEEE 754 float64, big-endian
//	8:        integer constant 0 (no data stored)
//	9:        integer constant 1 (no data stored)
//	N>=12 even: BLOB of (N-12)/2 bytes
//	N>=13 odd:  TEXT of (N-13)/2 bytes
package record

import (
	"encoding/binary"
	"math"

	"github.com/chainindex/btreedb/internal/dberr"
)

// SerialType is a column's on-disk type code.
type SerialType uint64

const (
	SerialTypeNull    SerialType = 0
	SerialTypeInt8    SerialType = 1
	SerialTypeInt16   SerialType = 2
	SerialTypeInt24   SerialType = 3
	SerialTypeInt32   SerialType = 4
	SerialTypeInt48   SerialType = 5
	SerialTypeInt64   SerialType = 6
	SerialTypeFloat64 SerialType = 7
	SerialTypeZero    SerialType = 8
	SerialTypeOne     SerialType = 9
)

// ValueType classifies a Value for the type-ordering rule NULL <
// INTEGER/REAL < TEXT < BLOB, where INTEGER and REAL compare numerically
// with each other (see CompareValues).
type ValueType int

const (
	TypeNull ValueType = iota
	TypeInteger
	TypeFloat
	TypeText
	TypeBlob
)

// Value is a single column value.
type Value struct {
	Type ValueType
	Int  int64
	Real float64
	Text string
	Blob []byte
}

func NullValue() Value           { return Value{Type: TypeNull} }
func IntValue(i int64) Value     { return Value{Type: TypeInteger, Int: i} }
func RealValue(f float64) Value  { return Value{Type: TypeFloat, Real: f} }
func TextValue(s string) Value   { return Value{Type: TypeText, Text: s} }
func BlobValue(b []byte) Value   { return Value{Type: TypeBlob, Blob: b} }

// Record is a decoded row: a primary-key prefix of PKCount columns followed
// by the remaining payload columns, in the table's declared column order.
type Record struct {
	Values []Value
}

func serialTypeFor(v Value) SerialType {
	switch v.Type {
	case TypeNull:
		return SerialTypeNull
	case TypeInteger:
		i := v.Int
		switch {
		case i == 0:
			return SerialTypeZero
		case i == 1:
			return SerialTypeOne
		case i >= -128 && i <= 127:
			return SerialTypeInt8
		case i >= -32768 && i <= 32767:
			return SerialTypeInt16
		case i >= -8388608 && i <= 8388607:
			return SerialTypeInt24
		case i >= -2147483648 && i <= 2147483647:
			return SerialTypeInt32
		case i >= -140737488355328 && i <= 140737488355327:
			return SerialTypeInt48
		default:
			return SerialTypeInt64
		}
	case TypeFloat:
		return SerialTypeFloat64
	case TypeText:
		return SerialType(13 + 2*len(v.Text))
	case TypeBlob:
		return SerialType(12 + 2*len(v.Blob))
	default:
		return SerialTypeNull
	}
}

// SerialTypeLen returns the body size in bytes for a column stored with st.
func SerialTypeLen(st SerialType) int {
	switch st {
	case SerialTypeNull, SerialTypeZero, SerialTypeOne:
		return 0
	case SerialTypeInt8:
		return 1
	case SerialTypeInt16:
		return 2
	case SerialTypeInt24:
		return 3
	case SerialTypeInt32:
		return 4
	case SerialTypeInt48:
		return 6
	case SerialTypeInt64, SerialTypeFloat64:
		return 8
	default:
		if st >= 12 {
			return int(st-12) / 2
		}
		return 0
	}
}

// MakeRecord encodes values into the header+body byte layout. The header
// size is self-referential (the header-size varint's own width affects the
// header size), so it is computed by widening until the width stabilizes.
func MakeRecord(values []Value) ([]byte, error) {
	if len(values) == 0 {
		return nil, dberr.NewBadArgument("values", "record must have at least one column")
	}

	serialTypes := make([]SerialType, len(values))
	headerBodySize := 0
	bodySize := 0
	for i, v := range values {
		st := serialTypeFor(v)
		serialTypes[i] = st
		headerBodySize += VarintLen(uint64(st))
		bodySize += SerialTypeLen(st)
	}

	headerSize := headerBodySize + 1
	for {
		n := VarintLen(uint64(headerSize))
		next := n + headerBodySize
		if next == headerSize {
			break
		}
		headerSize = next
	}

	buf := make([]byte, 0, headerSize+bodySize)
	buf = AppendVarint(buf, uint64(headerSize))
	for _, st := range serialTypes {
		buf = AppendVarint(buf, uint64(st))
	}
	for i, v := range values {
		buf = appendValueBody(buf, v, serialTypes[i])
	}
	return buf, nil
}

func appendValueBody(buf []byte, v Value, st SerialType) []byte {
	switch st {
	case SerialTypeNull, SerialTypeZero, SerialTypeOne:
		return buf
	case SerialTypeInt8:
		return append(buf, byte(v.Int))
	case SerialTypeInt16:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(v.Int))
		return append(buf, tmp[:]...)
	case SerialTypeInt24:
		u := uint32(v.Int)
		return append(buf, byte(u>>16), byte(u>>8), byte(u))
	case SerialTypeInt32:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(v.Int))
		return append(buf, tmp[:]...)
	case SerialTypeInt48:
		u := uint64(v.Int)
		return append(buf, byte(u>>40), byte(u>>32), byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	case SerialTypeInt64:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.Int))
		return append(buf, tmp[:]...)
	case SerialTypeFloat64:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v.Real))
		return append(buf, tmp[:]...)
	default:
		if st%2 == 0 {
			return append(buf, v.Blob...)
		}
		return append(buf, v.Text...)
	}
}

// ParseRecord decodes a full record from its byte encoding.
func ParseRecord(data []byte) (*Record, error) {
	values, _, err := parseHeaderAndBody(data, -1)
	if err != nil {
		return nil, err
	}
	return &Record{Values: values}, nil
}

// LocateColumn decodes only up through column index `col` (0-based) and
// returns its value, without materializing the rest of the record. It
// reports dberr.ErrMalformed if the header ends before reaching `col`.
func LocateColumn(data []byte, col int) (Value, error) {
	values, _, err := parseHeaderAndBody(data, col)
	if err != nil {
		return Value{}, err
	}
	if col >= len(values) {
		return Value{}, dberr.NewMalformed(0, "record header ended before requested column")
	}
	return values[col], nil
}

// parseHeaderAndBody decodes column values. If stopAfter >= 0, decoding
// halts once that column index has been read, leaving later columns
// undecoded; callers that need the full record pass stopAfter = -1.
func parseHeaderAndBody(data []byte, stopAfter int) ([]Value, int, error) {
	if len(data) == 0 {
		return nil, 0, dberr.NewMalformed(0, "empty record")
	}

	headerSize, n := GetVarint(data)
	if n == 0 || int(headerSize) > len(data) {
		return nil, 0, dberr.NewMalformed(0, "invalid record header size")
	}

	var serialTypes []SerialType
	offset := n
	for offset < int(headerSize) {
		st, n := GetVarint(data[offset:])
		if n == 0 {
			return nil, 0, dberr.NewMalformed(0, "invalid serial type in record header")
		}
		serialTypes = append(serialTypes, SerialType(st))
		offset += n
	}

	values := make([]Value, len(serialTypes))
	bodyOffset := int(headerSize)
	for i, st := range serialTypes {
		v, n, err := parseValueBody(data, bodyOffset, st)
		if err != nil {
			return nil, 0, err
		}
		values[i] = v
		bodyOffset += n
		if stopAfter >= 0 && i == stopAfter {
			return values[:i+1], bodyOffset, nil
		}
	}
	return values, bodyOffset, nil
}

func parseValueBody(data []byte, offset int, st SerialType) (Value, int, error) {
	switch st {
	case SerialTypeNull:
		return NullValue(), 0, nil
	case SerialTypeZero:
		return IntValue(0), 0, nil
	case SerialTypeOne:
		return IntValue(1), 0, nil
	case SerialTypeInt8:
		if offset+1 > len(data) {
			return Value{}, 0, dberr.NewMalformed(0, "truncated int8 column")
		}
		return IntValue(int64(int8(data[offset]))), 1, nil
	case SerialTypeInt16:
		if offset+2 > len(data) {
			return Value{}, 0, dberr.NewMalformed(0, "truncated int16 column")
		}
		return IntValue(int64(int16(binary.BigEndian.Uint16(data[offset:])))), 2, nil
	case SerialTypeInt24:
		if offset+3 > len(data) {
			return Value{}, 0, dberr.NewMalformed(0, "truncated int24 column")
		}
		v := int32(data[offset])<<16 | int32(data[offset+1])<<8 | int32(data[offset+2])
		if v&0x800000 != 0 {
			v |= ^0xffffff
		}
		return IntValue(int64(v)), 3, nil
	case SerialTypeInt32:
		if offset+4 > len(data) {
			return Value{}, 0, dberr.NewMalformed(0, "truncated int32 column")
		}
		return IntValue(int64(int32(binary.BigEndian.Uint32(data[offset:])))), 4, nil
	case SerialTypeInt48:
		if offset+6 > len(data) {
			return Value{}, 0, dberr.NewMalformed(0, "truncated int48 column")
		}
		v := int64(data[offset])<<40 | int64(data[offset+1])<<32 | int64(data[offset+2])<<24 |
			int64(data[offset+3])<<16 | int64(data[offset+4])<<8 | int64(data[offset+5])
		if v&0x800000000000 != 0 {
			v |= ^0xffffffffffff
		}
		return IntValue(v), 6, nil
	case SerialTypeInt64:
		if offset+8 > len(data) {
			return Value{}, 0, dberr.NewMalformed(0, "truncated int64 column")
		}
		return IntValue(int64(binary.BigEndian.Uint64(data[offset:]))), 8, nil
	case SerialTypeFloat64:
		if offset+8 > len(data) {
			return Value{}, 0, dberr.NewMalformed(0, "truncated float64 column")
		}
		return RealValue(math.Float64frombits(binary.BigEndian.Uint64(data[offset:]))), 8, nil
	default:
		length := SerialTypeLen(st)
		if offset+length > len(data) {
			return Value{}, 0, dberr.NewMalformed(0, "truncated blob/text column")
		}
		b := make([]byte, length)
		copy(b, data[offset:offset+length])
		if st%2 == 0 {
			return BlobValue(b), length, nil
		}
		return TextValue(string(b)), length, nil
	}
}

// CompareValues orders two values by SQLite's mixed-type rule: NULL <
// INTEGER/REAL (compared numerically across the two) < TEXT (byte-wise) <
// BLOB (byte-wise). It does not consult column affinity or a collating
// sequence — both records are expected to declare column types consistently,
// which is what every on-page comparison this engine performs relies on.
func CompareValues(a, b Value) int {
	if a.Type != b.Type {
		if numeric(a.Type) && numeric(b.Type) {
			return compareNumeric(a, b)
		}
		return int(a.Type) - int(b.Type)
	}

	switch a.Type {
	case TypeNull:
		return 0
	case TypeInteger:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		default:
			return 0
		}
	case TypeFloat:
		switch {
		case a.Real < b.Real:
			return -1
		case a.Real > b.Real:
			return 1
		default:
			return 0
		}
	case TypeText:
		return compareBytes([]byte(a.Text), []byte(b.Text))
	case TypeBlob:
		return compareBytes(a.Blob, b.Blob)
	default:
		return 0
	}
}

func numeric(t ValueType) bool { return t == TypeInteger || t == TypeFloat }

func compareNumeric(a, b Value) int {
	af := a.Real
	if a.Type == TypeInteger {
		af = float64(a.Int)
	}
	bf := b.Real
	if b.Type == TypeInteger {
		bf = float64(b.Int)
	}
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// CompareRecords compares two records by their first pkCount columns, the
// primary-key prefix, left to right, returning the first nonzero column
// comparison or 0 if the prefix is equal.
func CompareRecords(a, b *Record, pkCount int) (int, error) {
	n := pkCount
	if len(a.Values) < n || len(b.Values) < n {
		return 0, dberr.NewMalformed(0, "record has fewer columns than the primary key prefix")
	}
	for i := 0; i < n; i++ {
		if c := CompareValues(a.Values[i], b.Values[i]); c != 0 {
			return c, nil
		}
	}
	return 0, nil
}
