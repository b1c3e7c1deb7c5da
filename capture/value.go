package capture

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DataType is the element type of an arbitrary value.
type DataType uint8

const (
	DataBool DataType = iota
	DataChar
	DataInt8
	DataUint8
	DataInt16
	DataUint16
	DataInt32
	DataUint32
	DataInt64
	DataUint64
	DataFloat
	DataDouble
	DataString

	dataTypeCount
)

var dataTypeNames = [dataTypeCount]string{
	DataBool:   "bool",
	DataChar:   "char",
	DataInt8:   "int8",
	DataUint8:  "uint8",
	DataInt16:  "int16",
	DataUint16: "uint16",
	DataInt32:  "int32",
	DataUint32: "uint32",
	DataInt64:  "int64",
	DataUint64: "uint64",
	DataFloat:  "float",
	DataDouble: "double",
	DataString: "string",
}

func (typ DataType) String() string {
	if typ < dataTypeCount {
		return dataTypeNames[typ]
	}
	return fmt.Sprintf("DataType(%d)", uint8(typ))
}

// Size returns the size in bytes of a single element of type typ, or 0 for unknown types.
func (typ DataType) Size() int {
	switch typ {
	case DataBool, DataChar, DataInt8, DataUint8, DataString:
		return 1
	case DataInt16, DataUint16:
		return 2
	case DataInt32, DataUint32, DataFloat:
		return 4
	case DataInt64, DataUint64, DataDouble:
		return 8
	default:
		return 0
	}
}

// Value is the payload of a block whose descriptor has type BlockTypeValue.
type Value struct {
	// ID distinguishes values recorded through the same descriptor.
	ID      uint64
	Type    DataType
	IsArray bool
	// Data holds the little-endian elements. It aliases the capture's payload arena.
	Data []byte
}

// Len returns the number of elements. Strings have one element per byte, including a trailing NUL if present.
func (v *Value) Len() int {
	size := v.Type.Size()
	if size == 0 {
		return 0
	}
	return len(v.Data) / size
}

func (v *Value) elem(i int) []byte {
	size := v.Type.Size()
	return v.Data[i*size : (i+1)*size]
}

// Bool returns element i as a boolean.
func (v *Value) Bool(i int) bool { return v.elem(i)[0] != 0 }

// Int returns element i of a signed integer or char value.
func (v *Value) Int(i int) int64 {
	b := v.elem(i)
	switch v.Type {
	case DataChar, DataInt8:
		return int64(int8(b[0]))
	case DataInt16:
		return int64(int16(le.Uint16(b)))
	case DataInt32:
		return int64(int32(le.Uint32(b)))
	case DataInt64:
		return int64(le.Uint64(b))
	default:
		return int64(v.Uint(i))
	}
}

// Uint returns element i of an unsigned integer value.
func (v *Value) Uint(i int) uint64 {
	b := v.elem(i)
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(le.Uint16(b))
	case 4:
		return uint64(le.Uint32(b))
	default:
		return le.Uint64(b)
	}
}

// Float returns element i of a float or double value.
func (v *Value) Float(i int) float64 {
	b := v.elem(i)
	if v.Type == DataFloat {
		return float64(math.Float32frombits(le.Uint32(b)))
	}
	return math.Float64frombits(le.Uint64(b))
}

// Str returns the value of a string value, up to the first NUL.
func (v *Value) Str() string { return cstring(v.Data) }

func (v *Value) formatElem(i int) string {
	switch v.Type {
	case DataBool:
		return strconv.FormatBool(v.Bool(i))
	case DataChar:
		return strconv.QuoteRune(rune(v.Data[i]))
	case DataInt8, DataInt16, DataInt32, DataInt64:
		return strconv.FormatInt(v.Int(i), 10)
	case DataUint8, DataUint16, DataUint32, DataUint64:
		return strconv.FormatUint(v.Uint(i), 10)
	case DataFloat:
		return strconv.FormatFloat(v.Float(i), 'g', -1, 32)
	case DataDouble:
		return strconv.FormatFloat(v.Float(i), 'g', -1, 64)
	default:
		return "?"
	}
}

// String renders the value for humans, e.g. "42", "[1 2 3]" or "\"name\"".
func (v *Value) String() string {
	if v.Type == DataString {
		return strconv.Quote(v.Str())
	}
	if v.Type >= dataTypeCount {
		return fmt.Sprintf("<%d bytes of %s>", len(v.Data), v.Type)
	}
	n := v.Len()
	if !v.IsArray && n == 1 {
		return v.formatElem(0)
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(v.formatElem(i))
	}
	sb.WriteByte(']')
	return sb.String()
}
