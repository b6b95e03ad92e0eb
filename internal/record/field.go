package record

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/tuannm99/novadb/internal/alias/bx"
)

// DataField is one typed value. Comparing fields of different kinds is a
// programming error and panics.
type DataField interface {
	Type() DataType
	Compare(other DataField) int
	String() string
}

type (
	IntField     int32
	BigIntField  int64
	DoubleField  float64
	VarCharField string
)

// CharField is a fixed-width string; trailing spaces are not significant.
type CharField struct {
	Value string
	Width int
}

// NewChar truncates s to width bytes and drops trailing padding.
func NewChar(s string, width int) CharField {
	if len(s) > width {
		s = s[:width]
	}
	return CharField{Value: strings.TrimRight(s, " "), Width: width}
}

func (f IntField) Type() DataType     { return Int() }
func (f BigIntField) Type() DataType  { return BigInt() }
func (f DoubleField) Type() DataType  { return Double() }
func (f CharField) Type() DataType    { return Char(f.Width) }
func (f VarCharField) Type() DataType { return VarChar(len(f)) }
func (f IntField) String() string     { return strconv.FormatInt(int64(f), 10) }
func (f BigIntField) String() string  { return strconv.FormatInt(int64(f), 10) }
func (f DoubleField) String() string  { return strconv.FormatFloat(float64(f), 'g', -1, 64) }
func (f CharField) String() string    { return f.Value }
func (f VarCharField) String() string { return string(f) }

func (f IntField) Compare(o DataField) int     { return cmp.Compare(f, mustSame[IntField](f, o)) }
func (f BigIntField) Compare(o DataField) int  { return cmp.Compare(f, mustSame[BigIntField](f, o)) }
func (f DoubleField) Compare(o DataField) int  { return cmp.Compare(f, mustSame[DoubleField](f, o)) }
func (f VarCharField) Compare(o DataField) int { return cmp.Compare(f, mustSame[VarCharField](f, o)) }

func (f CharField) Compare(o DataField) int {
	return strings.Compare(f.Value, mustSame[CharField](f, o).Value)
}

func mustSame[T DataField](self, other DataField) T {
	v, ok := other.(T)
	if !ok {
		panic(fmt.Sprintf("record: compare %s with %s", self.Type(), other.Type()))
	}
	return v
}

// EncodeKey writes the fixed-width representation of f into dst.
// dst must be at least f.Type().FixedWidth() bytes.
func EncodeKey(dst []byte, f DataField) {
	switch v := f.(type) {
	case IntField:
		bx.PutI32(dst, int32(v))
	case BigIntField:
		bx.PutI64(dst, int64(v))
	case DoubleField:
		bx.PutF64(dst, float64(v))
	case CharField:
		n := copy(dst[:v.Width], v.Value)
		for i := n; i < v.Width; i++ {
			dst[i] = ' '
		}
	default:
		panic(fmt.Sprintf("record: %s is not a key type", f.Type()))
	}
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(t DataType, src []byte) DataField {
	switch t.Kind {
	case KindInt:
		return IntField(bx.I32(src))
	case KindBigInt:
		return BigIntField(bx.I64(src))
	case KindDouble:
		return DoubleField(bx.F64(src))
	case KindChar:
		return NewChar(string(src[:t.Length]), t.Length)
	default:
		panic(fmt.Sprintf("record: %s is not a key type", t))
	}
}
