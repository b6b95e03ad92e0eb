package record

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Kind uint8

const (
	KindInt     Kind = iota + 1 // int32
	KindBigInt                  // int64
	KindDouble                  // float64
	KindChar                    // fixed width, space padded
	KindVarChar                 // variable width, table pages only
)

var (
	ErrSchemaMismatch = errors.New("record: schema/values mismatch")
	ErrBadType        = errors.New("record: invalid data type")
	ErrValueTooLong   = errors.New("record: value exceeds declared length")
)

// DataType is a column or key type. Length is only meaningful for CHAR/VARCHAR.
type DataType struct {
	Kind   Kind
	Length int
}

func Int() DataType               { return DataType{Kind: KindInt} }
func BigInt() DataType            { return DataType{Kind: KindBigInt} }
func Double() DataType            { return DataType{Kind: KindDouble} }
func Char(n int) DataType         { return DataType{Kind: KindChar, Length: n} }
func VarChar(maxLen int) DataType { return DataType{Kind: KindVarChar, Length: maxLen} }

// FixedWidth is the number of bytes the type occupies inside a fixed-width
// record slot. VARCHAR stores an (offset u16, length u16) pointer inline.
func (t DataType) FixedWidth() int {
	switch t.Kind {
	case KindInt:
		return 4
	case KindBigInt, KindDouble:
		return 8
	case KindChar:
		return t.Length
	case KindVarChar:
		return 4
	default:
		return 0
	}
}

// IsKeyType reports whether the type can be used as a B-tree key.
func (t DataType) IsKeyType() bool {
	return t.Valid() && t.Kind != KindVarChar
}

func (t DataType) Valid() bool {
	switch t.Kind {
	case KindInt, KindBigInt, KindDouble:
		return true
	case KindChar, KindVarChar:
		return t.Length > 0 && t.Length <= 1<<15
	default:
		return false
	}
}

func (t DataType) String() string {
	switch t.Kind {
	case KindInt:
		return "INT"
	case KindBigInt:
		return "BIGINT"
	case KindDouble:
		return "DOUBLE"
	case KindChar:
		return fmt.Sprintf("CHAR(%d)", t.Length)
	case KindVarChar:
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	default:
		return "UNKNOWN"
	}
}

// ParseDataType is the inverse of String.
func ParseDataType(s string) (DataType, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch v {
	case "INT", "INTEGER":
		return Int(), nil
	case "BIGINT":
		return BigInt(), nil
	case "DOUBLE":
		return Double(), nil
	}

	for prefix, mk := range map[string]func(int) DataType{"CHAR(": Char, "VARCHAR(": VarChar} {
		if !strings.HasPrefix(v, prefix) || !strings.HasSuffix(v, ")") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(v, prefix), ")"))
		if err != nil {
			return DataType{}, errors.Wrapf(ErrBadType, "%q", s)
		}
		t := mk(n)
		if !t.Valid() {
			return DataType{}, errors.Wrapf(ErrBadType, "%q", s)
		}
		return t, nil
	}
	return DataType{}, errors.Wrapf(ErrBadType, "%q", s)
}

func (t DataType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, errors.Wrapf(ErrBadType, "%+v", t)
	}
	return []byte(t.String()), nil
}

func (t *DataType) UnmarshalText(b []byte) error {
	v, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type Column struct {
	Name string   `json:"name"`
	Type DataType `json:"type"`
}

type Schema struct {
	Cols []Column `json:"cols"`
}

func (s Schema) NumCols() int { return len(s.Cols) }

// FixedWidth is the inline width of one record (without slot metadata).
func (s Schema) FixedWidth() int {
	w := 0
	for _, c := range s.Cols {
		w += c.Type.FixedWidth()
	}
	return w
}

// Check verifies that tuple matches the schema column by column.
func (s Schema) Check(tuple DataTuple) error {
	if tuple.Len() != s.NumCols() {
		return errors.Wrapf(ErrSchemaMismatch, "tuple has %d fields, schema %d", tuple.Len(), s.NumCols())
	}
	for i, c := range s.Cols {
		f := tuple.Field(i)
		if f.Type().Kind != c.Type.Kind {
			return errors.Wrapf(ErrSchemaMismatch, "column %s: got %s want %s", c.Name, f.Type(), c.Type)
		}
		if vc, ok := f.(VarCharField); ok && len(vc) > c.Type.Length {
			return errors.Wrapf(ErrValueTooLong, "column %s", c.Name)
		}
	}
	return nil
}
