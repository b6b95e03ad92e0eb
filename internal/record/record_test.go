package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataType(t *testing.T) {
	cases := map[string]DataType{
		"int":         Int(),
		"INTEGER":     Int(),
		"bigint":      BigInt(),
		"DOUBLE":      Double(),
		"char(12)":    Char(12),
		"VARCHAR(40)": VarChar(40),
	}
	for in, want := range cases {
		got, err := ParseDataType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		// String must round-trip.
		again, err := ParseDataType(got.String())
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}

	for _, bad := range []string{"", "text", "char(0)", "char(x)", "varchar"} {
		_, err := ParseDataType(bad)
		require.ErrorIs(t, err, ErrBadType, bad)
	}
}

func TestDataType_JSON(t *testing.T) {
	col := Column{Name: "name", Type: Char(8)}
	b, err := json.Marshal(col)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"name","type":"CHAR(8)"}`, string(b))

	var back Column
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, col, back)
}

func TestKeyCodec(t *testing.T) {
	fields := []DataField{
		IntField(-5),
		BigIntField(1 << 40),
		DoubleField(2.5),
		NewChar("abc", 6),
	}
	for _, f := range fields {
		buf := make([]byte, f.Type().FixedWidth())
		EncodeKey(buf, f)
		got := DecodeKey(f.Type(), buf)
		assert.Equal(t, 0, f.Compare(got), f.String())
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, IntField(1).Compare(IntField(2)))
	assert.Equal(t, 1, BigIntField(3).Compare(BigIntField(2)))
	assert.Equal(t, 0, NewChar("ab  ", 4).Compare(NewChar("ab", 4)))
	assert.Equal(t, -1, NewChar("ab", 4).Compare(NewChar("b", 4)))

	assert.Panics(t, func() { IntField(1).Compare(BigIntField(1)) })
}

func TestNewChar_Truncates(t *testing.T) {
	c := NewChar("abcdefgh", 4)
	assert.Equal(t, "abcd", c.Value)
	assert.Equal(t, Char(4), c.Type())
}

func TestSchema_Check(t *testing.T) {
	s := Schema{Cols: []Column{
		{Name: "id", Type: Int()},
		{Name: "name", Type: VarChar(5)},
	}}
	assert.Equal(t, 4+4, s.FixedWidth())

	require.NoError(t, s.Check(NewTuple(IntField(1), VarCharField("bob"))))
	require.ErrorIs(t, s.Check(NewTuple(IntField(1))), ErrSchemaMismatch)
	require.ErrorIs(t, s.Check(NewTuple(BigIntField(1), VarCharField("x"))), ErrSchemaMismatch)
	require.ErrorIs(t, s.Check(NewTuple(IntField(1), VarCharField("toolong"))), ErrValueTooLong)
}

func TestTuple_Immutable(t *testing.T) {
	src := []DataField{IntField(1), IntField(2)}
	tup := NewTuple(src...)
	src[0] = IntField(99)

	assert.Equal(t, IntField(1), tup.Field(0))
	fs := tup.Fields()
	fs[1] = IntField(42)
	assert.Equal(t, IntField(2), tup.Field(1))
	assert.Equal(t, "(1, 2)", tup.String())
}
