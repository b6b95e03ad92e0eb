package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

var userSchema = record.Schema{Cols: []record.Column{
	{Name: "id", Type: record.BigInt()},
	{Name: "code", Type: record.Char(4)},
	{Name: "name", Type: record.VarChar(64)},
	{Name: "score", Type: record.Double()},
}}

func user(id int64, name string) record.DataTuple {
	return record.NewTuple(
		record.BigIntField(id),
		record.NewChar("u", 4),
		record.VarCharField(name),
		record.DoubleField(float64(id)/2),
	)
}

func newTablePage(t *testing.T, ps storage.PageSize) TablePage {
	t.Helper()
	p := storage.FormatPage(make([]byte, ps), storage.KindTable, 0)
	tp := TablePage{Page: p, Schema: userSchema}
	require.NoError(t, tp.Init())
	return tp
}

func TestTablePage_InsertRead(t *testing.T) {
	tp := newTablePage(t, storage.PageSize4K)

	s0, err := tp.Insert(user(1, "alice"))
	require.NoError(t, err)
	s1, err := tp.Insert(user(2, ""))
	require.NoError(t, err)
	require.Equal(t, uint16(0), s0)
	require.Equal(t, uint16(1), s1)

	got, err := tp.Read(0)
	require.NoError(t, err)
	require.Equal(t, "(1, u, alice, 0.5)", got.String())

	got, err = tp.Read(1)
	require.NoError(t, err)
	require.Equal(t, record.VarCharField(""), got.Field(2))

	_, err = tp.Read(2)
	require.ErrorIs(t, err, ErrSlotOutOfRange)
}

func TestTablePage_FreeSpaceAccounting(t *testing.T) {
	tp := newTablePage(t, storage.PageSize4K)
	before := tp.FreeSpace()

	_, err := tp.Insert(user(1, "abcdef"))
	require.NoError(t, err)
	require.Equal(t, before-slotWidth(userSchema)-6, tp.FreeSpace())
	require.Equal(t, uint32(storage.PageSize4K.Bytes()-6), tp.Page.FreeOffset())
}

func TestTablePage_FillsUp(t *testing.T) {
	tp := newTablePage(t, storage.PageSize4K)
	n := 0
	for {
		_, err := tp.Insert(user(int64(n), "0123456789"))
		if err != nil {
			require.ErrorIs(t, err, ErrNoSpace)
			break
		}
		n++
	}
	require.Equal(t, (storage.PageSize4K.Bytes()-storage.HeaderSize)/(slotWidth(userSchema)+10), n)

	// everything written is still readable
	for i := range n {
		got, err := tp.Read(i)
		require.NoError(t, err)
		require.Equal(t, record.BigIntField(int64(i)), got.Field(0))
		require.Equal(t, record.VarCharField("0123456789"), got.Field(2))
	}
}

func TestTablePage_Delete(t *testing.T) {
	tp := newTablePage(t, storage.PageSize4K)
	for i := range 3 {
		_, err := tp.Insert(user(int64(i), "x"))
		require.NoError(t, err)
	}

	require.NoError(t, tp.Delete(1))
	require.False(t, tp.IsLive(1))
	require.Equal(t, 2, tp.LiveCount())

	_, err := tp.Read(1)
	require.ErrorIs(t, err, ErrTupleDeleted)
	require.ErrorIs(t, tp.Delete(1), ErrTupleDeleted)
	require.ErrorIs(t, tp.Delete(9), ErrSlotOutOfRange)
}

func TestTablePage_InitRejectsOtherLayouts(t *testing.T) {
	tp := newTablePage(t, storage.PageSize4K)
	other := TablePage{Page: tp.Page, Schema: record.Schema{Cols: []record.Column{{Name: "a", Type: record.Int()}}}}
	require.ErrorIs(t, other.Init(), storage.ErrPageFormat)

	leaf := storage.FormatPage(make([]byte, storage.PageSize4K), storage.KindBTreeLeaf, 3)
	require.ErrorIs(t, TablePage{Page: leaf, Schema: userSchema}.Init(), storage.ErrPageFormat)
}
