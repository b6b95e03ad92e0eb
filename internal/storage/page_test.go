package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPage_Header(t *testing.T) {
	buf := make([]byte, PageSize4K)
	buf[100] = 0xFF // garbage must be cleared

	p := FormatPage(buf, KindBTreeLeaf, 7)

	assert.Equal(t, KindBTreeLeaf, p.Kind())
	assert.Equal(t, uint32(7), p.PageNumber())
	assert.Equal(t, uint32(0), p.RecordCount())
	assert.Equal(t, uint32(0), p.RecordWidth())
	assert.Equal(t, uint32(PageSize4K), p.FreeOffset())
	assert.Equal(t, byte(0), buf[100])
	assert.True(t, p.HasBeenModified())

	p.ClearModified()
	assert.False(t, p.HasBeenModified())
}

func TestWrapPage_DecodesKindOnce(t *testing.T) {
	for _, kind := range []PageKind{KindTable, KindBTreeLeaf, KindBTreeInner} {
		buf := make([]byte, PageSize4K)
		p := FormatPage(buf, kind, 3)
		p.SetRecordCount(5)
		p.SetRecordWidth(12)

		w, err := WrapPage(buf)
		require.NoError(t, err)
		assert.Equal(t, kind, w.Kind())
		assert.Equal(t, uint32(3), w.PageNumber())
		assert.Equal(t, uint32(5), w.RecordCount())
		assert.Equal(t, uint32(12), w.RecordWidth())
		assert.False(t, w.HasBeenModified())
	}
}

func TestWrapPage_BadMagic(t *testing.T) {
	_, err := WrapPage(make([]byte, PageSize4K))
	require.ErrorIs(t, err, ErrPageFormat)

	_, err = WrapPage(make([]byte, 4))
	require.ErrorIs(t, err, ErrPageFormat)
}

func TestWrapPage_FreeOffsetBeyondEnd(t *testing.T) {
	buf := make([]byte, PageSize4K)
	p := FormatPage(buf, KindTable, 0)
	p.SetFreeOffset(uint32(PageSize4K) + 1)

	_, err := WrapPage(buf)
	require.ErrorIs(t, err, ErrPageFormat)
}

func TestParsePageSize(t *testing.T) {
	cases := map[string]PageSize{
		"4k":    PageSize4K,
		"8K":    PageSize8K,
		"16kb":  PageSize16K,
		"32768": PageSize32K,
		" 64k ": PageSize64K,
	}
	for in, want := range cases {
		got, err := ParsePageSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "3k", "abc", "1000"} {
		_, err := ParsePageSize(bad)
		require.ErrorIs(t, err, ErrInvalidPageSize, bad)
	}

	assert.Equal(t, "8k", PageSize8K.String())
}
