package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novadb/internal/heap"
	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

func testLeaf(keys ...int) leaf {
	kt := record.BigInt()
	buf := make([]byte, storage.PageSize4K.Bytes())
	p := storage.FormatPage(buf, storage.KindBTreeLeaf, 0)
	ew := leafEntrySize(kt)
	p.SetRecordWidth(uint32(ew))
	l := leaf{node{page: p, kt: kt, ew: ew, cap: maxEntriesPerPage(storage.PageSize4K, ew)}}
	l.setNext(storage.NoPage)
	for i, k := range keys {
		l.insertAt(i, big(k), heap.RID{Page: uint32(i)})
	}
	return l
}

func TestSplitPoint(t *testing.T) {
	tests := []struct {
		name string
		keys []int
		want int
	}{
		{name: "distinct", keys: []int{1, 2, 3, 4, 5, 6}, want: 3},
		{name: "run over middle", keys: []int{1, 1, 1, 2, 2, 2, 2, 3}, want: 3},
		{name: "nearest boundary right", keys: []int{1, 2, 2, 2, 2, 2, 3, 3}, want: 6},
		{name: "all equal", keys: []int{7, 7, 7, 7, 7}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, splitPoint(testLeaf(tt.keys...)))
		})
	}
}

func TestLeaf_Bounds(t *testing.T) {
	l := testLeaf(1, 3, 3, 3, 8)

	require.Equal(t, 1, l.lowerBound(big(3)))
	require.Equal(t, 4, l.upperBound(big(3)))
	require.Equal(t, 0, l.lowerBound(big(0)))
	require.Equal(t, 5, l.upperBound(big(9)))
	require.Equal(t, 4, l.lowerBound(big(4)))
	require.Equal(t, big(8), l.lastKey())
	require.Equal(t, heap.RID{Page: 2}, l.ridAt(2))
}

func TestLeaf_MoveTailAndFlags(t *testing.T) {
	l := testLeaf(1, 2, 3, 4)
	r := testLeaf()

	l.moveTail(2, r.node)
	require.Equal(t, 2, l.count())
	require.Equal(t, 2, r.count())
	require.Equal(t, big(3), r.firstKey())
	require.Equal(t, heap.RID{Page: 3}, r.ridAt(1))

	require.False(t, l.continues())
	l.setContinues(true)
	require.True(t, l.continues())
	require.Equal(t, storage.NoPage, l.next())
	l.setContinues(false)
	require.False(t, l.continues())
}

func TestCapacity(t *testing.T) {
	require.Equal(t, 14, leafEntrySize(record.BigInt()))
	require.Equal(t, 12, innerEntrySize(record.BigInt()))
	require.Equal(t, (4096-offEntries)/14, maxEntriesPerPage(storage.PageSize4K, 14))
}
