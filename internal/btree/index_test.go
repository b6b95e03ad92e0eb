package btree

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novadb/internal/bufferpool"
	"github.com/tuannm99/novadb/internal/heap"
	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

const indexID storage.ResourceID = 2

func newTestPool(t *testing.T, capacity int) *bufferpool.Manager {
	t.Helper()
	cfg := bufferpool.DefaultConfig()
	cfg.DefaultCacheCapacity = capacity
	bp, err := bufferpool.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bp.Close() })
	return bp
}

func newTestIndex(t *testing.T, key record.DataType, unique bool) (*Index, *bufferpool.Manager) {
	t.Helper()
	bp := newTestPool(t, 64)
	require.NoError(t, bp.RegisterResource(indexID, storage.NewMemResource(storage.PageSize4K)))
	v, err := bp.View(indexID)
	require.NoError(t, err)

	ix, err := Create(v, IndexSchema{Name: "idx", Resource: indexID, Key: key, Unique: unique})
	require.NoError(t, err)
	return ix, bp
}

func big(n int) record.DataField { return record.BigIntField(int64(n)) }

func ridFor(n int) heap.RID { return heap.RID{Page: uint32(n), Slot: uint16(n % 97)} }

func collectKeys(t *testing.T, it *KeyIterator) []record.DataField {
	t.Helper()
	defer it.Close()
	var out []record.DataField
	for it.Next() {
		out = append(out, it.Key())
	}
	require.NoError(t, it.Err())
	return out
}

func TestCreate_EmptyRoot(t *testing.T) {
	ix, _ := newTestIndex(t, record.BigInt(), true)

	h, err := ix.Height()
	require.NoError(t, err)
	require.Equal(t, 1, h)

	rids, err := mustRids(ix.LookupRids(big(1)))
	require.NoError(t, err)
	require.Empty(t, rids)
}

func mustRids(it *RIDIterator, err error) ([]heap.RID, error) {
	if err != nil {
		return nil, err
	}
	return it.Collect()
}

func TestInsert_RandomUniqueKeysRoundTrip(t *testing.T) {
	ix, _ := newTestIndex(t, record.BigInt(), true)

	const n = 5000
	rng := rand.New(rand.NewSource(42))
	for _, k := range rng.Perm(n) {
		require.NoError(t, ix.Insert(big(k), ridFor(k)))
	}

	it, err := ix.LookupKeys(nil, nil, true, true)
	require.NoError(t, err)
	keys := collectKeys(t, it)
	require.Len(t, keys, n)
	for i, k := range keys {
		require.Equal(t, big(i), k)
	}

	for _, k := range []int{0, 1, 289, 290, 2500, n - 1} {
		rids, err := mustRids(ix.LookupRids(big(k)))
		require.NoError(t, err)
		require.Equal(t, []heap.RID{ridFor(k)}, rids)
	}

	st, err := ix.Stats()
	require.NoError(t, err)
	require.Equal(t, n, st.Entries)
	require.GreaterOrEqual(t, st.Height, 2)
	require.Zero(t, st.Continued)
}

func TestInsert_UniqueRejectsDuplicate(t *testing.T) {
	ix, _ := newTestIndex(t, record.BigInt(), true)

	require.NoError(t, ix.Insert(big(42), ridFor(1)))
	err := ix.Insert(big(42), ridFor(2))
	require.ErrorIs(t, err, ErrDuplicateKey)

	st, err := ix.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, st.Entries)

	rids, err := mustRids(ix.LookupRids(big(42)))
	require.NoError(t, err)
	require.Equal(t, []heap.RID{ridFor(1)}, rids)
}

func TestInsert_UniqueAcrossLeaves(t *testing.T) {
	ix, _ := newTestIndex(t, record.BigInt(), true)
	for k := range 2000 {
		require.NoError(t, ix.Insert(big(k), ridFor(k)))
	}
	before, err := ix.Stats()
	require.NoError(t, err)
	require.Greater(t, before.Leaves, 2)

	for _, k := range []int{0, 289, 290, 291, 1999} {
		require.ErrorIs(t, ix.Insert(big(k), ridFor(k)), ErrDuplicateKey)
	}
	after, err := ix.Stats()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestInsert_KeyType(t *testing.T) {
	ix, _ := newTestIndex(t, record.BigInt(), false)
	require.ErrorIs(t, ix.Insert(record.IntField(1), ridFor(1)), ErrKeyType)
	require.ErrorIs(t, ix.Insert(nil, ridFor(1)), ErrKeyType)

	_, err := ix.LookupRange(record.DoubleField(1), nil, true, true)
	require.ErrorIs(t, err, ErrKeyType)
}

func TestDuplicates_ChainAcrossLeaves(t *testing.T) {
	ix, _ := newTestIndex(t, record.BigInt(), false)

	for k := 1; k <= 20; k++ {
		require.NoError(t, ix.Insert(big(k), ridFor(k)))
	}
	const dups = 1000
	for i := range dups {
		require.NoError(t, ix.Insert(big(7), heap.RID{Page: 10_000 + uint32(i), Slot: 1}))
	}

	rids, err := mustRids(ix.LookupRids(big(7)))
	require.NoError(t, err)
	require.Len(t, rids, dups+1)
	seen := make(map[heap.RID]bool, len(rids))
	for _, r := range rids {
		require.False(t, seen[r], "rid %s twice", r)
		seen[r] = true
	}

	for _, k := range []int{6, 8, 20} {
		rids, err := mustRids(ix.LookupRids(big(k)))
		require.NoError(t, err)
		require.Equal(t, []heap.RID{ridFor(k)}, rids)
	}

	st, err := ix.Stats()
	require.NoError(t, err)
	require.Equal(t, dups+20, st.Entries)
	require.GreaterOrEqual(t, st.Leaves, 4)
	require.GreaterOrEqual(t, st.Continued, 2)
}

func TestDuplicates_InterleavedWithOtherKeys(t *testing.T) {
	ix, _ := newTestIndex(t, record.BigInt(), false)
	rng := rand.New(rand.NewSource(3))

	want := map[int]int{}
	for i := range 6000 {
		k := rng.Intn(12)
		want[k]++
		require.NoError(t, ix.Insert(big(k), heap.RID{Page: uint32(i), Slot: uint16(k)}))
	}

	for k, n := range want {
		rids, err := mustRids(ix.LookupRids(big(k)))
		require.NoError(t, err)
		require.Len(t, rids, n, "key %d", k)
		for _, r := range rids {
			require.Equal(t, uint16(k), r.Slot)
		}
	}
	_, err := ix.Stats()
	require.NoError(t, err)
}

func TestSplits_GrowHeight(t *testing.T) {
	// CHAR(200) keys leave room for 19 entries per node, so a few hundred
	// keys force several leaf splits and at least one inner split.
	ix, _ := newTestIndex(t, record.Char(200), true)
	key := func(n int) record.DataField { return record.NewChar(fmt.Sprintf("k%05d", n), 200) }

	root := ix.Schema().RootPage
	height, err := ix.Height()
	require.NoError(t, err)
	require.Equal(t, 1, height)

	rootSplits := 0
	const n = 800
	rng := rand.New(rand.NewSource(9))
	for _, k := range rng.Perm(n) {
		require.NoError(t, ix.Insert(key(k), ridFor(k)))
		h, err := ix.Height()
		require.NoError(t, err)
		if r := ix.Schema().RootPage; r != root {
			require.Equal(t, height+1, h, "root split on key %d", k)
			root = r
			rootSplits++
		} else {
			require.Equal(t, height, h, "key %d", k)
		}
		height = h
	}
	require.GreaterOrEqual(t, rootSplits, 2)
	require.Equal(t, 1+rootSplits, height)

	st, err := ix.Stats()
	require.NoError(t, err)
	require.Equal(t, n, st.Entries)
	require.Greater(t, st.InnerNodes, 2)
	require.Greater(t, st.Leaves, 2*19)

	for k := range n {
		rids, err := mustRids(ix.LookupRids(key(k)))
		require.NoError(t, err)
		require.Equal(t, []heap.RID{ridFor(k)}, rids, "key %d", k)
	}

	// short CHAR values compare equal to their padded form
	rids, err := mustRids(ix.LookupRids(record.NewChar("k00042", 6)))
	require.NoError(t, err)
	require.Len(t, rids, 1)
}

func TestLookupRange_Bounds(t *testing.T) {
	ix, _ := newTestIndex(t, record.BigInt(), true)
	for k := range 1000 {
		require.NoError(t, ix.Insert(big(k), ridFor(k)))
	}

	count := func(start, stop record.DataField, si, ei bool) int {
		rids, err := mustRids(ix.LookupRange(start, stop, si, ei))
		require.NoError(t, err)
		return len(rids)
	}

	require.Equal(t, 101, count(big(100), big(200), true, true))
	require.Equal(t, 99, count(big(100), big(200), false, false))
	require.Equal(t, 100, count(big(100), big(200), true, false))
	require.Equal(t, 10, count(nil, big(10), true, false))
	require.Equal(t, 10, count(big(990), nil, true, true))
	require.Equal(t, 1000, count(nil, nil, true, true))
	require.Equal(t, 1, count(big(5), big(5), true, true))
	require.Zero(t, count(big(5), big(5), true, false))
	require.Zero(t, count(big(200), big(100), true, true))
	require.Zero(t, count(big(5000), nil, true, true))

	it, err := ix.LookupRange(big(500), big(502), true, true)
	require.NoError(t, err)
	var got []heap.RID
	for it.Next() {
		got = append(got, it.RID())
	}
	it.Close()
	require.Equal(t, []heap.RID{ridFor(500), ridFor(501), ridFor(502)}, got)
}

func TestLookupRange_ExclusiveStartSkipsWholeRun(t *testing.T) {
	ix, _ := newTestIndex(t, record.BigInt(), false)
	for i := range 700 {
		require.NoError(t, ix.Insert(big(5), heap.RID{Page: uint32(i)}))
	}
	for i := range 3 {
		require.NoError(t, ix.Insert(big(6), heap.RID{Page: uint32(i), Slot: 6}))
	}

	rids, err := mustRids(ix.LookupRange(big(5), nil, false, true))
	require.NoError(t, err)
	require.Len(t, rids, 3)
	for _, r := range rids {
		require.Equal(t, uint16(6), r.Slot)
	}

	rids, err = mustRids(ix.LookupRange(nil, big(5), true, false))
	require.NoError(t, err)
	require.Empty(t, rids)
}

func TestIterator_CloseReleasesPin(t *testing.T) {
	ix, bp := newTestIndex(t, record.BigInt(), true)
	for k := range 10 {
		require.NoError(t, ix.Insert(big(k), ridFor(k)))
	}
	pinned := func() int {
		st, ok := bp.CacheStats(storage.PageSize4K)
		require.True(t, ok)
		return st.Pinned
	}
	require.Zero(t, pinned())

	it, err := ix.LookupRange(nil, nil, true, true)
	require.NoError(t, err)
	require.True(t, it.Next())
	require.Equal(t, 1, pinned())

	it.Close()
	it.Close()
	require.Zero(t, pinned())
	require.False(t, it.Next())
}

func TestIterator_DrainReleasesPin(t *testing.T) {
	ix, bp := newTestIndex(t, record.BigInt(), true)
	for k := range 3000 {
		require.NoError(t, ix.Insert(big(k), ridFor(k)))
	}
	it, err := ix.LookupKeys(big(100), big(2900), true, true)
	require.NoError(t, err)
	require.Len(t, collectKeys(t, it), 2801)

	// prefetches may still be landing; none of them pins
	require.Never(t, func() bool {
		st, _ := bp.CacheStats(storage.PageSize4K)
		return st.Pinned != 0
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestOpen_ValidatesRoot(t *testing.T) {
	bp := newTestPool(t, 8)
	require.NoError(t, bp.RegisterResource(indexID, storage.NewMemResource(storage.PageSize4K)))
	v, err := bp.View(indexID)
	require.NoError(t, err)

	p, err := v.CreateNewPageAndPin(storage.KindTable)
	require.NoError(t, err)
	v.UnpinPage(p.PageNumber())

	schema := IndexSchema{Name: "idx", Resource: indexID, Key: record.BigInt(), RootPage: p.PageNumber()}
	_, err = Open(v, schema)
	require.ErrorIs(t, err, ErrIndexFormatCorrupt)

	_, err = Open(v, IndexSchema{Name: "idx", Resource: indexID, Key: record.VarChar(10)})
	require.ErrorIs(t, err, ErrBadSchema)

	_, err = Create(v, IndexSchema{Name: "idx", Resource: indexID + 1, Key: record.BigInt()})
	require.ErrorIs(t, err, ErrBadSchema)
}

func TestReopenFromFiles(t *testing.T) {
	dir := t.TempDir()
	const name = "users_id"

	fr, err := storage.OpenFileResource(dir, name, storage.PageSize4K)
	require.NoError(t, err)
	bp, err := bufferpool.Open(bufferpool.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, bp.RegisterResource(indexID, fr))
	v, err := bp.View(indexID)
	require.NoError(t, err)

	ix, err := Create(v, IndexSchema{Name: name, Resource: indexID, Key: record.BigInt(), Unique: true})
	require.NoError(t, err)
	require.NoError(t, ix.PersistTo(SchemaPath(dir, name)))
	for k := range 3000 {
		require.NoError(t, ix.Insert(big(k), ridFor(k)))
	}
	require.NoError(t, ix.Flush())
	live := ix.Schema()
	require.NoError(t, bp.Close())
	require.NoError(t, fr.Close())

	schema, err := LoadSchema(SchemaPath(dir, name))
	require.NoError(t, err)
	require.Equal(t, live, schema)

	fr, err = storage.OpenFileResource(dir, name, storage.PageSize4K)
	require.NoError(t, err)
	bp = newTestPool(t, 16)
	require.NoError(t, bp.RegisterResource(indexID, fr))
	v, err = bp.View(indexID)
	require.NoError(t, err)

	ix, err = Open(v, schema)
	require.NoError(t, err)
	for _, k := range []int{0, 1234, 2999} {
		rids, err := mustRids(ix.LookupRids(big(k)))
		require.NoError(t, err)
		require.Equal(t, []heap.RID{ridFor(k)}, rids)
	}

	require.NoError(t, bp.UnregisterResource(indexID))
	require.NoError(t, fr.Close())
	require.NoError(t, DropIndex(dir, name))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
	_, err = os.Stat(filepath.Join(dir, name))
	require.ErrorIs(t, err, os.ErrNotExist)
}
