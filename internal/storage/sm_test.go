package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileResource_ReserveWriteRead(t *testing.T) {
	dir := t.TempDir()

	r, err := OpenFileResource(dir, "t1", PageSize4K)
	require.NoError(t, err)
	require.Equal(t, NoPage, r.LastDataPageNumber())

	buf := make([]byte, PageSize4K)
	data, err := r.ReserveNewPage(buf, KindTable)
	require.NoError(t, err)
	require.Equal(t, uint32(0), data.PageNumber())
	require.True(t, data.HasBeenModified())

	buf[HeaderSize] = 42
	require.NoError(t, r.WritePage(buf, data))
	require.Equal(t, uint32(0), r.LastDataPageNumber())

	dst := make([]byte, PageSize4K)
	got, err := r.ReadPage(dst, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), got.PageNumber())
	require.Equal(t, byte(42), dst[HeaderSize])

	_, err = r.ReadPage(dst, 1)
	require.ErrorIs(t, err, ErrPageNotFound)

	require.NoError(t, r.Close())
}

func TestFileResource_ReopenRecoversPageCount(t *testing.T) {
	dir := t.TempDir()

	r, err := OpenFileResource(dir, "idx", PageSize4K)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		buf := make([]byte, PageSize4K)
		p, err := r.ReserveNewPage(buf, KindBTreeLeaf)
		require.NoError(t, err)
		require.NoError(t, r.WritePage(buf, p))
	}
	require.NoError(t, r.Close())

	r2, err := OpenFileResource(dir, "idx", PageSize4K)
	require.NoError(t, err)
	defer func() { _ = r2.Close() }()
	require.Equal(t, uint32(3), r2.PageCount())
	require.Equal(t, uint32(2), r2.LastDataPageNumber())
}

func TestFileResource_Drop(t *testing.T) {
	dir := t.TempDir()

	r, err := OpenFileResource(dir, "gone", PageSize4K)
	require.NoError(t, err)
	buf := make([]byte, PageSize4K)
	p, err := r.ReserveNewPage(buf, KindTable)
	require.NoError(t, err)
	require.NoError(t, r.WritePage(buf, p))

	require.NoError(t, r.Drop())
	_, err = os.Stat(filepath.Join(dir, "gone"))
	require.True(t, os.IsNotExist(err))
}

func TestStorageManager_WrongBufferSize(t *testing.T) {
	sm := NewStorageManager(PageSize4K)
	fs := NewLocalFileSet(t.TempDir(), "x")
	defer func() { _ = fs.Close() }()

	require.ErrorIs(t, sm.ReadPage(fs, 0, make([]byte, 10)), ErrWrongBufferSize)
	require.ErrorIs(t, sm.WritePage(fs, 0, make([]byte, 10)), ErrWrongBufferSize)
}

func TestMemResource_CountsIO(t *testing.T) {
	m := NewMemResource(PageSize4K)

	buf := make([]byte, PageSize4K)
	p, err := m.ReserveNewPage(buf, KindTable)
	require.NoError(t, err)
	require.NoError(t, m.WritePage(buf, p))

	_, err = m.ReadPage(make([]byte, PageSize4K), 0)
	require.NoError(t, err)

	require.Equal(t, int64(1), m.Reads())
	require.Equal(t, int64(1), m.Writes())
}
