package storage

import (
	"sync"

	"github.com/pkg/errors"
)

var _ ResourceManager = (*FileResource)(nil)

// FileResource is a ResourceManager over segment files of a LocalFileSet.
type FileResource struct {
	sm *StorageManager
	fs *LocalFileSet

	mu        sync.Mutex
	pageCount uint32
}

// OpenFileResource opens (or creates) the segment files <dir>/<base>[.N] and
// recovers the page count from the file sizes.
func OpenFileResource(dir, base string, pageSize PageSize) (*FileResource, error) {
	if !pageSize.Valid() {
		return nil, errors.Wrapf(ErrInvalidPageSize, "%d", uint32(pageSize))
	}
	sm := NewStorageManager(pageSize)
	fs := NewLocalFileSet(dir, base)

	n, err := sm.CountPages(fs)
	if err != nil {
		return nil, errors.Wrapf(err, "open resource %s", base)
	}
	return &FileResource{sm: sm, fs: fs, pageCount: n}, nil
}

func (r *FileResource) PageSize() PageSize { return r.sm.PageSize() }

func (r *FileResource) PageCount() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pageCount
}

func (r *FileResource) ReadPage(buf []byte, pageNumber uint32) (CacheableData, error) {
	if pageNumber >= r.PageCount() {
		return nil, errors.Wrapf(ErrPageNotFound, "%s page %d", r.fs.Base, pageNumber)
	}
	if err := r.sm.ReadPage(r.fs, pageNumber, buf); err != nil {
		return nil, err
	}
	p, err := WrapPage(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "%s page %d", r.fs.Base, pageNumber)
	}
	if p.PageNumber() != pageNumber {
		return nil, errors.Wrapf(ErrPageFormat, "%s page %d carries number %d", r.fs.Base, pageNumber, p.PageNumber())
	}
	return p, nil
}

func (r *FileResource) ReserveNewPage(buf []byte, kind PageKind) (CacheableData, error) {
	if len(buf) != r.sm.PageSize().Bytes() {
		return nil, errors.Wrapf(ErrWrongBufferSize, "reserve with %d bytes", len(buf))
	}
	r.mu.Lock()
	n := r.pageCount
	r.pageCount++
	r.mu.Unlock()

	return FormatPage(buf, kind, n), nil
}

func (r *FileResource) WritePage(buf []byte, page CacheableData) error {
	return r.sm.WritePage(r.fs, page.PageNumber(), buf)
}

func (r *FileResource) FirstDataPageNumber() uint32 { return 0 }

func (r *FileResource) LastDataPageNumber() uint32 {
	n := r.PageCount()
	if n == 0 {
		return NoPage
	}
	return n - 1
}

func (r *FileResource) Close() error {
	return r.fs.Close()
}

// Drop closes the resource and removes all its segment files.
func (r *FileResource) Drop() error {
	if err := r.fs.Close(); err != nil && !errors.Is(err, ErrResourceClosed) {
		return err
	}
	return RemoveAllSegments(r.fs.Dir, r.fs.Base)
}
