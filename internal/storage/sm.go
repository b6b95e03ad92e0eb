package storage

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type FileSet interface {
	// Segment returns the open handle for segment segNo. Handles stay owned
	// by the FileSet and are released by Close.
	Segment(segNo int32) (*os.File, error)
	Close() error
}

var _ FileSet = (*LocalFileSet)(nil)

// LocalFileSet represents a local directory + base file name.
// Segments are stored as: Base, Base.1, Base.2, ...
type LocalFileSet struct {
	Dir  string
	Base string

	mu    sync.Mutex
	files map[int32]*os.File
}

func NewLocalFileSet(dir, base string) *LocalFileSet {
	return &LocalFileSet{
		Dir:   filepath.Clean(dir),
		Base:  base,
		files: make(map[int32]*os.File),
	}
}

func (lfs *LocalFileSet) Segment(segNo int32) (*os.File, error) {
	lfs.mu.Lock()
	defer lfs.mu.Unlock()

	if lfs.files == nil {
		return nil, ErrResourceClosed
	}
	if f, ok := lfs.files[segNo]; ok {
		return f, nil
	}
	if err := os.MkdirAll(lfs.Dir, FileMode0755); err != nil {
		return nil, err
	}
	path := filepath.Join(lfs.Dir, SegFileName(lfs.Base, segNo))
	// RDWR | CREATE (no truncate)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
	if err != nil {
		return nil, err
	}
	lfs.files[segNo] = f
	return f, nil
}

func (lfs *LocalFileSet) Close() error {
	lfs.mu.Lock()
	defer lfs.mu.Unlock()

	var err error
	for _, f := range lfs.files {
		err = multierr.Append(err, f.Close())
	}
	lfs.files = nil
	return err
}

// StorageManager maps a logical page number -> (segment, offset) for one page size.
type StorageManager struct {
	pageSize PageSize
}

func NewStorageManager(pageSize PageSize) *StorageManager {
	return &StorageManager{pageSize: pageSize}
}

func (sm *StorageManager) PageSize() PageSize { return sm.pageSize }

func (sm *StorageManager) locate(pageNumber uint32) (segNo int32, offset int64) {
	pps := sm.pageSize.PagesPerSegment()
	segNo = int32(pageNumber / pps)
	offset = int64(pageNumber%pps) * int64(sm.pageSize)
	return segNo, offset
}

// ReadPage reads exactly one page into dst.
// If the underlying file is smaller than the requested offset+PageSize,
// the remainder is zero-filled.
func (sm *StorageManager) ReadPage(fs FileSet, pageNumber uint32, dst []byte) error {
	if len(dst) != sm.pageSize.Bytes() {
		return errors.Wrapf(ErrWrongBufferSize, "read dst has %d bytes", len(dst))
	}
	segNo, off := sm.locate(pageNumber)
	f, err := fs.Segment(segNo)
	if err != nil {
		return err
	}

	n, err := f.ReadAt(dst, off)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "read page %d", pageNumber)
	}
	clear(dst[n:])
	return nil
}

// WritePage writes exactly one page from src at the location of pageNumber.
func (sm *StorageManager) WritePage(fs FileSet, pageNumber uint32, src []byte) error {
	if len(src) != sm.pageSize.Bytes() {
		return errors.Wrapf(ErrWrongBufferSize, "write src has %d bytes", len(src))
	}
	segNo, off := sm.locate(pageNumber)
	f, err := fs.Segment(segNo)
	if err != nil {
		return err
	}

	n, err := f.WriteAt(src, off)
	if err != nil {
		return errors.Wrapf(err, "write page %d", pageNumber)
	}
	if n != len(src) {
		return io.ErrShortWrite
	}
	return nil
}

// CountPages computes total pages for a LocalFileSet by scanning all segments.
func (sm *StorageManager) CountPages(lfs *LocalFileSet) (uint32, error) {
	segs, err := listSegmentsLocal(lfs.Dir, lfs.Base)
	if err != nil {
		return 0, err
	}

	var total uint32
	for _, segNo := range segs {
		info, err := os.Stat(filepath.Join(lfs.Dir, SegFileName(lfs.Base, segNo)))
		if err != nil {
			return 0, err
		}
		if info.Size() <= 0 {
			continue
		}
		last := uint32(segNo)*sm.pageSize.PagesPerSegment() + uint32(info.Size()/int64(sm.pageSize))
		if last > total {
			total = last
		}
	}
	return total, nil
}
