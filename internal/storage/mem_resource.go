package storage

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var _ ResourceManager = (*MemResource)(nil)

// MemResource keeps pages in memory. It backs temporary resources and is the
// standard test double for the buffer pool since it counts physical I/O.
type MemResource struct {
	pageSize PageSize

	mu    sync.Mutex
	pages [][]byte

	reads  atomic.Int64
	writes atomic.Int64
}

func NewMemResource(pageSize PageSize) *MemResource {
	return &MemResource{pageSize: pageSize}
}

func (m *MemResource) PageSize() PageSize { return m.pageSize }

func (m *MemResource) Reads() int64  { return m.reads.Load() }
func (m *MemResource) Writes() int64 { return m.writes.Load() }

func (m *MemResource) ReadPage(buf []byte, pageNumber uint32) (CacheableData, error) {
	m.mu.Lock()
	if int(pageNumber) >= len(m.pages) {
		m.mu.Unlock()
		return nil, errors.Wrapf(ErrPageNotFound, "page %d", pageNumber)
	}
	src := m.pages[pageNumber]
	if src == nil {
		// reserved but never written
		clear(buf)
	} else {
		copy(buf, src)
	}
	m.mu.Unlock()

	m.reads.Add(1)
	return WrapPage(buf)
}

func (m *MemResource) ReserveNewPage(buf []byte, kind PageKind) (CacheableData, error) {
	if len(buf) != m.pageSize.Bytes() {
		return nil, errors.Wrapf(ErrWrongBufferSize, "reserve with %d bytes", len(buf))
	}
	m.mu.Lock()
	n := uint32(len(m.pages))
	m.pages = append(m.pages, nil)
	m.mu.Unlock()

	return FormatPage(buf, kind, n), nil
}

func (m *MemResource) WritePage(buf []byte, page CacheableData) error {
	n := page.PageNumber()

	m.mu.Lock()
	defer m.mu.Unlock()
	if int(n) >= len(m.pages) {
		return errors.Wrapf(ErrPageNotFound, "write page %d", n)
	}
	if m.pages[n] == nil {
		m.pages[n] = make([]byte, len(buf))
	}
	copy(m.pages[n], buf)
	m.writes.Add(1)
	return nil
}

func (m *MemResource) FirstDataPageNumber() uint32 { return 0 }

func (m *MemResource) LastDataPageNumber() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pages) == 0 {
		return NoPage
	}
	return uint32(len(m.pages) - 1)
}
