package bufferpool

import (
	"github.com/tuannm99/novadb/internal/storage"
)

// PageManager is the resource-scoped face of the pool. Tables and indexes
// only ever see this.
type PageManager interface {
	Resource() storage.ResourceID
	PageSize() storage.PageSize

	GetPageAndPin(pageNumber uint32) (*storage.Page, error)
	UnpinAndGetPageAndPin(unpin, pageNumber uint32) (*storage.Page, error)
	UnpinPage(pageNumber uint32)
	CreateNewPageAndPin(kind storage.PageKind) (*storage.Page, error)

	PrefetchPage(pageNumber uint32) error
	PrefetchPages(first, last uint32) error

	FirstDataPageNumber() uint32
	LastDataPageNumber() uint32

	Flush() error
}

var _ PageManager = (*ResourceView)(nil)

// ResourceView binds a Manager to one registered resource.
type ResourceView struct {
	m  *Manager
	id storage.ResourceID
	rm storage.ResourceManager
}

// View returns a PageManager for a registered resource.
func (m *Manager) View(id storage.ResourceID) (*ResourceView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := m.resourceLocked("View", id, storage.NoPage)
	if err != nil {
		return nil, err
	}
	return &ResourceView{m: m, id: id, rm: res.rm}, nil
}

func (v *ResourceView) Resource() storage.ResourceID { return v.id }
func (v *ResourceView) PageSize() storage.PageSize   { return v.rm.PageSize() }

func (v *ResourceView) GetPageAndPin(pageNumber uint32) (*storage.Page, error) {
	data, err := v.m.GetPageAndPin(v.id, pageNumber)
	return v.page(pageNumber, data, err)
}

func (v *ResourceView) UnpinAndGetPageAndPin(unpin, pageNumber uint32) (*storage.Page, error) {
	data, err := v.m.UnpinAndGetPageAndPin(v.id, unpin, pageNumber)
	return v.page(pageNumber, data, err)
}

func (v *ResourceView) UnpinPage(pageNumber uint32) { v.m.UnpinPage(v.id, pageNumber) }

func (v *ResourceView) CreateNewPageAndPin(kind storage.PageKind) (*storage.Page, error) {
	data, err := v.m.CreateNewPageAndPin(v.id, kind)
	return v.page(storage.NoPage, data, err)
}

func (v *ResourceView) PrefetchPage(pageNumber uint32) error {
	return v.m.PrefetchPage(v.id, pageNumber)
}

func (v *ResourceView) PrefetchPages(first, last uint32) error {
	return v.m.PrefetchPages(v.id, first, last)
}

func (v *ResourceView) FirstDataPageNumber() uint32 { return v.rm.FirstDataPageNumber() }
func (v *ResourceView) LastDataPageNumber() uint32  { return v.rm.LastDataPageNumber() }

// Flush writes this resource's dirty pages only.
func (v *ResourceView) Flush() error { return v.m.FlushResource(v.id) }

func (v *ResourceView) page(pageNumber uint32, data storage.CacheableData, err error) (*storage.Page, error) {
	if err != nil {
		return nil, err
	}
	p, ok := data.(*storage.Page)
	if !ok {
		v.m.UnpinPage(v.id, data.PageNumber())
		return nil, opError("View", v.id, pageNumber, ErrNotAPage)
	}
	return p, nil
}
