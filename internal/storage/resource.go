package storage

// ResourceID identifies a table or index file for the lifetime of its catalogue entry.
type ResourceID int32

// NoPage marks an absent page pointer (e.g. the last leaf's next pointer,
// or the last data page of an empty resource).
const NoPage = ^uint32(0)

// CacheableData is what the page cache stores: a page-sized buffer plus the
// typed wrapper interpreting it.
type CacheableData interface {
	Buffer() []byte
	PageNumber() uint32
	HasBeenModified() bool
}

// ResourceManager owns the on-disk representation of one resource.
// The buffer pool is its only caller.
type ResourceManager interface {
	PageSize() PageSize

	// ReadPage fills buf with the page contents and wraps it.
	ReadPage(buf []byte, pageNumber uint32) (CacheableData, error)

	// ReserveNewPage assigns the next page number, formats buf as an empty
	// page of the given kind and wraps it. No I/O happens here.
	ReserveNewPage(buf []byte, kind PageKind) (CacheableData, error)

	// WritePage persists buf at the page number of the wrapping page.
	WritePage(buf []byte, page CacheableData) error

	FirstDataPageNumber() uint32

	// LastDataPageNumber returns NoPage while the resource has no pages.
	LastDataPageNumber() uint32
}
