package storage

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/tuannm99/novadb/internal/alias/bx"
)

// Header offsets. Every page starts with the same 20-byte header:
//
// +-------+------------+-------------+-------------+-------------+ 0
// | magic | pageNumber | recordCount | recordWidth | freeOffset  |
// +-------+------------+-------------+-------------+-------------+ 20
// | page-kind specific body ...                                  |
// +--------------------------------------------------------------+ PageSize
const (
	offMagic       = 0
	offPageNumber  = 4
	offRecordCount = 8
	offRecordWidth = 12
	offFreeOffset  = 16

	HeaderSize = 20
)

// PageKind is decided once from the magic number when a buffer is wrapped.
type PageKind uint8

const (
	KindTable PageKind = iota + 1
	KindBTreeLeaf
	KindBTreeInner
)

const (
	MagicTable      uint32 = 0x4E564254 // "NVBT"
	MagicBTreeLeaf  uint32 = 0x4E56424C // "NVBL"
	MagicBTreeInner uint32 = 0x4E564249 // "NVBI"
)

func (k PageKind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindBTreeLeaf:
		return "btree-leaf"
	case KindBTreeInner:
		return "btree-inner"
	default:
		return "unknown"
	}
}

func (k PageKind) Magic() uint32 {
	switch k {
	case KindTable:
		return MagicTable
	case KindBTreeLeaf:
		return MagicBTreeLeaf
	case KindBTreeInner:
		return MagicBTreeInner
	default:
		return 0
	}
}

func kindOfMagic(m uint32) (PageKind, bool) {
	switch m {
	case MagicTable:
		return KindTable, true
	case MagicBTreeLeaf:
		return KindBTreeLeaf, true
	case MagicBTreeInner:
		return KindBTreeInner, true
	default:
		return 0, false
	}
}

var _ CacheableData = (*Page)(nil)

// Page is a typed view over a page-sized buffer. The buffer is owned by the
// buffer pool; a Page must not be used after the pin that returned it is released.
type Page struct {
	buf      []byte
	kind     PageKind
	modified atomic.Bool
}

// WrapPage interprets an already formatted buffer.
func WrapPage(buf []byte) (*Page, error) {
	if len(buf) < HeaderSize {
		return nil, errors.Wrapf(ErrPageFormat, "buffer of %d bytes", len(buf))
	}
	magic := bx.U32At(buf, offMagic)
	kind, ok := kindOfMagic(magic)
	if !ok {
		return nil, errors.Wrapf(ErrPageFormat, "unknown magic %#08x", magic)
	}
	p := &Page{buf: buf, kind: kind}
	if p.FreeOffset() > uint32(len(buf)) {
		return nil, errors.Wrapf(ErrPageFormat, "free offset %d beyond page end", p.FreeOffset())
	}
	return p, nil
}

// FormatPage zeroes buf and writes a fresh header for the given kind.
// The new page is marked modified so it reaches disk on eviction.
func FormatPage(buf []byte, kind PageKind, pageNumber uint32) *Page {
	bx.Zero(buf)
	bx.PutU32At(buf, offMagic, kind.Magic())
	bx.PutU32At(buf, offPageNumber, pageNumber)
	bx.PutU32At(buf, offFreeOffset, uint32(len(buf)))
	p := &Page{buf: buf, kind: kind}
	p.modified.Store(true)
	return p
}

func (p *Page) Buffer() []byte     { return p.buf }
func (p *Page) Kind() PageKind     { return p.kind }
func (p *Page) Size() int          { return len(p.buf) }
func (p *Page) PageNumber() uint32 { return bx.U32At(p.buf, offPageNumber) }

func (p *Page) HasBeenModified() bool { return p.modified.Load() }
func (p *Page) MarkModified()         { p.modified.Store(true) }
func (p *Page) ClearModified()        { p.modified.Store(false) }

func (p *Page) RecordCount() uint32     { return bx.U32At(p.buf, offRecordCount) }
func (p *Page) SetRecordCount(n uint32) { bx.PutU32At(p.buf, offRecordCount, n) }
func (p *Page) RecordWidth() uint32     { return bx.U32At(p.buf, offRecordWidth) }
func (p *Page) SetRecordWidth(w uint32) { bx.PutU32At(p.buf, offRecordWidth, w) }
func (p *Page) FreeOffset() uint32      { return bx.U32At(p.buf, offFreeOffset) }
func (p *Page) SetFreeOffset(o uint32)  { bx.PutU32At(p.buf, offFreeOffset, o) }
