package btree

import (
	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

// Node layout after the common page header:
//
// leaf : [nextLeaf u32][flags u32]      then entries [key][ridPage u32][ridSlot u16]
// inner: [leftmostChild u32][reserved]  then entries [key][child u32]
const (
	offNext     = storage.HeaderSize
	offFlags    = storage.HeaderSize + 4
	offLeftmost = storage.HeaderSize
	offEntries  = storage.HeaderSize + 8

	ridSize   = 4 + 2
	childSize = 4

	flagContinues = 1
)

func leafEntrySize(key record.DataType) int  { return key.FixedWidth() + ridSize }
func innerEntrySize(key record.DataType) int { return key.FixedWidth() + childSize }

// maxEntriesPerPage returns how many fixed-size entries fit after the node
// header of a page.
func maxEntriesPerPage(ps storage.PageSize, entrySize int) int {
	if entrySize <= 0 {
		return 0
	}
	free := ps.Bytes() - offEntries
	if free <= 0 {
		return 0
	}
	return free / entrySize
}
