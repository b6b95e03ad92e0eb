package btree

import (
	"github.com/pkg/errors"

	"github.com/tuannm99/novadb/internal/alias/bx"
	"github.com/tuannm99/novadb/internal/heap"
	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

// node is the part shared by leaves and inner nodes: a pinned page holding
// a sorted array of fixed-width entries that start with a key.
type node struct {
	page *storage.Page
	kt   record.DataType
	ew   int // entry width
	cap  int
}

func (n node) pageNumber() uint32 { return n.page.PageNumber() }
func (n node) count() int         { return int(n.page.RecordCount()) }
func (n node) full() bool         { return n.count() >= n.cap }
func (n node) setCount(c int)     { n.page.SetRecordCount(uint32(c)) }

func (n node) entry(i int) []byte {
	off := offEntries + i*n.ew
	return n.page.Buffer()[off : off+n.ew]
}

func (n node) keyAt(i int) record.DataField {
	return record.DecodeKey(n.kt, n.entry(i))
}

func (n node) lastKey() record.DataField { return n.keyAt(n.count() - 1) }

// lowerBound is the first index whose key is >= k.
func (n node) lowerBound(k record.DataField) int {
	lo, hi := 0, n.count()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if n.keyAt(mid).Compare(k) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// upperBound is the first index whose key is > k.
func (n node) upperBound(k record.DataField) int {
	lo, hi := 0, n.count()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if n.keyAt(mid).Compare(k) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// insertRaw shifts entries [i, count) right by one and writes e at i.
func (n node) insertRaw(i int, e []byte) {
	c := n.count()
	buf := n.page.Buffer()
	start := offEntries + i*n.ew
	end := offEntries + c*n.ew
	copy(buf[start+n.ew:end+n.ew], buf[start:end])
	copy(buf[start:start+n.ew], e)
	n.setCount(c + 1)
	n.page.MarkModified()
}

// moveTail moves entries [from, count) to the start of dst (which must be
// empty) and truncates n.
func (n node) moveTail(from int, dst node) {
	c := n.count()
	buf := n.page.Buffer()
	copy(dst.page.Buffer()[offEntries:], buf[offEntries+from*n.ew:offEntries+c*n.ew])
	dst.setCount(c - from)
	n.setCount(from)
	n.page.MarkModified()
	dst.page.MarkModified()
}

func (n node) check(kind storage.PageKind) error {
	if n.page.Kind() != kind {
		return errors.Wrapf(ErrIndexFormatCorrupt, "page %d: want %s, got %s", n.pageNumber(), kind, n.page.Kind())
	}
	if int(n.page.RecordWidth()) != n.ew {
		return errors.Wrapf(ErrIndexFormatCorrupt, "page %d: entry width %d, index uses %d",
			n.pageNumber(), n.page.RecordWidth(), n.ew)
	}
	if n.count() > n.cap {
		return errors.Wrapf(ErrIndexFormatCorrupt, "page %d: %d entries, capacity %d", n.pageNumber(), n.count(), n.cap)
	}
	return nil
}

type leaf struct{ node }

func (l leaf) next() uint32               { return bx.U32At(l.page.Buffer(), offNext) }
func (l leaf) setNext(p uint32)           { bx.PutU32At(l.page.Buffer(), offNext, p) }
func (l leaf) continues() bool            { return bx.U32At(l.page.Buffer(), offFlags)&flagContinues != 0 }
func (l leaf) firstKey() record.DataField { return l.keyAt(0) }

// setContinues records whether the last key of this leaf is also the first
// key of the next one.
func (l leaf) setContinues(v bool) {
	flags := bx.U32At(l.page.Buffer(), offFlags) &^ flagContinues
	if v {
		flags |= flagContinues
	}
	bx.PutU32At(l.page.Buffer(), offFlags, flags)
	l.page.MarkModified()
}

func (l leaf) ridAt(i int) heap.RID {
	e := l.entry(i)
	kw := l.kt.FixedWidth()
	return heap.RID{Page: bx.U32(e[kw:]), Slot: bx.U16(e[kw+4:])}
}

func (l leaf) insertAt(i int, k record.DataField, rid heap.RID) {
	e := make([]byte, l.ew)
	kw := l.kt.FixedWidth()
	record.EncodeKey(e, k)
	bx.PutU32(e[kw:], rid.Page)
	bx.PutU16(e[kw+4:], rid.Slot)
	l.insertRaw(i, e)
}

type inner struct{ node }

func (n inner) leftmost() uint32     { return bx.U32At(n.page.Buffer(), offLeftmost) }
func (n inner) setLeftmost(p uint32) { bx.PutU32At(n.page.Buffer(), offLeftmost, p) }

// childAt returns the child of pair i: the subtree right of separator i.
func (n inner) childAt(i int) uint32 {
	return bx.U32(n.entry(i)[n.kt.FixedWidth():])
}

// child returns child j in 0..count, where 0 is the leftmost child.
func (n inner) child(j int) uint32 {
	if j == 0 {
		return n.leftmost()
	}
	return n.childAt(j - 1)
}

// search picks the child to descend into for k: the first child whose
// separator (the key of the pair that follows it) is >= k, else the last.
func (n inner) search(k record.DataField) int {
	return n.lowerBound(k)
}

// insertPair inserts (sep, right) so that right becomes child j+1.
func (n inner) insertPair(j int, sep record.DataField, right uint32) {
	n.insertRaw(j, n.encodePair(sep, right))
}

func (n inner) encodePair(sep record.DataField, child uint32) []byte {
	e := make([]byte, n.ew)
	record.EncodeKey(e, sep)
	bx.PutU32(e[n.kt.FixedWidth():], child)
	return e
}
