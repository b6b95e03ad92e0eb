package btree

import (
	"log/slog"

	"github.com/tuannm99/novadb/internal/heap"
	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

// cursor walks leaf entries from a start position up to an optional stop
// key. It holds at most one pinned leaf and moves with
// UnpinAndGetPageAndPin.
type cursor struct {
	ix *Index

	l      leaf
	pinned bool
	pos    int

	after    record.DataField // exclusive start
	stop     record.DataField
	stopIncl bool

	key  record.DataField
	rid  heap.RID
	err  error
	done bool
}

func (ix *Index) openCursor(start, stop record.DataField, startIncl, stopIncl bool) (*cursor, error) {
	var err error
	if start, err = ix.normalize(start); err != nil {
		return nil, err
	}
	if stop, err = ix.normalize(stop); err != nil {
		return nil, err
	}

	c := &cursor{ix: ix, stop: stop, stopIncl: stopIncl}
	if start != nil && stop != nil {
		cmp := start.Compare(stop)
		if cmp > 0 || (cmp == 0 && !(startIncl && stopIncl)) {
			c.done = true
			return c, nil
		}
	}

	_, l, err := ix.descend(start)
	if err != nil {
		return nil, err
	}
	c.l, c.pinned = l, true
	switch {
	case start == nil:
		c.pos = 0
	case startIncl:
		c.pos = l.lowerBound(start)
	default:
		// equal keys may continue on following leaves; next skips them
		c.pos = l.upperBound(start)
		c.after = start
	}
	c.prefetchNext()
	return c, nil
}

// pastStop reports whether k is beyond the stop bound.
func (c *cursor) pastStop(k record.DataField) bool {
	if c.stop == nil {
		return false
	}
	cmp := k.Compare(c.stop)
	return cmp > 0 || (cmp == 0 && !c.stopIncl)
}

// needsNext reports whether the leaf after the current one may hold
// entries inside the range.
func (c *cursor) needsNext() bool {
	if c.l.next() == storage.NoPage {
		return false
	}
	if c.stop == nil || c.l.count() == 0 {
		return true
	}
	if c.l.continues() {
		return true
	}
	return c.l.lastKey().Compare(c.stop) < 0
}

func (c *cursor) prefetchNext() {
	if !c.needsNext() {
		return
	}
	if err := c.ix.pm.PrefetchPage(c.l.next()); err != nil {
		slog.Debug("btree: prefetch failed", "index", c.ix.schema.Name, "page", c.l.next(), "err", err)
	}
}

func (c *cursor) next() bool {
	if c.done || c.err != nil {
		return false
	}
	for {
		if c.pos < c.l.count() {
			k := c.l.keyAt(c.pos)
			if c.after != nil && k.Compare(c.after) <= 0 {
				c.pos++
				continue
			}
			if c.pastStop(k) {
				c.close()
				return false
			}
			c.key, c.rid = k, c.l.ridAt(c.pos)
			c.pos++
			return true
		}

		if !c.needsNext() {
			c.close()
			return false
		}
		cur, nextNo := c.l.pageNumber(), c.l.next()
		p, err := c.ix.pm.UnpinAndGetPageAndPin(cur, nextNo)
		if err != nil {
			c.pinned = false
			c.fail(err)
			return false
		}
		l, err := c.ix.leaf(p)
		c.l, c.pos = l, 0
		if err != nil {
			c.fail(err)
			return false
		}
		c.prefetchNext()
	}
}

func (c *cursor) fail(err error) {
	c.err = err
	c.close()
}

func (c *cursor) close() {
	if c.pinned {
		c.ix.pm.UnpinPage(c.l.pageNumber())
		c.pinned = false
	}
	c.done = true
}

// RIDIterator yields the RIDs of a lookup in key order.
type RIDIterator struct{ c *cursor }

func (it *RIDIterator) Next() bool            { return it.c.next() }
func (it *RIDIterator) RID() heap.RID         { return it.c.rid }
func (it *RIDIterator) Key() record.DataField { return it.c.key }
func (it *RIDIterator) Err() error            { return it.c.err }

// Close releases the pinned leaf. Safe to call more than once.
func (it *RIDIterator) Close() { it.c.close() }

// Collect drains the iterator and closes it.
func (it *RIDIterator) Collect() ([]heap.RID, error) {
	defer it.Close()
	var out []heap.RID
	for it.Next() {
		out = append(out, it.RID())
	}
	return out, it.Err()
}

// KeyIterator yields the key of every entry in range, duplicates included.
type KeyIterator struct{ c *cursor }

func (it *KeyIterator) Next() bool            { return it.c.next() }
func (it *KeyIterator) Key() record.DataField { return it.c.key }
func (it *KeyIterator) Err() error            { return it.c.err }
func (it *KeyIterator) Close()                { it.c.close() }

// LookupRids returns every RID stored under key.
func (ix *Index) LookupRids(key record.DataField) (*RIDIterator, error) {
	if key == nil {
		return nil, ErrKeyType
	}
	c, err := ix.openCursor(key, key, true, true)
	if err != nil {
		return nil, err
	}
	return &RIDIterator{c: c}, nil
}

// LookupRange returns the RIDs of keys between start and stop. A nil start
// begins at the leftmost leaf; a nil stop runs to the end of the index.
func (ix *Index) LookupRange(start, stop record.DataField, startIncluded, stopIncluded bool) (*RIDIterator, error) {
	c, err := ix.openCursor(start, stop, startIncluded, stopIncluded)
	if err != nil {
		return nil, err
	}
	return &RIDIterator{c: c}, nil
}

// LookupKeys is LookupRange yielding keys instead of RIDs.
func (ix *Index) LookupKeys(start, stop record.DataField, startIncluded, stopIncluded bool) (*KeyIterator, error) {
	c, err := ix.openCursor(start, stop, startIncluded, stopIncluded)
	if err != nil {
		return nil, err
	}
	return &KeyIterator{c: c}, nil
}
