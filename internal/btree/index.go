package btree

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/tuannm99/novadb/internal/bufferpool"
	"github.com/tuannm99/novadb/internal/heap"
	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

// maxDepth guards descent against cycles in a corrupt file.
const maxDepth = 32

// Index is a B+tree over one index resource. Leaves hold (key, RID) entries
// and are chained left to right; a run of equal keys may span several leaves.
//
// Insert is serialised by the index. Iterators must not be used while an
// insert is running on the same index.
type Index struct {
	pm bufferpool.PageManager

	mu         sync.Mutex
	schema     IndexSchema
	schemaFile string

	leafCap  int
	innerCap int
}

type pathStep struct {
	page  uint32
	child int
}

func newIndex(pm bufferpool.PageManager, schema IndexSchema) (*Index, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if schema.Resource != pm.Resource() {
		return nil, errors.Wrapf(ErrBadSchema, "index %s: schema resource %d, pool view %d",
			schema.Name, schema.Resource, pm.Resource())
	}
	ix := &Index{
		pm:       pm,
		schema:   schema,
		leafCap:  maxEntriesPerPage(pm.PageSize(), leafEntrySize(schema.Key)),
		innerCap: maxEntriesPerPage(pm.PageSize(), innerEntrySize(schema.Key)),
	}
	if ix.leafCap < 2 || ix.innerCap < 2 {
		return nil, errors.Wrapf(ErrBadSchema, "index %s: key %s too wide for %s pages",
			schema.Name, schema.Key, pm.PageSize())
	}
	return ix, nil
}

// Create allocates an empty root leaf and records it in schema.RootPage.
func Create(pm bufferpool.PageManager, schema IndexSchema) (*Index, error) {
	ix, err := newIndex(pm, schema)
	if err != nil {
		return nil, err
	}
	root, err := ix.newLeaf()
	if err != nil {
		return nil, err
	}
	ix.schema.RootPage = root.pageNumber()
	pm.UnpinPage(root.pageNumber())

	slog.Debug("btree: created", "index", schema.Name, "root", ix.schema.RootPage)
	return ix, nil
}

// Open attaches to an existing index and validates its root page.
func Open(pm bufferpool.PageManager, schema IndexSchema) (*Index, error) {
	ix, err := newIndex(pm, schema)
	if err != nil {
		return nil, err
	}
	if schema.RootPage == storage.NoPage {
		return nil, errors.Wrapf(ErrBadSchema, "index %s has no root page", schema.Name)
	}
	p, err := pm.GetPageAndPin(schema.RootPage)
	if err != nil {
		return nil, err
	}
	defer pm.UnpinPage(schema.RootPage)
	switch p.Kind() {
	case storage.KindBTreeLeaf:
		_, err = ix.leaf(p)
	case storage.KindBTreeInner:
		_, err = ix.inner(p)
	default:
		err = errors.Wrapf(ErrIndexFormatCorrupt, "root page %d is a %s page", schema.RootPage, p.Kind())
	}
	if err != nil {
		return nil, err
	}
	return ix, nil
}

// Schema returns a copy of the current schema, including the live root page.
func (ix *Index) Schema() IndexSchema {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.schema
}

// PersistTo saves the schema to path now and after every root change.
func (ix *Index) PersistTo(path string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.schemaFile = path
	return SaveSchema(path, ix.schema)
}

func (ix *Index) Flush() error { return ix.pm.Flush() }

func (ix *Index) leaf(p *storage.Page) (leaf, error) {
	l := leaf{node{page: p, kt: ix.schema.Key, ew: leafEntrySize(ix.schema.Key), cap: ix.leafCap}}
	return l, l.check(storage.KindBTreeLeaf)
}

func (ix *Index) inner(p *storage.Page) (inner, error) {
	n := inner{node{page: p, kt: ix.schema.Key, ew: innerEntrySize(ix.schema.Key), cap: ix.innerCap}}
	return n, n.check(storage.KindBTreeInner)
}

// pinLeaf pins pageNumber and checks that it is a leaf of this index.
func (ix *Index) pinLeaf(pageNumber uint32) (leaf, error) {
	p, err := ix.pm.GetPageAndPin(pageNumber)
	if err != nil {
		return leaf{}, err
	}
	l, err := ix.leaf(p)
	if err != nil {
		ix.pm.UnpinPage(pageNumber)
		return leaf{}, err
	}
	return l, nil
}

func (ix *Index) pinInner(pageNumber uint32) (inner, error) {
	p, err := ix.pm.GetPageAndPin(pageNumber)
	if err != nil {
		return inner{}, err
	}
	n, err := ix.inner(p)
	if err != nil {
		ix.pm.UnpinPage(pageNumber)
		return inner{}, err
	}
	return n, nil
}

func (ix *Index) newLeaf() (leaf, error) {
	p, err := ix.pm.CreateNewPageAndPin(storage.KindBTreeLeaf)
	if err != nil {
		return leaf{}, err
	}
	p.SetRecordWidth(uint32(leafEntrySize(ix.schema.Key)))
	l, _ := ix.leaf(p)
	l.setNext(storage.NoPage)
	l.setContinues(false)
	return l, nil
}

func (ix *Index) newInner() (inner, error) {
	p, err := ix.pm.CreateNewPageAndPin(storage.KindBTreeInner)
	if err != nil {
		return inner{}, err
	}
	p.SetRecordWidth(uint32(innerEntrySize(ix.schema.Key)))
	n, _ := ix.inner(p)
	return n, nil
}

// normalize checks the key kind and pads CHAR keys to the index width.
func (ix *Index) normalize(k record.DataField) (record.DataField, error) {
	if k == nil {
		return nil, nil
	}
	if k.Type().Kind != ix.schema.Key.Kind {
		return nil, errors.Wrapf(ErrKeyType, "index %s: got %s, want %s", ix.schema.Name, k.Type(), ix.schema.Key)
	}
	if c, ok := k.(record.CharField); ok {
		return record.NewChar(c.Value, ix.schema.Key.Length), nil
	}
	return k, nil
}

// descend walks from the root to the leaf that k belongs to (leftmost leaf
// for a nil key), holding one pin at a time. The leaf is returned pinned;
// path lists the inner nodes visited and the child taken in each.
func (ix *Index) descend(k record.DataField) ([]pathStep, leaf, error) {
	var path []pathStep

	p, err := ix.pm.GetPageAndPin(ix.schema.RootPage)
	if err != nil {
		return nil, leaf{}, err
	}
	for {
		switch p.Kind() {
		case storage.KindBTreeLeaf:
			l, err := ix.leaf(p)
			if err != nil {
				ix.pm.UnpinPage(p.PageNumber())
				return nil, leaf{}, err
			}
			return path, l, nil

		case storage.KindBTreeInner:
			n, err := ix.inner(p)
			if err == nil && len(path) >= maxDepth {
				err = errors.Wrapf(ErrIndexFormatCorrupt, "descent deeper than %d levels", maxDepth)
			}
			if err != nil {
				ix.pm.UnpinPage(p.PageNumber())
				return nil, leaf{}, err
			}
			j := 0
			if k != nil {
				j = n.search(k)
			}
			child := n.child(j)
			path = append(path, pathStep{page: n.pageNumber(), child: j})
			p, err = ix.pm.UnpinAndGetPageAndPin(n.pageNumber(), child)
			if err != nil {
				return nil, leaf{}, err
			}

		default:
			ix.pm.UnpinPage(p.PageNumber())
			return nil, leaf{}, errors.Wrapf(ErrIndexFormatCorrupt, "page %d is a %s page", p.PageNumber(), p.Kind())
		}
	}
}

// peekFirst returns the first key of leaf pageNumber, or nil if it is empty.
func (ix *Index) peekFirst(pageNumber uint32) (record.DataField, error) {
	l, err := ix.pinLeaf(pageNumber)
	if err != nil {
		return nil, err
	}
	defer ix.pm.UnpinPage(pageNumber)
	if l.count() == 0 {
		return nil, nil
	}
	return l.firstKey(), nil
}

func equalKeys(a, b record.DataField) bool {
	return a != nil && b != nil && a.Compare(b) == 0
}

// Insert adds (key, rid). On a unique index an existing key fails with
// ErrDuplicateKey before anything is modified.
func (ix *Index) Insert(key record.DataField, rid heap.RID) error {
	k, err := ix.normalize(key)
	if err != nil {
		return err
	}
	if k == nil {
		return errors.Wrap(ErrKeyType, "nil key")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	path, l, err := ix.descend(k)
	if err != nil {
		return err
	}
	unpinLeaf := func() { ix.pm.UnpinPage(l.pageNumber()) }

	n := l.count()
	pos := l.upperBound(k)
	found := pos > 0 && l.keyAt(pos-1).Compare(k) == 0

	// Only an insert at the end of a leaf can touch the chain.
	var nextFirst record.DataField
	if pos == n && l.next() != storage.NoPage {
		if nextFirst, err = ix.peekFirst(l.next()); err != nil {
			unpinLeaf()
			return err
		}
	}

	if ix.schema.Unique && (found || equalKeys(nextFirst, k)) {
		unpinLeaf()
		return errors.Wrapf(ErrDuplicateKey, "index %s key %s", ix.schema.Name, k)
	}

	if !l.full() {
		l.insertAt(pos, k, rid)
		if pos == n && l.next() != storage.NoPage {
			l.setContinues(equalKeys(nextFirst, k))
		}
		unpinLeaf()
		return nil
	}

	if found && pos == n && l.continues() {
		spilled, err := ix.spill(l, k, rid)
		if err != nil || spilled {
			unpinLeaf()
			return err
		}
	}

	return ix.splitLeaf(path, l, k, rid, nextFirst)
}

// spill puts a duplicate of the run that ends l into the first following
// chain leaf with room. l stays pinned. It reports false when every leaf of
// the run is full.
func (ix *Index) spill(l leaf, k record.DataField, rid heap.RID) (bool, error) {
	cur, err := ix.pinLeaf(l.next())
	if err != nil {
		return false, err
	}
	for {
		if cur.count() == 0 || cur.firstKey().Compare(k) != 0 {
			ix.pm.UnpinPage(cur.pageNumber())
			return false, nil
		}
		if !cur.full() {
			pos := cur.upperBound(k)
			if pos == cur.count() && cur.next() != storage.NoPage {
				nf, err := ix.peekFirst(cur.next())
				if err != nil {
					ix.pm.UnpinPage(cur.pageNumber())
					return false, err
				}
				cur.setContinues(equalKeys(nf, k))
			}
			cur.insertAt(pos, k, rid)
			ix.pm.UnpinPage(cur.pageNumber())
			slog.Debug("btree: duplicate spilled", "index", ix.schema.Name, "from", l.pageNumber(), "into", cur.pageNumber())
			return true, nil
		}
		if !cur.continues() || cur.next() == storage.NoPage {
			ix.pm.UnpinPage(cur.pageNumber())
			return false, nil
		}
		nextNo := cur.next()
		p, err := ix.pm.UnpinAndGetPageAndPin(cur.pageNumber(), nextNo)
		if err != nil {
			return false, err
		}
		if cur, err = ix.leaf(p); err != nil {
			ix.pm.UnpinPage(nextNo)
			return false, err
		}
	}
}

// splitPoint is n/2 moved to the nearest boundary between two different
// keys, so a run of duplicates is not cut when it can be avoided.
func splitPoint(l leaf) int {
	n := l.count()
	mid := n / 2
	for d := 0; d < n; d++ {
		for _, m := range []int{mid - d, mid + d} {
			if m >= 1 && m <= n-1 && l.keyAt(m-1).Compare(l.keyAt(m)) != 0 {
				return m
			}
		}
	}
	return mid
}

// splitLeaf splits the full, pinned leaf l, inserts (k, rid) into the proper
// half and pushes the new separator up along path. l is unpinned on return.
func (ix *Index) splitLeaf(path []pathStep, l leaf, k record.DataField, rid heap.RID, nextFirst record.DataField) error {
	r, err := ix.newLeaf()
	if err != nil {
		ix.pm.UnpinPage(l.pageNumber())
		return err
	}

	m := splitPoint(l)
	l.moveTail(m, r.node)
	r.setNext(l.next())
	l.setNext(r.pageNumber())

	target := l
	if k.Compare(l.lastKey()) > 0 {
		target = r
	}
	pos := target.upperBound(k)
	atEnd := pos == target.count()
	target.insertAt(pos, k, rid)

	if target.pageNumber() == r.pageNumber() && atEnd {
		// k landed past the old end, so nextFirst was read
		r.setContinues(r.next() != storage.NoPage && equalKeys(nextFirst, k))
	} else {
		// r ends with l's old last key
		r.setContinues(l.continues())
	}
	l.setContinues(l.lastKey().Compare(r.firstKey()) == 0)

	sep := l.lastKey()
	right := r.pageNumber()
	slog.Debug("btree: leaf split",
		"index", ix.schema.Name,
		"left", l.pageNumber(),
		"right", right,
		"leftCount", l.count(),
		"rightCount", r.count(),
		"sep", sep.String(),
	)
	ix.pm.UnpinPage(l.pageNumber())
	ix.pm.UnpinPage(right)

	return ix.insertIntoParent(path, sep, right)
}
