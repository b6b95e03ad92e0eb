package btree

import (
	"github.com/pkg/errors"

	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

// Height is the number of levels on the leftmost path; a lone root leaf
// has height 1.
func (ix *Index) Height() (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	path, l, err := ix.descend(nil)
	if err != nil {
		return 0, err
	}
	ix.pm.UnpinPage(l.pageNumber())
	return len(path) + 1, nil
}

type Stats struct {
	Height     int
	InnerNodes int
	Leaves     int
	Entries    int
	// Continued counts leaves whose last key runs on into the next leaf.
	Continued int
}

// Stats walks the whole tree and checks the leaf chain on the way: keys
// must never decrease and every continuation flag must match the chain.
func (ix *Index) Stats() (Stats, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var st Stats
	level := []uint32{ix.schema.RootPage}
	var firstLeaf uint32 = storage.NoPage

	for len(level) > 0 && firstLeaf == storage.NoPage {
		if st.Height >= maxDepth {
			return st, errors.Wrapf(ErrIndexFormatCorrupt, "deeper than %d levels", maxDepth)
		}
		st.Height++
		var below []uint32
		for _, pn := range level {
			p, err := ix.pm.GetPageAndPin(pn)
			if err != nil {
				return st, err
			}
			if p.Kind() == storage.KindBTreeLeaf {
				ix.pm.UnpinPage(pn)
				firstLeaf = level[0]
				break
			}
			n, err := ix.inner(p)
			if err != nil {
				ix.pm.UnpinPage(pn)
				return st, err
			}
			st.InnerNodes++
			for j := 0; j <= n.count(); j++ {
				below = append(below, n.child(j))
			}
			ix.pm.UnpinPage(pn)
		}
		level = below
	}

	var prev record.DataField
	prevContinues := false
	for pn := firstLeaf; pn != storage.NoPage; {
		l, err := ix.pinLeaf(pn)
		if err != nil {
			return st, err
		}
		st.Leaves++
		st.Entries += l.count()
		if l.continues() {
			st.Continued++
		}
		for i := range l.count() {
			k := l.keyAt(i)
			if prev != nil && k.Compare(prev) < 0 {
				ix.pm.UnpinPage(pn)
				return st, errors.Wrapf(ErrIndexFormatCorrupt, "leaf %d: key %s after %s", pn, k, prev)
			}
			if i == 0 && prev != nil && prevContinues != (k.Compare(prev) == 0) {
				ix.pm.UnpinPage(pn)
				return st, errors.Wrapf(ErrIndexFormatCorrupt, "leaf %d: continuation flag of previous leaf is wrong", pn)
			}
			prev = k
		}
		prevContinues = l.continues()
		next := l.next()
		ix.pm.UnpinPage(pn)
		pn = next
	}
	return st, nil
}
