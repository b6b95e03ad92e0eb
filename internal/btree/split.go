package btree

import (
	"log/slog"

	"github.com/tuannm99/novadb/internal/alias/bx"
	"github.com/tuannm99/novadb/internal/record"
)

// insertIntoParent adds (sep, right) next to the child that was split,
// splitting inner nodes bottom-up as long as they overflow. When the root
// itself splits a new root is grown.
func (ix *Index) insertIntoParent(path []pathStep, sep record.DataField, right uint32) error {
	for level := len(path) - 1; level >= 0; level-- {
		step := path[level]
		n, err := ix.pinInner(step.page)
		if err != nil {
			return err
		}
		if !n.full() {
			n.insertPair(step.child, sep, right)
			ix.pm.UnpinPage(step.page)
			return nil
		}

		sep, right, err = ix.splitInner(n, step.child, sep, right)
		ix.pm.UnpinPage(step.page)
		if err != nil {
			return err
		}
	}
	return ix.growRoot(sep, right)
}

// splitInner splits the full, pinned node n while inserting (sep, right) as
// pair j. The middle pair moves up: its key becomes the separator returned
// to the caller and its child becomes the leftmost child of the new node.
func (ix *Index) splitInner(n inner, j int, sep record.DataField, right uint32) (record.DataField, uint32, error) {
	r, err := ix.newInner()
	if err != nil {
		return nil, 0, err
	}
	defer ix.pm.UnpinPage(r.pageNumber())

	c := n.count()
	pairs := make([][]byte, 0, c+1)
	for i := range c {
		pairs = append(pairs, append([]byte(nil), n.entry(i)...))
	}
	pairs = append(pairs, nil)
	copy(pairs[j+1:], pairs[j:])
	pairs[j] = n.encodePair(sep, right)

	mid := len(pairs) / 2
	up := pairs[mid]
	upKey := record.DecodeKey(n.kt, up)
	upChild := bx.U32(up[n.kt.FixedWidth():])

	n.setCount(0)
	for i, e := range pairs[:mid] {
		n.insertRaw(i, e)
	}
	r.setLeftmost(upChild)
	for i, e := range pairs[mid+1:] {
		r.insertRaw(i, e)
	}

	slog.Debug("btree: inner split",
		"index", ix.schema.Name,
		"left", n.pageNumber(),
		"right", r.pageNumber(),
		"leftCount", n.count(),
		"rightCount", r.count(),
		"sep", upKey.String(),
	)
	return upKey, r.pageNumber(), nil
}

// growRoot makes a new inner root over the old root and right.
func (ix *Index) growRoot(sep record.DataField, right uint32) error {
	root, err := ix.newInner()
	if err != nil {
		return err
	}
	old := ix.schema.RootPage
	root.setLeftmost(old)
	root.insertPair(0, sep, right)
	ix.schema.RootPage = root.pageNumber()
	ix.pm.UnpinPage(root.pageNumber())

	slog.Debug("btree: new root", "index", ix.schema.Name, "root", ix.schema.RootPage, "old", old)

	if ix.schemaFile != "" {
		return SaveSchema(ix.schemaFile, ix.schema)
	}
	return nil
}
