package btree

import (
	"os"

	"github.com/pkg/errors"

	"github.com/tuannm99/novadb/internal/storage"
)

// DropIndex removes all segments of index name in dir and its schema file.
// The index resource must already be unregistered from the buffer pool.
func DropIndex(dir, name string) error {
	if err := storage.RemoveAllSegments(dir, name); err != nil {
		return err
	}
	if err := os.Remove(SchemaPath(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
