package btree

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

const (
	schemaFileSuffix = ".btree.json"
	schemaVersion    = 1
)

// IndexSchema describes one index. RootPage moves when the root splits.
type IndexSchema struct {
	Name     string             `json:"name"`
	Resource storage.ResourceID `json:"resource"`
	Key      record.DataType    `json:"key"`
	Unique   bool               `json:"unique"`
	RootPage uint32             `json:"root_page"`
}

func (s IndexSchema) Validate() error {
	if s.Name == "" {
		return errors.Wrap(ErrBadSchema, "empty index name")
	}
	if !s.Key.IsKeyType() {
		return errors.Wrapf(ErrBadSchema, "index %s: %s cannot be a key", s.Name, s.Key)
	}
	return nil
}

type diskSchema struct {
	Version int `json:"version"`
	IndexSchema
}

// SchemaPath is where the schema of index name lives inside dir, next to
// its segment files.
func SchemaPath(dir, name string) string {
	return filepath.Join(dir, name+schemaFileSuffix)
}

func LoadSchema(path string) (IndexSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return IndexSchema{}, errors.Wrapf(err, "read index schema %s", path)
	}
	var ds diskSchema
	if err := json.Unmarshal(data, &ds); err != nil {
		return IndexSchema{}, errors.Wrapf(ErrBadSchema, "decode %s: %v", path, err)
	}
	if ds.Version > schemaVersion {
		return IndexSchema{}, errors.Wrapf(ErrBadSchema, "%s: version %d is newer than %d", path, ds.Version, schemaVersion)
	}
	if err := ds.IndexSchema.Validate(); err != nil {
		return IndexSchema{}, err
	}
	return ds.IndexSchema, nil
}

func SaveSchema(path string, s IndexSchema) error {
	data, err := json.MarshalIndent(diskSchema{Version: schemaVersion, IndexSchema: s}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), storage.FileMode0755); err != nil {
		return err
	}
	if err := writeFileAtomic(path, data, storage.FileMode0644); err != nil {
		return err
	}

	slog.Debug("btree: schema saved", "path", path, "root", s.RootPage)
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "atomic rename")
	}
	ok = true
	return nil
}
