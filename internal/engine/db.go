package engine

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tuannm99/novadb/internal/btree"
	"github.com/tuannm99/novadb/internal/bufferpool"
	"github.com/tuannm99/novadb/internal/catalog"
	"github.com/tuannm99/novadb/internal/heap"
	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

var (
	ErrDatabaseClosed = errors.New("novadb: database is closed")
	ErrTableExists    = errors.New("novadb: table already exists")
	ErrTableNotFound  = errors.New("novadb: table not found")
	ErrIndexExists    = errors.New("novadb: index already exists")
	ErrIndexNotFound  = errors.New("novadb: index not found")
)

const metaSuffix = ".meta.json"

type DatabaseOperation interface {
	CreateTable(name string, schema record.Schema) (*heap.Table, error)
	OpenTable(name string) (*heap.Table, error)
	Close() error
}

var _ DatabaseOperation = (*Database)(nil)

type openIndex struct {
	meta catalog.IndexMeta
	col  int
	res  *storage.FileResource
	ix   *btree.Index
}

type openTable struct {
	meta    *catalog.TableMeta
	ps      storage.PageSize
	res     *storage.FileResource
	tbl     *heap.Table
	indexes map[string]*openIndex
}

// Database ties tables and their B-tree indexes to one shared buffer pool.
// Every table and index is a file resource under <DataDir>/tables.
type Database struct {
	DataDir  string
	PageSize storage.PageSize

	mu     sync.Mutex
	pool   *bufferpool.Manager
	tables map[string]*openTable
	nextID storage.ResourceID
	closed bool
}

// Open starts a buffer pool with pc and scans existing table metadata so
// new resources get unused ids.
func Open(dataDir string, pageSize storage.PageSize, pc bufferpool.Config) (*Database, error) {
	if !pageSize.Valid() {
		return nil, errors.Wrapf(storage.ErrInvalidPageSize, "%d", uint32(pageSize))
	}
	db := &Database{
		DataDir:  dataDir,
		PageSize: pageSize,
		tables:   make(map[string]*openTable),
		nextID:   1,
	}
	if err := os.MkdirAll(db.tableDir(), storage.FileMode0755); err != nil {
		return nil, errors.Wrap(err, "create table dir")
	}

	names, err := db.ListTables()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		meta, err := db.readTableMeta(name)
		if err != nil {
			return nil, err
		}
		db.nextID = max(db.nextID, meta.Resource+1)
		for _, im := range meta.Indexes {
			db.nextID = max(db.nextID, im.Resource+1)
		}
	}

	pool, err := bufferpool.Open(pc)
	if err != nil {
		return nil, err
	}
	db.pool = pool
	slog.Info("engine: database opened", "dir", dataDir, "pageSize", pageSize, "tables", len(names))
	return db, nil
}

func (db *Database) Pool() *bufferpool.Manager { return db.pool }

// TableDir is where table and index files of the database at dataDir live.
func TableDir(dataDir string) string {
	return filepath.Join(dataDir, "tables")
}

func (db *Database) tableDir() string { return TableDir(db.DataDir) }

func (db *Database) tableMetaPath(name string) string {
	return filepath.Join(db.tableDir(), name+metaSuffix)
}

// ListTables returns the names of all tables with a meta file, sorted.
func (db *Database) ListTables() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(db.tableDir(), "*"+metaSuffix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), metaSuffix))
	}
	sort.Strings(out)
	return out, nil
}

// writeTableMeta overwrites the meta file for a given table.
func (db *Database) writeTableMeta(meta *catalog.TableMeta) error {
	meta.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(db.tableMetaPath(meta.Name), data, storage.FileMode0644)
}

func (db *Database) readTableMeta(name string) (*catalog.TableMeta, error) {
	data, err := os.ReadFile(db.tableMetaPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(ErrTableNotFound, name)
	}
	if err != nil {
		return nil, err
	}

	var meta catalog.TableMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrapf(err, "decode %s", db.tableMetaPath(name))
	}
	return &meta, nil
}

// register opens the file resource base and hands it to the pool as id.
func (db *Database) register(id storage.ResourceID, base string, ps storage.PageSize) (*storage.FileResource, *bufferpool.ResourceView, error) {
	res, err := storage.OpenFileResource(db.tableDir(), base, ps)
	if err != nil {
		return nil, nil, err
	}
	if err := db.pool.RegisterResource(id, res); err != nil {
		_ = res.Close()
		return nil, nil, err
	}
	v, err := db.pool.View(id)
	if err != nil {
		_ = db.pool.UnregisterResource(id)
		_ = res.Close()
		return nil, nil, err
	}
	return res, v, nil
}

func (db *Database) release(id storage.ResourceID, res *storage.FileResource) error {
	return multierr.Append(db.pool.UnregisterResource(id), res.Close())
}

func (db *Database) ensureOpen() error {
	if db.closed {
		return ErrDatabaseClosed
	}
	return nil
}

func (db *Database) CreateTable(name string, schema record.Schema) (*heap.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	if err := catalog.ValidateIdent(name); err != nil {
		return nil, err
	}
	for _, c := range schema.Cols {
		if err := catalog.ValidateIdent(c.Name); err != nil {
			return nil, errors.Wrapf(err, "table %s column", name)
		}
	}
	if _, err := os.Stat(db.tableMetaPath(name)); err == nil {
		return nil, errors.Wrap(ErrTableExists, name)
	}

	now := time.Now()
	meta := &catalog.TableMeta{
		Name:      name,
		Schema:    schema,
		PageSize:  db.PageSize.String(),
		Resource:  db.nextID,
		CreatedAt: now,
	}
	db.nextID++

	res, v, err := db.register(meta.Resource, name, db.PageSize)
	if err != nil {
		return nil, err
	}
	tbl, err := heap.NewTable(name, schema, v)
	if err != nil {
		_ = db.release(meta.Resource, res)
		return nil, err
	}
	if err := db.writeTableMeta(meta); err != nil {
		_ = db.release(meta.Resource, res)
		return nil, err
	}

	db.tables[name] = &openTable{meta: meta, ps: db.PageSize, res: res, tbl: tbl, indexes: make(map[string]*openIndex)}
	slog.Debug("engine: table created", "table", name, "resource", meta.Resource)
	return tbl, nil
}

// OpenTable opens the table and every index registered on it. Opening an
// already open table returns the same handle.
func (db *Database) OpenTable(name string) (*heap.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ot, err := db.openTableLocked(name)
	if err != nil {
		return nil, err
	}
	return ot.tbl, nil
}

func (db *Database) openTableLocked(name string) (*openTable, error) {
	if err := db.ensureOpen(); err != nil {
		return nil, err
	}
	if ot, ok := db.tables[name]; ok {
		return ot, nil
	}
	if err := catalog.ValidateIdent(name); err != nil {
		return nil, err
	}
	meta, err := db.readTableMeta(name)
	if err != nil {
		return nil, err
	}
	ps, err := storage.ParsePageSize(meta.PageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "table %s", name)
	}

	res, v, err := db.register(meta.Resource, name, ps)
	if err != nil {
		return nil, err
	}
	tbl, err := heap.NewTable(name, meta.Schema, v)
	if err != nil {
		_ = db.release(meta.Resource, res)
		return nil, err
	}
	ot := &openTable{meta: meta, ps: ps, res: res, tbl: tbl, indexes: make(map[string]*openIndex)}

	for _, im := range meta.Indexes {
		oi, err := db.openIndexLocked(ot, im, ps)
		if err != nil {
			_ = db.closeTableLocked(ot)
			return nil, err
		}
		ot.indexes[im.Name] = oi
	}
	db.tables[name] = ot
	return ot, nil
}

func (db *Database) openIndexLocked(ot *openTable, im catalog.IndexMeta, ps storage.PageSize) (*openIndex, error) {
	col, _, err := ot.meta.Column(im.KeyColumn)
	if err != nil {
		return nil, err
	}
	schema, err := btree.LoadSchema(btree.SchemaPath(db.tableDir(), im.FileBase))
	if err != nil {
		return nil, err
	}
	res, v, err := db.register(im.Resource, im.FileBase, ps)
	if err != nil {
		return nil, err
	}
	ix, err := btree.Open(v, schema)
	if err != nil {
		_ = db.release(im.Resource, res)
		return nil, err
	}
	if err := ix.PersistTo(btree.SchemaPath(db.tableDir(), im.FileBase)); err != nil {
		_ = db.release(im.Resource, res)
		return nil, err
	}
	return &openIndex{meta: im, col: col, res: res, ix: ix}, nil
}

// CreateIndex builds a B-tree over column and backfills it from the rows
// already in the table. A unique index over duplicate values is dropped
// again and ErrDuplicateKey returned.
func (db *Database) CreateIndex(table, name, column string, unique bool) (*btree.Index, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ot, err := db.openTableLocked(table)
	if err != nil {
		return nil, err
	}
	if err := catalog.ValidateIdent(name); err != nil {
		return nil, err
	}
	if _, im := ot.meta.FindIndex(name); im != nil {
		return nil, errors.Wrapf(ErrIndexExists, "%s.%s", table, name)
	}
	col, c, err := ot.meta.Column(column)
	if err != nil {
		return nil, err
	}

	im := catalog.IndexMeta{
		Name:      name,
		Kind:      catalog.IndexKindBTree,
		KeyColumn: column,
		Unique:    unique,
		FileBase:  catalog.IndexFileBase(table, name),
		Resource:  db.nextID,
		CreatedAt: time.Now(),
	}
	db.nextID++

	res, v, err := db.register(im.Resource, im.FileBase, ot.ps)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*btree.Index, error) {
		err = multierr.Append(err, db.release(im.Resource, res))
		err = multierr.Append(err, btree.DropIndex(db.tableDir(), im.FileBase))
		return nil, err
	}

	ix, err := btree.Create(v, btree.IndexSchema{
		Name:     im.FileBase,
		Resource: im.Resource,
		Key:      c.Type,
		Unique:   unique,
	})
	if err != nil {
		return fail(err)
	}
	if err := ix.PersistTo(btree.SchemaPath(db.tableDir(), im.FileBase)); err != nil {
		return fail(err)
	}

	n := 0
	err = ot.tbl.ForEach(func(rid heap.RID, tuple record.DataTuple) error {
		n++
		return ix.Insert(tuple.Field(col), rid)
	})
	if err != nil {
		return fail(err)
	}

	ot.meta.Indexes = append(ot.meta.Indexes, im)
	if err := db.writeTableMeta(ot.meta); err != nil {
		ot.meta.Indexes = ot.meta.Indexes[:len(ot.meta.Indexes)-1]
		return fail(err)
	}
	ot.indexes[name] = &openIndex{meta: im, col: col, res: res, ix: ix}

	slog.Info("engine: index created", "table", table, "index", name, "column", column, "unique", unique, "rows", n)
	return ix, nil
}

func (db *Database) OpenIndex(table, name string) (*btree.Index, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ot, err := db.openTableLocked(table)
	if err != nil {
		return nil, err
	}
	oi, ok := ot.indexes[name]
	if !ok {
		return nil, errors.Wrapf(ErrIndexNotFound, "%s.%s", table, name)
	}
	return oi.ix, nil
}

func (db *Database) ListIndexes(table string) ([]catalog.IndexMeta, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ot, err := db.openTableLocked(table)
	if err != nil {
		return nil, err
	}
	return append([]catalog.IndexMeta(nil), ot.meta.Indexes...), nil
}

// Insert adds tuple to the table and to all of its indexes. Unique
// indexes are checked before anything is written.
func (db *Database) Insert(table string, tuple record.DataTuple) (heap.RID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ot, err := db.openTableLocked(table)
	if err != nil {
		return heap.RID{}, err
	}
	if err := ot.tbl.Schema.Check(tuple); err != nil {
		return heap.RID{}, err
	}
	for _, oi := range ot.indexes {
		if !oi.meta.Unique {
			continue
		}
		it, err := oi.ix.LookupRids(tuple.Field(oi.col))
		if err != nil {
			return heap.RID{}, err
		}
		found := it.Next()
		it.Close()
		if found {
			return heap.RID{}, errors.Wrapf(btree.ErrDuplicateKey, "%s.%s: %s", table, oi.meta.Name, tuple.Field(oi.col))
		}
	}

	rid, err := ot.tbl.Insert(tuple)
	if err != nil {
		return heap.RID{}, err
	}
	for _, oi := range ot.indexes {
		if err := oi.ix.Insert(tuple.Field(oi.col), rid); err != nil {
			return rid, errors.Wrapf(err, "index %s.%s", table, oi.meta.Name)
		}
	}
	return rid, nil
}

// Lookup returns the rows whose indexed column equals key.
func (db *Database) Lookup(table, index string, key record.DataField) ([]record.DataTuple, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ot, err := db.openTableLocked(table)
	if err != nil {
		return nil, err
	}
	oi, ok := ot.indexes[index]
	if !ok {
		return nil, errors.Wrapf(ErrIndexNotFound, "%s.%s", table, index)
	}
	it, err := oi.ix.LookupRids(key)
	if err != nil {
		return nil, err
	}
	rids, err := it.Collect()
	if err != nil {
		return nil, err
	}
	out := make([]record.DataTuple, 0, len(rids))
	for _, rid := range rids {
		t, err := ot.tbl.Get(rid)
		if err != nil {
			return nil, errors.Wrapf(err, "%s %s", table, rid)
		}
		out = append(out, t)
	}
	return out, nil
}

// Range calls fn for every row whose indexed column lies between start and
// stop, in index order. Nil bounds are open.
func (db *Database) Range(table, index string, start, stop record.DataField, startIncl, stopIncl bool,
	fn func(rid heap.RID, tuple record.DataTuple) error,
) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ot, err := db.openTableLocked(table)
	if err != nil {
		return err
	}
	oi, ok := ot.indexes[index]
	if !ok {
		return errors.Wrapf(ErrIndexNotFound, "%s.%s", table, index)
	}
	it, err := oi.ix.LookupRange(start, stop, startIncl, stopIncl)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		t, err := ot.tbl.Get(it.RID())
		if err != nil {
			return errors.Wrapf(err, "%s %s", table, it.RID())
		}
		if err := fn(it.RID(), t); err != nil {
			return err
		}
	}
	return it.Err()
}

// DropIndex expels the index from the pool before deleting its files.
func (db *Database) DropIndex(table, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ot, err := db.openTableLocked(table)
	if err != nil {
		return err
	}
	pos, im := ot.meta.FindIndex(name)
	if im == nil {
		return errors.Wrapf(ErrIndexNotFound, "%s.%s", table, name)
	}
	if oi, ok := ot.indexes[name]; ok {
		if err := db.release(oi.meta.Resource, oi.res); err != nil {
			return err
		}
		delete(ot.indexes, name)
	}
	if err := btree.DropIndex(db.tableDir(), im.FileBase); err != nil {
		return err
	}

	last := len(ot.meta.Indexes) - 1
	ot.meta.Indexes[pos] = ot.meta.Indexes[last]
	ot.meta.Indexes = ot.meta.Indexes[:last]
	return db.writeTableMeta(ot.meta)
}

func (db *Database) closeTableLocked(ot *openTable) error {
	var err error
	for _, oi := range ot.indexes {
		err = multierr.Append(err, db.release(oi.meta.Resource, oi.res))
	}
	return multierr.Append(err, db.release(ot.meta.Resource, ot.res))
}

// Close writes back every dirty page, stops the pool and closes all files.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	var err error
	for _, ot := range db.tables {
		err = multierr.Append(err, db.closeTableLocked(ot))
	}
	db.tables = nil
	return multierr.Append(err, db.pool.Close())
}
