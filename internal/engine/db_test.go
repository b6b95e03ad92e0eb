package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novadb/internal/btree"
	"github.com/tuannm99/novadb/internal/bufferpool"
	"github.com/tuannm99/novadb/internal/heap"
	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

var usersSchema = record.Schema{Cols: []record.Column{
	{Name: "id", Type: record.BigInt()},
	{Name: "name", Type: record.VarChar(32)},
	{Name: "team", Type: record.Int()},
}}

func user(id int64, name string, team int32) record.DataTuple {
	return record.NewTuple(record.BigIntField(id), record.VarCharField(name), record.IntField(team))
}

func openTestDB(t *testing.T, dir string) *Database {
	t.Helper()
	cfg := bufferpool.DefaultConfig()
	cfg.DefaultCacheCapacity = 32
	db, err := Open(dir, storage.PageSize4K, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDatabase_TableAndIndexes(t *testing.T) {
	db := openTestDB(t, t.TempDir())

	_, err := db.CreateTable("users", usersSchema)
	require.NoError(t, err)
	_, err = db.CreateTable("users", usersSchema)
	require.ErrorIs(t, err, ErrTableExists)

	for i := range 300 {
		_, err := db.Insert("users", user(int64(i), "u", int32(i%5)))
		require.NoError(t, err)
	}

	// backfilled from the rows above
	_, err = db.CreateIndex("users", "by_id", "id", true)
	require.NoError(t, err)
	_, err = db.CreateIndex("users", "by_team", "team", false)
	require.NoError(t, err)
	_, err = db.CreateIndex("users", "by_id", "id", true)
	require.ErrorIs(t, err, ErrIndexExists)

	rows, err := db.Lookup("users", "by_id", record.BigIntField(123))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, record.IntField(3), rows[0].Field(2))

	rows, err = db.Lookup("users", "by_team", record.IntField(4))
	require.NoError(t, err)
	require.Len(t, rows, 60)

	_, err = db.Insert("users", user(123, "dup", 0))
	require.ErrorIs(t, err, btree.ErrDuplicateKey)
	rows, err = db.Lookup("users", "by_team", record.IntField(0))
	require.NoError(t, err)
	require.Len(t, rows, 60)

	_, err = db.Insert("users", user(1000, "new", 0))
	require.NoError(t, err)
	rows, err = db.Lookup("users", "by_team", record.IntField(0))
	require.NoError(t, err)
	require.Len(t, rows, 61)
}

func TestDatabase_UniqueBackfillFails(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir)

	_, err := db.CreateTable("users", usersSchema)
	require.NoError(t, err)
	for i := range 10 {
		_, err := db.Insert("users", user(int64(i), "u", 1))
		require.NoError(t, err)
	}

	_, err = db.CreateIndex("users", "by_team", "team", true)
	require.ErrorIs(t, err, btree.ErrDuplicateKey)

	idx, err := db.ListIndexes("users")
	require.NoError(t, err)
	require.Empty(t, idx)
	_, err = os.Stat(btree.SchemaPath(filepath.Join(dir, "tables"), "users__by_team"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDatabase_Reopen(t *testing.T) {
	dir := t.TempDir()

	db := openTestDB(t, dir)
	_, err := db.CreateTable("users", usersSchema)
	require.NoError(t, err)
	_, err = db.CreateIndex("users", "by_id", "id", true)
	require.NoError(t, err)
	for i := range 2000 {
		_, err := db.Insert("users", user(int64(i), "someone", int32(i%7)))
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())
	_, err = db.OpenTable("users")
	require.ErrorIs(t, err, ErrDatabaseClosed)

	db = openTestDB(t, dir)
	names, err := db.ListTables()
	require.NoError(t, err)
	require.Equal(t, []string{"users"}, names)

	rows, err := db.Lookup("users", "by_id", record.BigIntField(1999))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, record.VarCharField("someone"), rows[0].Field(1))

	// ids handed out after a reopen must not collide with existing ones
	_, err = db.CreateTable("teams", record.Schema{Cols: []record.Column{{Name: "id", Type: record.Int()}}})
	require.NoError(t, err)
	_, err = db.Insert("teams", record.NewTuple(record.IntField(1)))
	require.NoError(t, err)

	require.NoError(t, db.DropIndex("users", "by_id"))
	_, err = db.OpenIndex("users", "by_id")
	require.ErrorIs(t, err, ErrIndexNotFound)
	_, err = db.Lookup("users", "by_id", record.BigIntField(1))
	require.ErrorIs(t, err, ErrIndexNotFound)
}

func TestDatabase_Errors(t *testing.T) {
	db := openTestDB(t, t.TempDir())

	_, err := db.OpenTable("missing")
	require.ErrorIs(t, err, ErrTableNotFound)
	_, err = db.CreateTable("bad-name", usersSchema)
	require.Error(t, err)

	_, err = db.CreateTable("users", usersSchema)
	require.NoError(t, err)
	_, err = db.CreateIndex("users", "by_name", "name", false)
	require.ErrorIs(t, err, btree.ErrBadSchema)
	_, err = db.CreateIndex("users", "by_email", "email", false)
	require.Error(t, err)
	require.ErrorIs(t, db.DropIndex("users", "nope"), ErrIndexNotFound)

	_, err = Open(t.TempDir(), storage.PageSize(1000), bufferpool.DefaultConfig())
	require.ErrorIs(t, err, storage.ErrInvalidPageSize)
}

func TestDatabase_Range(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	_, err := db.CreateTable("users", usersSchema)
	require.NoError(t, err)
	_, err = db.CreateIndex("users", "by_team", "team", false)
	require.NoError(t, err)
	for i := range 100 {
		_, err := db.Insert("users", user(int64(i), "u", int32(i%10)))
		require.NoError(t, err)
	}

	var teams []int32
	err = db.Range("users", "by_team", record.IntField(2), record.IntField(4), false, true,
		func(_ heap.RID, tuple record.DataTuple) error {
			teams = append(teams, int32(tuple.Field(2).(record.IntField)))
			return nil
		})
	require.NoError(t, err)
	require.Len(t, teams, 20)
	require.Equal(t, int32(3), teams[0])
	require.Equal(t, int32(4), teams[19])
}
