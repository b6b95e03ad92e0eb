package btree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novadb/internal/record"
)

func TestSchema_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := SchemaPath(dir, "orders_customer")
	require.Equal(t, filepath.Join(dir, "orders_customer.btree.json"), path)

	s := IndexSchema{Name: "orders_customer", Resource: 7, Key: record.Char(16), RootPage: 12}
	require.NoError(t, SaveSchema(path, s))

	got, err := LoadSchema(path)
	require.NoError(t, err)
	require.Equal(t, s, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSchema_LoadRejects(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	_, err := LoadSchema(write("garbage.btree.json", "{"))
	require.ErrorIs(t, err, ErrBadSchema)

	_, err = LoadSchema(write("future.btree.json", `{"version": 99, "name": "x", "key": "BIGINT"}`))
	require.ErrorIs(t, err, ErrBadSchema)

	_, err = LoadSchema(write("nokey.btree.json", `{"version": 1, "name": "x", "key": "VARCHAR(8)"}`))
	require.ErrorIs(t, err, ErrBadSchema)

	_, err = LoadSchema(filepath.Join(dir, "missing.btree.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
