package main

import (
	"fmt"
	"io"
	"math/rand"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tuannm99/novadb/internal/bufferpool"
	"github.com/tuannm99/novadb/internal/engine"
	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

// demoSchema is the layout of tables created by load.
var demoSchema = record.Schema{Cols: []record.Column{
	{Name: "id", Type: record.BigInt()},
	{Name: "bucket", Type: record.Int()},
	{Name: "name", Type: record.VarChar(24)},
}}

type loadOptions struct {
	table   string
	rows    int
	buckets int
	seed    int64
}

func newLoadCmd(root *rootOptions) *cobra.Command {
	opts := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Bulk-load a demo table with a unique index on id and a duplicate-heavy index on bucket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := root.openDB()
			if err != nil {
				return err
			}
			err = runLoad(cmd.OutOrStdout(), db, opts)
			if cerr := db.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&opts.table, "table", "items", "table name")
	cmd.Flags().IntVar(&opts.rows, "rows", 10_000, "number of rows to insert")
	cmd.Flags().IntVar(&opts.buckets, "buckets", 16, "distinct values of the bucket column")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "seed for the insert order")
	return cmd
}

func runLoad(w io.Writer, db *engine.Database, opts *loadOptions) error {
	if opts.rows < 0 || opts.buckets <= 0 {
		return errors.Errorf("load: rows=%d buckets=%d", opts.rows, opts.buckets)
	}

	names, err := db.ListTables()
	if err != nil {
		return err
	}
	if i := sort.SearchStrings(names, opts.table); i < len(names) && names[i] == opts.table {
		return errors.Wrap(engine.ErrTableExists, opts.table)
	}
	if _, err := db.CreateTable(opts.table, demoSchema); err != nil {
		return err
	}
	if _, err := db.CreateIndex(opts.table, "by_id", "id", true); err != nil {
		return err
	}
	if _, err := db.CreateIndex(opts.table, "by_bucket", "bucket", false); err != nil {
		return err
	}

	start := time.Now()
	rng := rand.New(rand.NewSource(opts.seed))
	for _, id := range rng.Perm(opts.rows) {
		row := record.NewTuple(
			record.BigIntField(int64(id)),
			record.IntField(int32(id%opts.buckets)),
			record.VarCharField(fmt.Sprintf("item-%d", id)),
		)
		if _, err := db.Insert(opts.table, row); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "loaded %d rows into %s in %s\n", opts.rows, opts.table, time.Since(start).Round(time.Millisecond))
	return printPoolStats(w, db.Pool())
}

// printPoolStats writes the pool counters and the list sizes of every cache.
func printPoolStats(w io.Writer, bp *bufferpool.Manager) error {
	families, err := bp.Registry().Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fmt.Fprintf(w, "%-40s %.0f\n", mf.GetName(), m.GetCounter().GetValue())
		}
	}
	for _, ps := range storage.PageSizes() {
		st, ok := bp.CacheStats(ps)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "cache %-4s capacity=%d t1=%d t2=%d b1=%d b2=%d p=%d pinned=%d\n",
			ps, st.Capacity, st.T1, st.T2, st.B1, st.B2, st.P, st.Pinned)
	}
	return nil
}
