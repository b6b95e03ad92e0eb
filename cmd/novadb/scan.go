package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tuannm99/novadb/internal/catalog"
	"github.com/tuannm99/novadb/internal/engine"
	"github.com/tuannm99/novadb/internal/heap"
	"github.com/tuannm99/novadb/internal/record"
)

type scanOptions struct {
	table, index string
	from, to     string
	exclFrom     bool
	exclTo       bool
	limit        int
}

func newScanCmd(root *rootOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Range-scan a table through one of its indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := root.openDB()
			if err != nil {
				return err
			}
			err = runScan(cmd.OutOrStdout(), db, opts)
			if cerr := db.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&opts.table, "table", "items", "table name")
	cmd.Flags().StringVar(&opts.index, "index", "by_id", "index name")
	cmd.Flags().StringVar(&opts.from, "from", "", "lower bound (empty: open)")
	cmd.Flags().StringVar(&opts.to, "to", "", "upper bound (empty: open)")
	cmd.Flags().BoolVar(&opts.exclFrom, "exclusive-from", false, "exclude the lower bound")
	cmd.Flags().BoolVar(&opts.exclTo, "exclusive-to", false, "exclude the upper bound")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "stop after this many rows (0: no limit)")
	return cmd
}

var errLimit = errors.New("limit reached")

func runScan(w io.Writer, db *engine.Database, opts *scanOptions) error {
	tbl, err := db.OpenTable(opts.table)
	if err != nil {
		return err
	}
	idx, err := db.ListIndexes(opts.table)
	if err != nil {
		return err
	}
	var im *catalog.IndexMeta
	for i := range idx {
		if idx[i].Name == opts.index {
			im = &idx[i]
		}
	}
	if im == nil {
		return errors.Wrapf(engine.ErrIndexNotFound, "%s.%s", opts.table, opts.index)
	}
	meta := catalog.TableMeta{Name: opts.table, Schema: tbl.Schema}
	_, col, err := meta.Column(im.KeyColumn)
	if err != nil {
		return err
	}

	from, err := parseKey(col.Type, opts.from)
	if err != nil {
		return err
	}
	to, err := parseKey(col.Type, opts.to)
	if err != nil {
		return err
	}

	n := 0
	err = db.Range(opts.table, opts.index, from, to, !opts.exclFrom, !opts.exclTo,
		func(rid heap.RID, t record.DataTuple) error {
			if opts.limit > 0 && n >= opts.limit {
				return errLimit
			}
			n++
			_, err := fmt.Fprintf(w, "%s\t%s\n", rid, t)
			return err
		})
	if err != nil && !errors.Is(err, errLimit) {
		return err
	}
	fmt.Fprintf(w, "%d rows\n", n)
	return nil
}

// parseKey turns a command-line bound into a key of type t. An empty
// string is an open bound.
func parseKey(t record.DataType, s string) (record.DataField, error) {
	if s == "" {
		return nil, nil
	}
	switch t.Kind {
	case record.KindInt:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "%s key", t)
		}
		return record.IntField(v), nil
	case record.KindBigInt:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s key", t)
		}
		return record.BigIntField(v), nil
	case record.KindDouble:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s key", t)
		}
		return record.DoubleField(v), nil
	case record.KindChar:
		if len(strings.TrimRight(s, " ")) > t.Length {
			return nil, errors.Wrapf(record.ErrValueTooLong, "%q", s)
		}
		return record.NewChar(s, t.Length), nil
	default:
		return nil, errors.Wrapf(record.ErrBadType, "%s cannot be a key", t)
	}
}
