package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tuannm99/novadb/internal/alias/util"
	"github.com/tuannm99/novadb/internal/engine"
	"github.com/tuannm99/novadb/internal/storage"
)

type inspectOptions struct {
	pageSize string
	limit    int
}

func newInspectCmd(root *rootOptions) *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <file-base>",
		Short: "Dump the page headers of a table or index file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := root.pageSize(opts.pageSize)
			if err != nil {
				return err
			}
			return runInspect(cmd.OutOrStdout(), engine.TableDir(root.cfg.Storage.Workdir), args[0], ps, opts.limit)
		},
	}
	cmd.Flags().StringVar(&opts.pageSize, "page-size", "", "page size of the file (default: storage.page_size)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "only show the first n pages (0: all)")
	return cmd
}

// runInspect reads the file directly, bypassing the buffer pool.
func runInspect(w io.Writer, dir, base string, ps storage.PageSize, limit int) error {
	res, err := storage.OpenFileResource(dir, base, ps)
	if err != nil {
		return err
	}
	defer util.CloseFunc(res)

	n := res.PageCount()
	fmt.Fprintf(w, "%s: %d pages of %s\n", base, n, ps)
	if limit > 0 && uint32(limit) < n {
		n = uint32(limit)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tKIND\tRECORDS\tWIDTH\tFREE")
	buf := make([]byte, ps.Bytes())
	for pn := range n {
		data, err := res.ReadPage(buf, pn)
		if err != nil {
			fmt.Fprintf(tw, "%d\terror: %v\t\t\t\n", pn, err)
			continue
		}
		p, ok := data.(*storage.Page)
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n", p.PageNumber(), p.Kind(), p.RecordCount(), p.RecordWidth(), p.FreeOffset())
	}
	return tw.Flush()
}
