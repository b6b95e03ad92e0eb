package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tuannm99/novadb/internal/config"
	"github.com/tuannm99/novadb/internal/engine"
	"github.com/tuannm99/novadb/internal/logging"
	"github.com/tuannm99/novadb/internal/storage"
)

type rootOptions struct {
	configPath string
	workdir    string
	logLevel   string

	cfg *config.NovaDBConfig
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "novadb",
		Short:         "NovaDB storage core: heap tables and B-tree indexes over a shared buffer pool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if opts.workdir != "" {
				cfg.Storage.Workdir = opts.workdir
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&opts.workdir, "workdir", "", "data directory (overrides storage.workdir)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")

	root.AddCommand(newLoadCmd(opts), newScanCmd(opts), newInspectCmd(opts))
	return root
}

// openDB opens the database described by the loaded config.
func (o *rootOptions) openDB() (*engine.Database, error) {
	ps, err := o.cfg.PageSize()
	if err != nil {
		return nil, err
	}
	return engine.Open(o.cfg.Storage.Workdir, ps, o.cfg.PoolConfig())
}

func (o *rootOptions) pageSize(flag string) (storage.PageSize, error) {
	if flag != "" {
		return storage.ParsePageSize(flag)
	}
	return o.cfg.PageSize()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
