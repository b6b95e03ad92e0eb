// Package novadb is the top-level facade of the NovaDB storage core.
package novadb

import (
	"github.com/tuannm99/novadb/internal/config"
	"github.com/tuannm99/novadb/internal/engine"
)

type Database = engine.Database

// Open opens the database described by cfg.
func Open(cfg *config.NovaDBConfig) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ps, err := cfg.PageSize()
	if err != nil {
		return nil, err
	}
	return engine.Open(cfg.Storage.Workdir, ps, cfg.PoolConfig())
}
