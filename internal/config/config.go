package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/tuannm99/novadb/internal/bufferpool"
	"github.com/tuannm99/novadb/internal/storage"
)

const EnvPrefix = "NOVADB"

type NovaDBConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Workdir  string `mapstructure:"workdir"`
		PageSize string `mapstructure:"page_size"`
	} `mapstructure:"storage"`

	BufferPool struct {
		// CacheCapacity maps a page size ("4k", "8k", ...) to a page count.
		CacheCapacity   map[string]int `mapstructure:"cache_capacity"`
		DefaultCapacity int            `mapstructure:"default_capacity"`
		IOBuffers       int            `mapstructure:"io_buffers"`
		ReadQueueSize   int            `mapstructure:"read_queue_size"`
		PrefetchWorkers int            `mapstructure:"prefetch_workers"`
	} `mapstructure:"bufferpool"`

	// Cost constants for a planner sitting on top; the storage core only
	// carries them.
	Cost struct {
		SeqRead    float64 `mapstructure:"seq_read"`
		RandomRead float64 `mapstructure:"random_read"`
		Write      float64 `mapstructure:"write"`
	} `mapstructure:"cost"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "novadb")
	v.SetDefault("storage.workdir", "./data")
	v.SetDefault("storage.page_size", storage.DefaultPageSize.String())
	v.SetDefault("bufferpool.cache_capacity", map[string]int{})
	v.SetDefault("bufferpool.default_capacity", bufferpool.DefaultCapacity)
	v.SetDefault("bufferpool.io_buffers", bufferpool.DefaultIOBuffers)
	v.SetDefault("bufferpool.read_queue_size", bufferpool.DefaultReadQueueSize)
	v.SetDefault("bufferpool.prefetch_workers", bufferpool.DefaultPrefetchWorkers)
	v.SetDefault("cost.seq_read", 1.0)
	v.SetDefault("cost.random_read", 4.0)
	v.SetDefault("cost.write", 2.0)
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads the YAML file at path (optional when empty) and applies
// NOVADB_* environment overrides, e.g. NOVADB_STORAGE_PAGE_SIZE=16k.
func LoadConfig(path string) (*NovaDBConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg NovaDBConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *NovaDBConfig) Validate() error {
	if _, err := c.PageSize(); err != nil {
		return errors.Wrap(err, "storage.page_size")
	}
	for k, n := range c.BufferPool.CacheCapacity {
		if _, err := storage.ParsePageSize(k); err != nil {
			return errors.Wrapf(err, "bufferpool.cache_capacity")
		}
		if n <= 0 {
			return errors.Errorf("bufferpool.cache_capacity[%s]: %d pages", k, n)
		}
	}
	return nil
}

func (c *NovaDBConfig) PageSize() (storage.PageSize, error) {
	return storage.ParsePageSize(c.Storage.PageSize)
}

// PoolConfig converts the bufferpool section. Call after Validate.
func (c *NovaDBConfig) PoolConfig() bufferpool.Config {
	out := bufferpool.Config{
		CacheCapacity:        make(map[storage.PageSize]int, len(c.BufferPool.CacheCapacity)),
		DefaultCacheCapacity: c.BufferPool.DefaultCapacity,
		IOBuffers:            c.BufferPool.IOBuffers,
		ReadQueueSize:        c.BufferPool.ReadQueueSize,
		PrefetchWorkers:      c.BufferPool.PrefetchWorkers,
	}
	for k, n := range c.BufferPool.CacheCapacity {
		if ps, err := storage.ParsePageSize(k); err == nil {
			out.CacheCapacity[ps] = n
		}
	}
	return out
}
