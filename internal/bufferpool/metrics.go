package bufferpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered on a registry owned by the pool so several pools
// can live in one process (tests do this constantly).
type Metrics struct {
	Registry *prometheus.Registry

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	DiskReads   prometheus.Counter
	Evictions   prometheus.Counter
	DirtyWrites prometheus.Counter
	Prefetches  prometheus.Counter
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: "novadb",
			Subsystem: "bufferpool",
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		Registry:    reg,
		CacheHits:   counter("cache_hits_total", "Page requests served from the cache."),
		CacheMisses: counter("cache_misses_total", "Page requests that had to read from disk."),
		DiskReads:   counter("disk_reads_total", "Pages read by the reader goroutine."),
		Evictions:   counter("evictions_total", "Hot pages evicted from the cache."),
		DirtyWrites: counter("dirty_writes_total", "Pages written back by the writer goroutine."),
		Prefetches:  counter("prefetches_total", "Prefetch reads scheduled."),
	}
}

func (m *Manager) Registry() *prometheus.Registry { return m.metrics.Registry }
