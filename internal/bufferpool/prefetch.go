package bufferpool

import (
	"log/slog"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"

	"github.com/tuannm99/novadb/internal/cache"
	"github.com/tuannm99/novadb/internal/storage"
)

// PrefetchPage schedules an asynchronous read of page without pinning it.
// Pages already cached or in flight are skipped. Prefetch is a hint: a busy
// worker pool or an empty free-buffer pool drops it silently.
func (m *Manager) PrefetchPage(id storage.ResourceID, page uint32) error {
	return m.PrefetchPages(id, page, page)
}

// PrefetchPages schedules reads for the inclusive range [first, last].
func (m *Manager) PrefetchPages(id storage.ResourceID, first, last uint32) error {
	const op = "PrefetchPages"

	m.mu.Lock()
	res, err := m.resourceLocked(op, id, first)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	var todo []uint32
	for n := first; n <= last && n != storage.NoPage; n++ {
		key := cache.Key{Resource: id, Page: n}
		if res.cache.Contains(id, n) || m.pendingLocked(key) != nil {
			continue
		}
		todo = append(todo, n)
	}
	pool := m.prefetch
	m.mu.Unlock()

	for _, n := range todo {
		err := pool.Submit(func() { m.prefetchOne(op, id, n) })
		if errors.Is(err, ants.ErrPoolOverload) {
			slog.Debug("bufferpool: prefetch dropped", "resource", id, "page", n)
			continue
		}
		if err != nil {
			return opError(op, id, n, err)
		}
	}
	return nil
}

func (m *Manager) prefetchOne(op string, id storage.ResourceID, page uint32) {
	key := cache.Key{Resource: id, Page: page}

	m.mu.Lock()
	res, err := m.resourceLocked(op, id, page)
	if err != nil {
		m.mu.Unlock()
		return
	}
	if res.cache.Contains(id, page) || m.pendingLocked(key) != nil {
		m.mu.Unlock()
		return
	}
	buf, ok := res.free.TryTake()
	if !ok {
		m.mu.Unlock()
		return
	}
	req := newRequest(id, page, res.rm, buf)
	m.inflight[key] = req
	m.metrics.Prefetches.Inc()
	m.mu.Unlock()

	if _, err := m.completeRead(op, res, req, false); err != nil {
		slog.Debug("bufferpool: prefetch failed", "resource", id, "page", page, "err", err)
	}
}
