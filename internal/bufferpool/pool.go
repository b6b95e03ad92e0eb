package bufferpool

import (
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tuannm99/novadb/internal/cache"
	"github.com/tuannm99/novadb/internal/storage"
)

var (
	DefaultCapacity        = 128
	DefaultIOBuffers       = 8
	DefaultReadQueueSize   = 64
	DefaultPrefetchWorkers = 4

	submitBackoff = 50 * time.Microsecond
)

type Config struct {
	// CacheCapacity overrides DefaultCacheCapacity for individual page sizes.
	CacheCapacity        map[storage.PageSize]int
	DefaultCacheCapacity int

	// IOBuffers is the number of free buffers preallocated per resource.
	IOBuffers       int
	ReadQueueSize   int
	PrefetchWorkers int
}

func DefaultConfig() Config {
	return Config{
		DefaultCacheCapacity: DefaultCapacity,
		IOBuffers:            DefaultIOBuffers,
		ReadQueueSize:        DefaultReadQueueSize,
		PrefetchWorkers:      DefaultPrefetchWorkers,
	}
}

func (c Config) capacityFor(ps storage.PageSize) int {
	if n, ok := c.CacheCapacity[ps]; ok && n > 0 {
		return n
	}
	if c.DefaultCacheCapacity > 0 {
		return c.DefaultCacheCapacity
	}
	return DefaultCapacity
}

type resource struct {
	id    storage.ResourceID
	rm    storage.ResourceManager
	cache *cache.PageCache
	free  *freeBuffers
}

// Manager is the shared buffer pool: one ARC page cache per page size, a
// reader goroutine, a writer goroutine and a prefetch worker pool.
//
// mu guards every map and every cache. Disk I/O always happens with mu
// released; inflight and writebacks let other callers wait for a page that
// is currently being read or written back.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	active     bool
	closed     bool
	caches     map[storage.PageSize]*cache.PageCache
	resources  map[storage.ResourceID]*resource
	inflight   map[cache.Key]*Request
	writebacks map[cache.Key]chan struct{}

	reader   *reader
	writer   *writer
	prefetch *ants.Pool
	metrics  *Metrics
}

// NewManager returns an inactive pool. Call StartIOThreads before use.
func NewManager(cfg Config) *Manager {
	if cfg.IOBuffers <= 0 {
		cfg.IOBuffers = DefaultIOBuffers
	}
	if cfg.ReadQueueSize <= 0 {
		cfg.ReadQueueSize = DefaultReadQueueSize
	}
	if cfg.PrefetchWorkers <= 0 {
		cfg.PrefetchWorkers = DefaultPrefetchWorkers
	}
	return &Manager{
		cfg:        cfg,
		caches:     make(map[storage.PageSize]*cache.PageCache),
		resources:  make(map[storage.ResourceID]*resource),
		inflight:   make(map[cache.Key]*Request),
		writebacks: make(map[cache.Key]chan struct{}),
		reader:     newReader(cfg.ReadQueueSize),
		writer:     newWriter(),
		metrics:    newMetrics(),
	}
}

// Open is NewManager followed by StartIOThreads.
func Open(cfg Config) (*Manager, error) {
	m := NewManager(cfg)
	if err := m.StartIOThreads(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) Metrics() *Metrics { return m.metrics }

// StartIOThreads starts the reader, the writer and the prefetch pool and
// activates the manager.
func (m *Manager) StartIOThreads() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrIOStopped
	}
	if m.active {
		return nil
	}
	pool, err := ants.NewPool(m.cfg.PrefetchWorkers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			slog.Error("bufferpool: prefetch task panicked", "panic", v)
		}),
	)
	if err != nil {
		return errors.Wrap(err, "bufferpool: create prefetch pool")
	}
	m.prefetch = pool
	m.reader.start()
	m.writer.start()
	m.active = true

	slog.Debug("bufferpool: io threads started",
		"ioBuffers", m.cfg.IOBuffers,
		"readQueue", m.cfg.ReadQueueSize,
		"prefetchWorkers", m.cfg.PrefetchWorkers,
	)
	return nil
}

// cacheFor returns the cache for ps, creating it on first use. mu held.
func (m *Manager) cacheFor(ps storage.PageSize) *cache.PageCache {
	c, ok := m.caches[ps]
	if !ok {
		c = cache.New(ps, m.cfg.capacityFor(ps))
		m.caches[ps] = c
	}
	return c
}

// CacheFor exposes the cache serving ps, or nil if no resource of that page
// size was ever registered.
func (m *Manager) CacheFor(ps storage.PageSize) *cache.PageCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caches[ps]
}

// CacheStats snapshots the list sizes of the cache serving ps.
func (m *Manager) CacheStats(ps storage.PageSize) (cache.Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[ps]
	if !ok {
		return cache.Stats{}, false
	}
	return c.Stats(), true
}

func (m *Manager) RegisterResource(id storage.ResourceID, rm storage.ResourceManager) error {
	const op = "RegisterResource"

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return opError(op, id, storage.NoPage, ErrPoolInactive)
	}
	if _, ok := m.resources[id]; ok {
		return opError(op, id, storage.NoPage, ErrResourceRegistered)
	}
	ps := rm.PageSize()
	if !ps.Valid() {
		return opError(op, id, storage.NoPage, storage.ErrInvalidPageSize)
	}
	m.resources[id] = &resource{
		id:    id,
		rm:    rm,
		cache: m.cacheFor(ps),
		free:  newFreeBuffers(m.cfg.IOBuffers, ps),
	}
	slog.Debug("bufferpool: resource registered", "resource", id, "pageSize", ps)
	return nil
}

// UnregisterResource writes back the resource's dirty pages and removes all
// of them from the cache. It fails if any of its pages is still pinned.
func (m *Manager) UnregisterResource(id storage.ResourceID) error {
	const op = "UnregisterResource"

	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.resourceLocked(op, id, storage.NoPage)
	if err != nil {
		return err
	}
	expelled, err := res.cache.ExpelAllPagesForResource(id)
	if err != nil {
		return opError(op, id, storage.NoPage, err)
	}

	var batch []writeRequest
	for _, ev := range expelled {
		if ev.Dirty {
			batch = append(batch, writeRequest{buf: ev.Buffer, page: ev.Data, rm: res.rm})
		}
	}
	werr := m.writer.WriteBatch(batch)
	if werr == nil {
		m.metrics.DirtyWrites.Add(float64(len(batch)))
	}
	for _, ev := range expelled {
		res.cache.ReturnBuffer(ev.Buffer)
	}
	delete(m.resources, id)

	slog.Debug("bufferpool: resource unregistered", "resource", id, "expelled", len(expelled), "written", len(batch))
	return opError(op, id, storage.NoPage, werr)
}

// resourceLocked checks activity and registration. mu held.
func (m *Manager) resourceLocked(op string, id storage.ResourceID, page uint32) (*resource, error) {
	if !m.active {
		return nil, opError(op, id, page, ErrPoolInactive)
	}
	res, ok := m.resources[id]
	if !ok {
		return nil, opError(op, id, page, ErrUnknownResource)
	}
	return res, nil
}

// pendingLocked returns a channel to wait on if key is being read or
// written back right now. mu held.
func (m *Manager) pendingLocked(key cache.Key) <-chan struct{} {
	if req, ok := m.inflight[key]; ok {
		return req.ready
	}
	if ch, ok := m.writebacks[key]; ok {
		return ch
	}
	return nil
}

// GetPageAndPin returns the page pinned, reading it from disk on a miss.
func (m *Manager) GetPageAndPin(id storage.ResourceID, page uint32) (storage.CacheableData, error) {
	return m.fetch("GetPageAndPin", id, page, false, 0)
}

// UnpinAndGetPageAndPin releases one pin on unpin and pins page under the
// same critical section, so a scan never holds two pins at once.
func (m *Manager) UnpinAndGetPageAndPin(id storage.ResourceID, unpin, page uint32) (storage.CacheableData, error) {
	return m.fetch("UnpinAndGetPageAndPin", id, page, true, unpin)
}

func (m *Manager) fetch(op string, id storage.ResourceID, page uint32, unpin bool, unpinPage uint32) (storage.CacheableData, error) {
	key := cache.Key{Resource: id, Page: page}
	var buf []byte

	for {
		m.mu.Lock()
		res, err := m.resourceLocked(op, id, page)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		if unpin {
			res.cache.UnpinPage(id, unpinPage)
			unpin = false
		}

		if data, ok := res.cache.GetAndPin(id, page); ok {
			m.metrics.CacheHits.Inc()
			if buf != nil {
				res.free.Put(buf)
			}
			m.mu.Unlock()
			return data, nil
		}
		if wait := m.pendingLocked(key); wait != nil {
			m.mu.Unlock()
			<-wait
			continue
		}
		if buf == nil {
			b, ok := res.free.TryTake()
			if !ok {
				m.mu.Unlock()
				buf = res.free.Take()
				continue
			}
			buf = b
		}

		req := newRequest(id, page, res.rm, buf)
		m.inflight[key] = req
		m.metrics.CacheMisses.Inc()
		m.mu.Unlock()

		return m.completeRead(op, res, req, true)
	}
}

// completeRead hands req to the reader, waits for it and admits the page.
// Called without mu.
func (m *Manager) completeRead(op string, res *resource, req *Request, pin bool) (storage.CacheableData, error) {
	key := cache.Key{Resource: req.Resource, Page: req.PageNumber}

	err := m.submit(req)
	if err == nil {
		<-req.done
		err = req.err
	} else {
		req.err = err
	}

	m.mu.Lock()
	delete(m.inflight, key)
	if err == nil && m.resources[req.Resource] != res {
		// unregistered while the read was in flight
		err = ErrUnknownResource
	}
	if err != nil {
		res.free.Put(req.buf)
		close(req.ready)
		m.mu.Unlock()
		slog.Debug("bufferpool: read failed", "resource", req.Resource, "page", req.PageNumber, "err", err)
		return nil, opError(op, req.Resource, req.PageNumber, err)
	}
	m.metrics.DiskReads.Inc()
	return m.admitLocked(op, res, req.page, pin, req.ready)
}

// submit retries while the read queue is full.
func (m *Manager) submit(req *Request) error {
	for {
		err := m.reader.Submit(req)
		if !errors.Is(err, ErrQueueFull) {
			return err
		}
		time.Sleep(submitBackoff)
	}
}

// CreateNewPageAndPin reserves the next page of the resource, formats it as
// kind and returns it pinned. The page reaches disk on eviction or flush.
func (m *Manager) CreateNewPageAndPin(id storage.ResourceID, kind storage.PageKind) (storage.CacheableData, error) {
	const op = "CreateNewPageAndPin"
	var buf []byte

	for {
		m.mu.Lock()
		res, err := m.resourceLocked(op, id, storage.NoPage)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		if buf == nil {
			b, ok := res.free.TryTake()
			if !ok {
				m.mu.Unlock()
				buf = res.free.Take()
				continue
			}
			buf = b
		}
		data, err := res.rm.ReserveNewPage(buf, kind)
		if err != nil {
			res.free.Put(buf)
			m.mu.Unlock()
			return nil, opError(op, id, storage.NoPage, err)
		}
		return m.admitLocked(op, res, data, true, nil)
	}
}

// admitLocked puts data into the cache and recycles whatever it displaced.
// A dirty victim is written back before returning. Called with mu held,
// returns with mu released.
func (m *Manager) admitLocked(op string, res *resource, data storage.CacheableData, pin bool, ready chan struct{}) (storage.CacheableData, error) {
	var (
		ev  cache.EvictedCacheEntry
		err error
	)
	if pin {
		ev, err = res.cache.AddAndPin(data, res.id)
	} else {
		ev, err = res.cache.Add(data, res.id)
	}
	if ready != nil {
		close(ready)
	}
	pn := data.PageNumber()
	if err != nil {
		// the buffer belongs to the free pool after Put
		res.free.Put(data.Buffer())
		m.mu.Unlock()
		return nil, opError(op, res.id, pn, err)
	}

	if ev.IsCold() || !ev.Dirty {
		if !ev.IsCold() {
			m.metrics.Evictions.Inc()
		}
		res.free.Put(ev.Buffer)
		m.mu.Unlock()
		return data, nil
	}

	m.metrics.Evictions.Inc()
	owner, ok := m.resources[ev.Resource]
	if !ok {
		slog.Warn("bufferpool: dropping dirty page of unregistered resource",
			"resource", ev.Resource, "page", ev.PageNumber)
		res.free.Put(ev.Buffer)
		m.mu.Unlock()
		return data, nil
	}
	evKey := cache.Key{Resource: ev.Resource, Page: ev.PageNumber}
	done := make(chan struct{})
	m.writebacks[evKey] = done
	m.mu.Unlock()

	werr := m.writer.WriteBatch([]writeRequest{{buf: ev.Buffer, page: ev.Data, rm: owner.rm}})

	m.mu.Lock()
	delete(m.writebacks, evKey)
	close(done)
	res.free.Put(ev.Buffer)
	if werr == nil {
		m.metrics.DirtyWrites.Inc()
	}
	if werr != nil && pin {
		res.cache.UnpinPage(res.id, pn)
	}
	m.mu.Unlock()

	if werr != nil {
		slog.Error("bufferpool: write back failed",
			"resource", ev.Resource, "page", ev.PageNumber, "err", werr)
		return nil, opError(op, ev.Resource, ev.PageNumber, werr)
	}
	return data, nil
}

// UnpinPage releases one pin. Unknown pages and resources are ignored.
func (m *Manager) UnpinPage(id storage.ResourceID, page uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.resources[id]; ok {
		res.cache.UnpinPage(id, page)
	}
}

// FlushResource writes every modified cached page of the resource and
// clears its modified flag. Pages stay cached and keep their pins.
func (m *Manager) FlushResource(id storage.ResourceID) error {
	const op = "FlushResource"

	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.resourceLocked(op, id, storage.NoPage)
	if err != nil {
		return err
	}
	return opError(op, id, storage.NoPage, m.flushLocked(res))
}

// flushLocked keeps mu for the whole batch so none of the pages can be
// evicted and their buffers reused mid-write.
func (m *Manager) flushLocked(res *resource) error {
	var batch []writeRequest
	for _, data := range res.cache.GetAllPagesForResource(res.id) {
		if data.HasBeenModified() {
			batch = append(batch, writeRequest{buf: data.Buffer(), page: data, rm: res.rm})
		}
	}
	if err := m.writer.WriteBatch(batch); err != nil {
		return err
	}
	for _, r := range batch {
		if c, ok := r.page.(interface{ ClearModified() }); ok {
			c.ClearModified()
		}
	}
	m.metrics.DirtyWrites.Add(float64(len(batch)))
	return nil
}

// Close flushes every registered resource, drops all pins and stops the
// I/O goroutines. The manager cannot be restarted.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.active {
		m.closed = true
		m.mu.Unlock()
		return nil
	}

	var err error
	for id, res := range m.resources {
		if ferr := m.flushLocked(res); ferr != nil {
			err = multierr.Append(err, opError("Close", id, storage.NoPage, ferr))
		}
	}
	for _, c := range m.caches {
		c.UnpinAllPages()
	}
	m.active = false
	m.closed = true
	m.mu.Unlock()

	if rerr := m.prefetch.ReleaseTimeout(time.Second); rerr != nil {
		slog.Warn("bufferpool: prefetch pool did not drain", "err", rerr)
	}
	m.reader.stop()
	m.writer.stop()

	slog.Debug("bufferpool: closed")
	return err
}
