package cache

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/tuannm99/novadb/internal/storage"
)

var (
	// ErrCachePinned means admission needed a victim but every entry is pinned.
	// The cache is too small for the current pin load.
	ErrCachePinned = errors.New("cache: no evictable entry (all pinned)")

	ErrDuplicateCacheEntry = errors.New("cache: entry already cached")
	ErrPagePinned          = errors.New("cache: page is pinned")
)

// Key uniquely identifies a cached page.
type Key struct {
	Resource storage.ResourceID
	Page     uint32
}

type listID uint8

const (
	inNone listID = iota
	inT1
	inT2
	inB1
	inB2
)

// entry is one cache slot. A slot is cold (data == nil, in no list) until
// first used; its buffer is handed out on first admission.
type entry struct {
	link
	key      Key
	buf      []byte
	data     storage.CacheableData
	pinCount int32
	hitCount uint32
	expelled bool
	where    listID
}

type ghost struct {
	link
	key   Key
	where listID
}

type entries []entry
type ghosts []ghost

func (a entries) link(i int32) *link { return &a[i].link }
func (a ghosts) link(i int32) *link  { return &a[i].link }

// EvictedCacheEntry is what admission displaced. For a cold slot Data is nil
// and Buffer is the slot's never-used buffer.
type EvictedCacheEntry struct {
	Resource   storage.ResourceID
	PageNumber uint32
	Buffer     []byte
	Data       storage.CacheableData
	Dirty      bool
}

func (e EvictedCacheEntry) IsCold() bool { return e.Data == nil }

// Stats is a point-in-time snapshot of the replacement lists.
type Stats struct {
	Capacity int
	T1, T2   int
	B1, B2   int
	P        int
	Pinned   int
}

// PageCache is an ARC page cache (T1/T2 resident lists, B1/B2 ghost lists,
// adaptive T1 target p) for pages of a single page size.
//
// Invariants:
//   - |T1|+|T2| <= capacity
//   - a key is in at most one of T1, T2, B1, B2
//   - pinned entries are never evicted, so never reach B1/B2
type PageCache struct {
	mu sync.Mutex

	pageSize storage.PageSize
	capacity int
	p        int

	entries    entries
	ghosts     ghosts
	coldSlots  []int32
	freeGhosts []int32
	index      map[Key]int32
	ghostIndex map[Key]int32
	t1, t2     list
	b1, b2     list
}

// New creates a cache of capacity pages. The cache owns capacity page
// buffers which circulate through admissions and evictions.
func New(pageSize storage.PageSize, capacity int) *PageCache {
	if capacity <= 0 {
		capacity = 1
	}
	c := &PageCache{
		pageSize:   pageSize,
		capacity:   capacity,
		entries:    make(entries, capacity),
		ghosts:     make(ghosts, capacity),
		coldSlots:  make([]int32, 0, capacity),
		freeGhosts: make([]int32, 0, capacity),
		index:      make(map[Key]int32, capacity),
		ghostIndex: make(map[Key]int32, capacity),
		t1:         newList(),
		t2:         newList(),
		b1:         newList(),
		b2:         newList(),
	}
	// Push in reverse so slot 0 is used first.
	for i := int32(capacity) - 1; i >= 0; i-- {
		c.entries[i] = entry{link: link{nilIdx, nilIdx}, buf: make([]byte, pageSize)}
		c.coldSlots = append(c.coldSlots, i)
		c.ghosts[i] = ghost{link: link{nilIdx, nilIdx}}
		c.freeGhosts = append(c.freeGhosts, i)
	}
	return c
}

func (c *PageCache) Capacity() int { return c.capacity }

func (c *PageCache) PageSize() storage.PageSize { return c.pageSize }

// Len returns the number of resident pages (|T1|+|T2|).
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t1.len + c.t2.len
}

func (c *PageCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	pinned := 0
	for _, i := range c.index {
		if c.entries[i].pinCount > 0 {
			pinned++
		}
	}
	return Stats{
		Capacity: c.capacity,
		T1:       c.t1.len,
		T2:       c.t2.len,
		B1:       c.b1.len,
		B2:       c.b2.len,
		P:        c.p,
		Pinned:   pinned,
	}
}

// Contains reports residency without touching recency state.
func (c *PageCache) Contains(res storage.ResourceID, page uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[Key{res, page}]
	return ok
}

// PinCount returns the pin count of a resident page, or -1 if not cached.
func (c *PageCache) PinCount(res storage.ResourceID, page uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[Key{res, page}]
	if !ok {
		return -1
	}
	return int(c.entries[i].pinCount)
}

// Get looks a page up without pinning it. A second access promotes the page
// from T1 to T2.
func (c *PageCache) Get(res storage.ResourceID, page uint32) (storage.CacheableData, bool) {
	return c.lookup(Key{res, page}, false)
}

// GetAndPin is Get plus a pin.
func (c *PageCache) GetAndPin(res storage.ResourceID, page uint32) (storage.CacheableData, bool) {
	return c.lookup(Key{res, page}, true)
}

func (c *PageCache) lookup(key Key, pin bool) (storage.CacheableData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[key]
	if !ok {
		return nil, false
	}
	e := &c.entries[i]
	e.hitCount++
	switch e.where {
	case inT1:
		c.t1.remove(c.entries, i)
		c.t2.pushFront(c.entries, i)
		e.where = inT2
	case inT2:
		c.t2.moveToFront(c.entries, i)
	}
	if pin {
		e.pinCount++
	}
	return e.data, true
}

// Add inserts a newly loaded or created page, unpinned.
func (c *PageCache) Add(data storage.CacheableData, res storage.ResourceID) (EvictedCacheEntry, error) {
	return c.add(data, res, false)
}

// AddAndPin inserts a page that starts with one pin.
func (c *PageCache) AddAndPin(data storage.CacheableData, res storage.ResourceID) (EvictedCacheEntry, error) {
	return c.add(data, res, true)
}

func (c *PageCache) add(data storage.CacheableData, res storage.ResourceID, pin bool) (EvictedCacheEntry, error) {
	if len(data.Buffer()) != c.pageSize.Bytes() {
		return EvictedCacheEntry{}, errors.Wrapf(storage.ErrWrongBufferSize,
			"cache: page of %d bytes into %s cache", len(data.Buffer()), c.pageSize)
	}
	key := Key{res, data.PageNumber()}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[key]; ok {
		return EvictedCacheEntry{}, errors.Wrapf(ErrDuplicateCacheEntry, "resource %d page %d", key.Resource, key.Page)
	}

	// Pick the slot before touching any state so a failed admission is a no-op.
	var (
		slot   int32
		victim bool
	)
	if n := len(c.coldSlots); n > 0 {
		slot = c.coldSlots[n-1]
	} else {
		var ok bool
		slot, ok = c.findVictim()
		if !ok {
			return EvictedCacheEntry{}, errors.Wrapf(ErrCachePinned, "admit resource %d page %d", key.Resource, key.Page)
		}
		victim = true
	}

	target := inT1
	if gi, ok := c.ghostIndex[key]; ok {
		c.adapt(c.ghosts[gi].where)
		c.removeGhost(gi)
		target = inT2
	}

	var ev EvictedCacheEntry
	if victim {
		ev = c.evict(slot)
	} else {
		c.coldSlots = c.coldSlots[:len(c.coldSlots)-1]
		ev = EvictedCacheEntry{Buffer: c.entries[slot].buf}
		if ev.Buffer == nil {
			ev.Buffer = make([]byte, c.pageSize)
		}
	}

	e := &c.entries[slot]
	e.key = key
	e.buf = data.Buffer()
	e.data = data
	e.hitCount = 1
	e.expelled = false
	e.pinCount = 0
	if pin {
		e.pinCount = 1
	}
	e.where = target
	if target == inT1 {
		c.t1.pushFront(c.entries, slot)
	} else {
		c.t2.pushFront(c.entries, slot)
	}
	c.index[key] = slot
	c.trimGhosts()

	return ev, nil
}

// adapt moves the T1 target after a ghost hit: a B1 hit favors recency,
// a B2 hit favors frequency.
func (c *PageCache) adapt(where listID) {
	switch where {
	case inB1:
		delta := 1
		if c.b1.len > 0 && c.b2.len/c.b1.len > 1 {
			delta = c.b2.len / c.b1.len
		}
		c.p = min(c.p+delta, c.capacity)
	case inB2:
		delta := 1
		if c.b2.len > 0 && c.b1.len/c.b2.len > 1 {
			delta = c.b1.len / c.b2.len
		}
		c.p = max(c.p-delta, 0)
	}
}

// findVictim walks T1 from its LRU end when |T1| >= max(1, p), otherwise T2,
// falling back to the other list. Pinned entries are skipped.
func (c *PageCache) findVictim() (int32, bool) {
	unpinned := func(i int32) bool { return c.entries[i].pinCount == 0 }

	first, second := &c.t2, &c.t1
	if c.t1.len >= max(1, c.p) {
		first, second = &c.t1, &c.t2
	}
	if i, ok := first.walkBack(c.entries, unpinned); ok {
		return i, true
	}
	return second.walkBack(c.entries, unpinned)
}

// evict removes the resident entry at slot, records its key in the matching
// ghost list and returns what it held.
func (c *PageCache) evict(slot int32) EvictedCacheEntry {
	e := &c.entries[slot]
	e.expelled = true

	ev := EvictedCacheEntry{
		Resource:   e.key.Resource,
		PageNumber: e.key.Page,
		Buffer:     e.buf,
		Data:       e.data,
		Dirty:      e.data != nil && e.data.HasBeenModified(),
	}

	ghostList := inB1
	if e.where == inT1 {
		c.t1.remove(c.entries, slot)
	} else {
		c.t2.remove(c.entries, slot)
		ghostList = inB2
	}
	delete(c.index, e.key)
	c.addGhost(e.key, ghostList)

	slog.Debug("cache.evict",
		"resource", ev.Resource,
		"page", ev.PageNumber,
		"dirty", ev.Dirty,
		"hits", e.hitCount,
		"p", c.p,
	)

	e.buf = nil
	e.data = nil
	e.where = inNone
	return ev
}

func (c *PageCache) addGhost(key Key, where listID) {
	if len(c.freeGhosts) == 0 {
		// Directory full: drop the oldest ghost, preferring B1 when T1 side
		// already holds its share.
		if c.b1.len > 0 && (c.t1.len+c.b1.len >= c.capacity || c.b2.len == 0) {
			c.removeGhost(c.b1.tail)
		} else {
			c.removeGhost(c.b2.tail)
		}
	}
	gi := c.freeGhosts[len(c.freeGhosts)-1]
	c.freeGhosts = c.freeGhosts[:len(c.freeGhosts)-1]

	g := &c.ghosts[gi]
	g.key = key
	g.where = where
	if where == inB1 {
		c.b1.pushFront(c.ghosts, gi)
	} else {
		c.b2.pushFront(c.ghosts, gi)
	}
	c.ghostIndex[key] = gi
}

func (c *PageCache) removeGhost(gi int32) {
	g := &c.ghosts[gi]
	if g.where == inB1 {
		c.b1.remove(c.ghosts, gi)
	} else {
		c.b2.remove(c.ghosts, gi)
	}
	delete(c.ghostIndex, g.key)
	g.where = inNone
	c.freeGhosts = append(c.freeGhosts, gi)
}

// trimGhosts keeps |T1|+|B1| <= c and |T1|+|T2|+|B1|+|B2| <= 2c.
func (c *PageCache) trimGhosts() {
	for c.b1.len > 0 && c.t1.len+c.b1.len > c.capacity {
		c.removeGhost(c.b1.tail)
	}
	for c.b2.len > 0 && c.t1.len+c.t2.len+c.b1.len+c.b2.len > 2*c.capacity {
		c.removeGhost(c.b2.tail)
	}
}

// UnpinPage drops one pin. Unpinning an unpinned page is a caller bug; the
// count stays at zero and the anomaly is logged.
func (c *PageCache) UnpinPage(res storage.ResourceID, page uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[Key{res, page}]
	if !ok {
		return
	}
	e := &c.entries[i]
	if e.pinCount == 0 {
		slog.Warn("cache: unpin of unpinned page", "resource", res, "page", page)
		return
	}
	e.pinCount--
}

// UnpinAllPages drops every pin. Used at shutdown.
func (c *PageCache) UnpinAllPages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, i := range c.index {
		c.entries[i].pinCount = 0
	}
}

// GetAllPagesForResource returns the resident pages of res without pinning
// or promoting them.
func (c *PageCache) GetAllPagesForResource(res storage.ResourceID) []storage.CacheableData {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []storage.CacheableData
	for k, i := range c.index {
		if k.Resource == res {
			out = append(out, c.entries[i].data)
		}
	}
	return out
}

// ExpelAllPagesForResource removes every page of res from the cache and
// forgets its ghosts. It refuses with ErrPagePinned if any page of res is
// pinned. The returned buffers belong to the caller; hand them back with
// ReturnBuffer once they are flushed.
func (c *PageCache) ExpelAllPagesForResource(res storage.ResourceID) ([]EvictedCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, i := range c.index {
		if k.Resource == res && c.entries[i].pinCount > 0 {
			return nil, errors.Wrapf(ErrPagePinned, "expel resource %d page %d", res, k.Page)
		}
	}

	var out []EvictedCacheEntry
	for k, i := range c.index {
		if k.Resource != res {
			continue
		}
		e := &c.entries[i]
		e.expelled = true
		out = append(out, EvictedCacheEntry{
			Resource:   res,
			PageNumber: k.Page,
			Buffer:     e.buf,
			Data:       e.data,
			Dirty:      e.data != nil && e.data.HasBeenModified(),
		})
		if e.where == inT1 {
			c.t1.remove(c.entries, i)
		} else {
			c.t2.remove(c.entries, i)
		}
		delete(c.index, k)
		e.buf = nil
		e.data = nil
		e.where = inNone
		c.coldSlots = append(c.coldSlots, i)
	}

	for k, gi := range c.ghostIndex {
		if k.Resource == res {
			c.removeGhost(gi)
		}
	}
	return out, nil
}

// ReturnBuffer gives a page buffer back to a cold slot that lost its own
// buffer through ExpelAllPagesForResource. It reports false when no cold
// slot needs one.
func (c *PageCache) ReturnBuffer(buf []byte) bool {
	if len(buf) != c.pageSize.Bytes() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, i := range c.coldSlots {
		if c.entries[i].buf == nil {
			c.entries[i].buf = buf
			return true
		}
	}
	return false
}
