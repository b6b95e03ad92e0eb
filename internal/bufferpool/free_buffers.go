package bufferpool

import (
	"log/slog"

	"github.com/tuannm99/novadb/internal/storage"
)

// freeBuffers recycles page-sized buffers between the read path and the
// eviction path. A buffer is either here, inside a Request / write batch,
// or owned by a cache entry.
type freeBuffers struct {
	pageSize storage.PageSize
	ch       chan []byte
}

func newFreeBuffers(n int, pageSize storage.PageSize) *freeBuffers {
	if n <= 0 {
		n = 1
	}
	fb := &freeBuffers{pageSize: pageSize, ch: make(chan []byte, n)}
	for range n {
		fb.ch <- make([]byte, pageSize)
	}
	return fb
}

func (fb *freeBuffers) TryTake() ([]byte, bool) {
	select {
	case b := <-fb.ch:
		return b, true
	default:
		return nil, false
	}
}

// Take blocks until a buffer is available.
func (fb *freeBuffers) Take() []byte {
	return <-fb.ch
}

func (fb *freeBuffers) Put(b []byte) {
	if len(b) != fb.pageSize.Bytes() {
		slog.Warn("bufferpool: dropping buffer of wrong size", "len", len(b), "pageSize", fb.pageSize)
		return
	}
	select {
	case fb.ch <- b:
	default:
		// pool already full; let GC take the spare
	}
}

func (fb *freeBuffers) Len() int { return len(fb.ch) }
