package bufferpool

import (
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/tuannm99/novadb/internal/storage"
)

type writeRequest struct {
	buf  []byte
	page storage.CacheableData
	rm   storage.ResourceManager
}

type writeBatch struct {
	reqs []writeRequest
	done chan error
}

// writer persists batches of pages on its own goroutine. WriteBatch returns
// once every page of the batch has been handed to its resource manager.
type writer struct {
	queue chan *writeBatch

	mu      sync.RWMutex
	stopped bool
	wg      conc.WaitGroup
}

func newWriter() *writer {
	return &writer{queue: make(chan *writeBatch)}
}

func (w *writer) start() {
	w.wg.Go(w.loop)
}

func (w *writer) WriteBatch(reqs []writeRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	b := &writeBatch{reqs: reqs, done: make(chan error, 1)}

	w.mu.RLock()
	if w.stopped {
		w.mu.RUnlock()
		return ErrIOStopped
	}
	w.queue <- b
	w.mu.RUnlock()

	return <-b.done
}

func (w *writer) loop() {
	for b := range w.queue {
		var err error
		for _, r := range b.reqs {
			err = multierr.Append(err, r.rm.WritePage(r.buf, r.page))
		}
		b.done <- err
	}
}

func (w *writer) stop() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
