package bufferpool

import (
	"sync"

	"github.com/sourcegraph/conc"
)

// reader is the single goroutine turning read Requests into filled buffers.
// Submission never blocks: a full queue is reported as ErrQueueFull and the
// caller retries.
type reader struct {
	queue chan *Request

	mu      sync.RWMutex
	stopped bool
	wg      conc.WaitGroup
}

func newReader(queueSize int) *reader {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &reader{queue: make(chan *Request, queueSize)}
}

func (r *reader) start() {
	r.wg.Go(r.loop)
}

func (r *reader) Submit(req *Request) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrIOStopped
	}
	select {
	case r.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *reader) loop() {
	for req := range r.queue {
		req.page, req.err = req.rm.ReadPage(req.buf, req.PageNumber)
		close(req.done)
	}
}

// stop refuses new requests, drains the queue and waits for the goroutine.
func (r *reader) stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
