package bufferpool

import "github.com/tuannm99/novadb/internal/storage"

// Request is one in-flight page fetch.
//
// done is closed by the reader once buf holds the page (or err is set).
// ready is closed by the requester once the page is in the cache (or the
// fetch failed); other callers missing on the same key wait on it.
type Request struct {
	Resource   storage.ResourceID
	PageNumber uint32

	rm  storage.ResourceManager
	buf []byte

	page storage.CacheableData
	err  error

	done  chan struct{}
	ready chan struct{}
}

func newRequest(id storage.ResourceID, pageNumber uint32, rm storage.ResourceManager, buf []byte) *Request {
	return &Request{
		Resource:   id,
		PageNumber: pageNumber,
		rm:         rm,
		buf:        buf,
		done:       make(chan struct{}),
		ready:      make(chan struct{}),
	}
}
