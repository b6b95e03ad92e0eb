package bufferpool

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/tuannm99/novadb/internal/storage"
)

var (
	ErrPoolInactive       = errors.New("bufferpool: pool is not active")
	ErrUnknownResource    = errors.New("bufferpool: resource not registered")
	ErrResourceRegistered = errors.New("bufferpool: resource already registered")
	ErrQueueFull          = errors.New("bufferpool: read queue is full")
	ErrIOStopped          = errors.New("bufferpool: io threads stopped")
	ErrNotAPage           = errors.New("bufferpool: cached data is not a storage page")
)

// Error is returned by every resource-scoped pool operation.
type Error struct {
	Op       string
	Resource storage.ResourceID
	Page     uint32
	Err      error
}

func (e *Error) Error() string {
	if e.Page == storage.NoPage {
		return fmt.Sprintf("bufferpool: %s resource=%d: %v", e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("bufferpool: %s resource=%d page=%d: %v", e.Op, e.Resource, e.Page, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op string, id storage.ResourceID, page uint32, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Resource: id, Page: page, Err: err}
}
