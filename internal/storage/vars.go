package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	OneB  = 1 << 0  // 1
	OneKB = 1 << 10 // 1,024
	OneMB = 1 << 20 // 1,048,576
	OneGB = 1 << 30 // 1,073,741,824

	SegmentSize = 1 << 30 // 1 GiB per segment file
)

const (
	FileMode0644 = 0o644
	FileMode0755 = 0o755
)

// PageSize is the size in bytes of every page of a resource.
// Each page size gets its own cache instance in the buffer pool.
type PageSize uint32

const (
	PageSize4K  PageSize = 4 * OneKB
	PageSize8K  PageSize = 8 * OneKB
	PageSize16K PageSize = 16 * OneKB
	PageSize32K PageSize = 32 * OneKB
	PageSize64K PageSize = 64 * OneKB

	// DefaultPageSize is 8KB, similar to PostgreSQL.
	DefaultPageSize = PageSize8K
)

var pageSizes = []PageSize{PageSize4K, PageSize8K, PageSize16K, PageSize32K, PageSize64K}

// PageSizes returns all supported page sizes in ascending order.
func PageSizes() []PageSize {
	out := make([]PageSize, len(pageSizes))
	copy(out, pageSizes)
	return out
}

func (ps PageSize) Bytes() int { return int(ps) }

func (ps PageSize) Valid() bool {
	for _, s := range pageSizes {
		if s == ps {
			return true
		}
	}
	return false
}

func (ps PageSize) String() string {
	return fmt.Sprintf("%dk", uint32(ps)/OneKB)
}

// PagesPerSegment is the number of pages stored in one segment file.
func (ps PageSize) PagesPerSegment() uint32 {
	return SegmentSize / uint32(ps)
}

// ParsePageSize accepts "8k", "8K", "8kb" or a plain byte count like "8192".
func ParsePageSize(s string) (PageSize, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimSuffix(v, "b")

	mult := uint64(1)
	if strings.HasSuffix(v, "k") {
		mult = OneKB
		v = strings.TrimSuffix(v, "k")
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidPageSize, "parse %q", s)
	}
	ps := PageSize(n * mult)
	if !ps.Valid() {
		return 0, errors.Wrapf(ErrInvalidPageSize, "%q", s)
	}
	return ps, nil
}

var (
	ErrInvalidPageSize = errors.New("storage: invalid page size")
	ErrPageFormat      = errors.New("storage: malformed page")
	ErrPageNotFound    = errors.New("storage: page not found")
	ErrWrongBufferSize = errors.New("storage: buffer size != page size")
	ErrResourceClosed  = errors.New("storage: resource is closed")
)
