package heap

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/tuannm99/novadb/internal/bufferpool"
	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

// DefaultPrefetchWindow is how many pages a Scanner asks the pool to read
// ahead each time it crosses into a new window.
var DefaultPrefetchWindow uint32 = 16

// Table is a heap file of table pages reached through the buffer pool.
type Table struct {
	Name   string
	Schema record.Schema

	PrefetchWindow uint32

	pm bufferpool.PageManager

	// serialises inserts; they all target the last page
	mu sync.Mutex
}

func NewTable(name string, schema record.Schema, pm bufferpool.PageManager) (*Table, error) {
	for _, c := range schema.Cols {
		if !c.Type.Valid() {
			return nil, errors.Wrapf(record.ErrBadType, "table %s column %s", name, c.Name)
		}
	}
	if storage.HeaderSize+slotWidth(schema) > pm.PageSize().Bytes() {
		return nil, errors.Wrapf(ErrTupleTooLarge, "table %s: fixed width %d", name, slotWidth(schema))
	}
	return &Table{
		Name:           name,
		Schema:         schema,
		PrefetchWindow: DefaultPrefetchWindow,
		pm:             pm,
	}, nil
}

func (t *Table) Resource() storage.ResourceID { return t.pm.Resource() }

// PageCount is the number of pages currently allocated to the table.
func (t *Table) PageCount() uint32 {
	last := t.pm.LastDataPageNumber()
	if last == storage.NoPage {
		return 0
	}
	return last - t.pm.FirstDataPageNumber() + 1
}

func (t *Table) pinTablePage(pageNumber uint32) (TablePage, error) {
	p, err := t.pm.GetPageAndPin(pageNumber)
	if err != nil {
		return TablePage{}, err
	}
	tp := TablePage{Page: p, Schema: t.Schema}
	if err := tp.Init(); err != nil {
		t.pm.UnpinPage(pageNumber)
		return TablePage{}, err
	}
	return tp, nil
}

// Insert appends tuple to the last page, or to a new page when it is full.
func (t *Table) Insert(tuple record.DataTuple) (RID, error) {
	if err := t.Schema.Check(tuple); err != nil {
		return RID{}, err
	}
	if storage.HeaderSize+slotWidth(t.Schema)+varLen(tuple) > t.pm.PageSize().Bytes() {
		return RID{}, ErrTupleTooLarge
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if last := t.pm.LastDataPageNumber(); last != storage.NoPage {
		tp, err := t.pinTablePage(last)
		if err != nil {
			return RID{}, err
		}
		slot, err := tp.Insert(tuple)
		t.pm.UnpinPage(last)
		if err == nil {
			return RID{Page: last, Slot: slot}, nil
		}
		if !errors.Is(err, ErrNoSpace) {
			return RID{}, err
		}
	}

	p, err := t.pm.CreateNewPageAndPin(storage.KindTable)
	if err != nil {
		return RID{}, err
	}
	defer t.pm.UnpinPage(p.PageNumber())

	tp := TablePage{Page: p, Schema: t.Schema}
	if err := tp.Init(); err != nil {
		return RID{}, err
	}
	slot, err := tp.Insert(tuple)
	if err != nil {
		return RID{}, err
	}
	slog.Debug("heap: new page", "table", t.Name, "page", p.PageNumber())
	return RID{Page: p.PageNumber(), Slot: slot}, nil
}

// Get reads a single row by RID.
func (t *Table) Get(rid RID) (record.DataTuple, error) {
	tp, err := t.pinTablePage(rid.Page)
	if err != nil {
		return record.DataTuple{}, err
	}
	defer t.pm.UnpinPage(rid.Page)
	return tp.Read(int(rid.Slot))
}

// Delete tombstones a single row.
func (t *Table) Delete(rid RID) error {
	tp, err := t.pinTablePage(rid.Page)
	if err != nil {
		return err
	}
	defer t.pm.UnpinPage(rid.Page)
	return tp.Delete(int(rid.Slot))
}

// Flush writes the table's dirty pages.
func (t *Table) Flush() error { return t.pm.Flush() }

// Scan returns a sequential scanner over the live rows. The caller must
// Close it.
func (t *Table) Scan() *Scanner {
	return &Scanner{
		t:      t,
		pageNo: storage.NoPage,
		last:   t.pm.LastDataPageNumber(),
	}
}

// ForEach calls fn for every live row, stopping at the first error.
func (t *Table) ForEach(fn func(rid RID, tuple record.DataTuple) error) error {
	s := t.Scan()
	defer s.Close()
	for s.Next() {
		if err := fn(s.RID(), s.Tuple()); err != nil {
			return err
		}
	}
	return s.Err()
}

// Scanner walks the table page by page holding one pin at a time.
type Scanner struct {
	t *Table

	pageNo uint32 // pinned page, NoPage when none
	last   uint32
	page   TablePage
	slot   int

	rid   RID
	tuple record.DataTuple
	err   error
	done  bool
}

func (s *Scanner) Next() bool {
	if s.done || s.err != nil {
		return false
	}
	for {
		if s.pageNo == storage.NoPage {
			if s.last == storage.NoPage {
				s.done = true
				return false
			}
			if !s.enter(s.t.pm.FirstDataPageNumber(), false) {
				return false
			}
		}

		for s.slot < s.page.NumSlots() {
			slot := s.slot
			s.slot++
			if !s.page.IsLive(slot) {
				continue
			}
			tuple, err := s.page.Read(slot)
			if err != nil {
				s.err = err
				return false
			}
			s.rid = RID{Page: s.pageNo, Slot: uint16(slot)}
			s.tuple = tuple
			return true
		}

		if s.pageNo >= s.last {
			s.Close()
			s.done = true
			return false
		}
		if !s.enter(s.pageNo+1, true) {
			return false
		}
	}
}

// enter pins pageNumber, releasing the current page in the same pool call
// when moving.
func (s *Scanner) enter(pageNumber uint32, moving bool) bool {
	pm := s.t.pm
	s.prefetchFrom(pageNumber)

	var (
		p   *storage.Page
		err error
	)
	if moving {
		p, err = pm.UnpinAndGetPageAndPin(s.pageNo, pageNumber)
	} else {
		p, err = pm.GetPageAndPin(pageNumber)
	}
	if err != nil {
		s.pageNo = storage.NoPage
		s.err = err
		return false
	}
	s.pageNo = pageNumber
	s.page = TablePage{Page: p, Schema: s.t.Schema}
	s.slot = 0
	if err := s.page.Init(); err != nil {
		s.err = err
		return false
	}
	return true
}

func (s *Scanner) prefetchFrom(pageNumber uint32) {
	w := s.t.PrefetchWindow
	if w == 0 || pageNumber >= s.last {
		return
	}
	if (pageNumber-s.t.pm.FirstDataPageNumber())%w != 0 {
		return
	}
	end := pageNumber + w
	if end > s.last {
		end = s.last
	}
	if err := s.t.pm.PrefetchPages(pageNumber+1, end); err != nil {
		slog.Debug("heap: prefetch failed", "table", s.t.Name, "from", pageNumber+1, "err", err)
	}
}

func (s *Scanner) RID() RID                { return s.rid }
func (s *Scanner) Tuple() record.DataTuple { return s.tuple }
func (s *Scanner) Err() error              { return s.err }

// Close releases the pinned page. Safe to call more than once.
func (s *Scanner) Close() {
	if s.pageNo != storage.NoPage {
		s.t.pm.UnpinPage(s.pageNo)
		s.pageNo = storage.NoPage
	}
	s.done = true
}
