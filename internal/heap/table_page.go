package heap

import (
	"github.com/pkg/errors"

	"github.com/tuannm99/novadb/internal/alias/bx"
	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

var (
	ErrNoSpace        = errors.New("heap: not enough space in page")
	ErrSlotOutOfRange = errors.New("heap: slot out of range")
	ErrTupleDeleted   = errors.New("heap: tuple deleted")
	ErrTupleTooLarge  = errors.New("heap: tuple does not fit in an empty page")
)

const (
	slotMetaSize = 4
	tombstoneBit = 1
)

// TablePage lays records out as
//
// +--------+--------+--------+-----> free <-----+----------+----------+
// | header | slot 0 | slot 1 | ...              | var data | var data |
// +--------+--------+--------+------------------+----------+----------+
//
// Each slot is [meta u32][fixed-width fields]. A VARCHAR field is stored
// inline as (offset u16, length u16) into the variable area, which grows
// down from the end of the page. freeOffset is the start of that area.
type TablePage struct {
	Page   *storage.Page
	Schema record.Schema
}

func slotWidth(schema record.Schema) int {
	return slotMetaSize + schema.FixedWidth()
}

// varLen is the variable-area space tuple needs.
func varLen(tuple record.DataTuple) int {
	n := 0
	for _, f := range tuple.Fields() {
		if v, ok := f.(record.VarCharField); ok {
			n += len(v)
		}
	}
	return n
}

// Init stamps the record width on a freshly created page and validates it on
// an existing one.
func (tp TablePage) Init() error {
	if tp.Page.Kind() != storage.KindTable {
		return errors.Wrapf(storage.ErrPageFormat, "page %d is a %s page", tp.Page.PageNumber(), tp.Page.Kind())
	}
	w := uint32(slotWidth(tp.Schema))
	switch tp.Page.RecordWidth() {
	case 0:
		tp.Page.SetRecordWidth(w)
		tp.Page.MarkModified()
	case w:
	default:
		return errors.Wrapf(storage.ErrPageFormat, "page %d record width %d, schema needs %d",
			tp.Page.PageNumber(), tp.Page.RecordWidth(), w)
	}
	return nil
}

func (tp TablePage) NumSlots() int { return int(tp.Page.RecordCount()) }

func (tp TablePage) slotOffset(slot int) int {
	return storage.HeaderSize + slot*int(tp.Page.RecordWidth())
}

func (tp TablePage) FreeSpace() int {
	used := tp.slotOffset(tp.NumSlots())
	return int(tp.Page.FreeOffset()) - used
}

func (tp TablePage) checkSlot(slot int) error {
	if slot < 0 || slot >= tp.NumSlots() {
		return errors.Wrapf(ErrSlotOutOfRange, "page %d slot %d", tp.Page.PageNumber(), slot)
	}
	return nil
}

func (tp TablePage) IsLive(slot int) bool {
	if tp.checkSlot(slot) != nil {
		return false
	}
	return bx.U32At(tp.Page.Buffer(), tp.slotOffset(slot))&tombstoneBit == 0
}

// Insert writes tuple into a new slot. The tuple must already match Schema.
func (tp TablePage) Insert(tuple record.DataTuple) (uint16, error) {
	width := int(tp.Page.RecordWidth())
	need := width + varLen(tuple)
	if tp.FreeSpace() < need {
		return 0, ErrNoSpace
	}

	buf := tp.Page.Buffer()
	slot := tp.NumSlots()
	off := tp.slotOffset(slot)
	free := int(tp.Page.FreeOffset())

	bx.PutU32At(buf, off, 0)
	pos := off + slotMetaSize
	for i, c := range tp.Schema.Cols {
		f := tuple.Field(i)
		switch v := f.(type) {
		case record.VarCharField:
			var at uint16
			if len(v) > 0 {
				free -= len(v)
				copy(buf[free:], v)
				at = uint16(free)
			}
			bx.PutU16At(buf, pos, at)
			bx.PutU16At(buf, pos+2, uint16(len(v)))
		case record.CharField:
			record.EncodeKey(buf[pos:], record.NewChar(v.Value, c.Type.Length))
		default:
			record.EncodeKey(buf[pos:], f)
		}
		pos += c.Type.FixedWidth()
	}

	tp.Page.SetFreeOffset(uint32(free))
	tp.Page.SetRecordCount(uint32(slot + 1))
	tp.Page.MarkModified()
	return uint16(slot), nil
}

func (tp TablePage) Read(slot int) (record.DataTuple, error) {
	if err := tp.checkSlot(slot); err != nil {
		return record.DataTuple{}, err
	}
	if !tp.IsLive(slot) {
		return record.DataTuple{}, errors.Wrapf(ErrTupleDeleted, "page %d slot %d", tp.Page.PageNumber(), slot)
	}

	buf := tp.Page.Buffer()
	pos := tp.slotOffset(slot) + slotMetaSize
	fields := make([]record.DataField, len(tp.Schema.Cols))
	for i, c := range tp.Schema.Cols {
		if c.Type.Kind == record.KindVarChar {
			at := int(bx.U16At(buf, pos))
			n := int(bx.U16At(buf, pos+2))
			if n > 0 && at+n > len(buf) {
				return record.DataTuple{}, errors.Wrapf(storage.ErrPageFormat,
					"page %d slot %d varchar out of bounds", tp.Page.PageNumber(), slot)
			}
			fields[i] = record.VarCharField(buf[at : at+n])
		} else {
			fields[i] = record.DecodeKey(c.Type, buf[pos:])
		}
		pos += c.Type.FixedWidth()
	}
	return record.NewTuple(fields...), nil
}

// Delete tombstones the slot. Space is not reclaimed.
func (tp TablePage) Delete(slot int) error {
	if err := tp.checkSlot(slot); err != nil {
		return err
	}
	if !tp.IsLive(slot) {
		return errors.Wrapf(ErrTupleDeleted, "page %d slot %d", tp.Page.PageNumber(), slot)
	}
	off := tp.slotOffset(slot)
	buf := tp.Page.Buffer()
	bx.PutU32At(buf, off, bx.U32At(buf, off)|tombstoneBit)
	tp.Page.MarkModified()
	return nil
}

// LiveCount counts non-deleted slots.
func (tp TablePage) LiveCount() int {
	n := 0
	for i := range tp.NumSlots() {
		if tp.IsLive(i) {
			n++
		}
	}
	return n
}
