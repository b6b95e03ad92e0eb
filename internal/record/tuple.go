package record

import "strings"

// DataTuple is an ordered, fixed-length sequence of fields. Fields are set
// at construction only.
type DataTuple struct {
	fields []DataField
}

func NewTuple(fields ...DataField) DataTuple {
	cp := make([]DataField, len(fields))
	copy(cp, fields)
	return DataTuple{fields: cp}
}

func (t DataTuple) Len() int              { return len(t.fields) }
func (t DataTuple) Field(i int) DataField { return t.fields[i] }

func (t DataTuple) Fields() []DataField {
	cp := make([]DataField, len(t.fields))
	copy(cp, t.fields)
	return cp
}

func (t DataTuple) String() string {
	parts := make([]string, len(t.fields))
	for i, f := range t.fields {
		parts[i] = f.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
