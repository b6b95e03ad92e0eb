package catalog

import (
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/tuannm99/novadb/internal/record"
	"github.com/tuannm99/novadb/internal/storage"
)

var (
	ErrBadIdent      = errors.New("catalog: invalid identifier")
	ErrUnknownColumn = errors.New("catalog: column not found")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateIdent accepts names usable as file bases: letters, digits and
// underscores, not starting with a digit.
func ValidateIdent(s string) error {
	if !identRe.MatchString(s) {
		return errors.Wrapf(ErrBadIdent, "%q", s)
	}
	return nil
}

type IndexKind string

const IndexKindBTree IndexKind = "btree"

// IndexMeta is stored inside TableMeta (<table>.meta.json). The B-tree keeps
// its own root page in <file_base>.btree.json.
type IndexMeta struct {
	Name      string             `json:"name"`
	Kind      IndexKind          `json:"kind"`
	KeyColumn string             `json:"key_column"`
	Unique    bool               `json:"unique"`
	FileBase  string             `json:"file_base"`
	Resource  storage.ResourceID `json:"resource"`
	CreatedAt time.Time          `json:"created_at"`
}

type TableMeta struct {
	Name      string             `json:"name"`
	Schema    record.Schema      `json:"schema"`
	PageSize  string             `json:"page_size"`
	Resource  storage.ResourceID `json:"resource"`
	Indexes   []IndexMeta        `json:"indexes"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (m *TableMeta) Column(name string) (int, record.Column, error) {
	for i, c := range m.Schema.Cols {
		if c.Name == name {
			return i, c, nil
		}
	}
	return -1, record.Column{}, errors.Wrapf(ErrUnknownColumn, "%s.%s", m.Name, name)
}

func (m *TableMeta) FindIndex(name string) (int, *IndexMeta) {
	for i := range m.Indexes {
		if m.Indexes[i].Name == name {
			return i, &m.Indexes[i]
		}
	}
	return -1, nil
}

func IndexFileBase(table, index string) string {
	return table + "__" + index
}
