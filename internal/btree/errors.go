package btree

import "github.com/pkg/errors"

var (
	ErrDuplicateKey       = errors.New("btree: duplicate key in unique index")
	ErrIndexFormatCorrupt = errors.New("btree: index page corrupt")
	ErrKeyType            = errors.New("btree: key type does not match index")
	ErrBadSchema          = errors.New("btree: invalid index schema")
)
