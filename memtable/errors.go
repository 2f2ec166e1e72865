package memtable

import "errors"

var (
	ErrEmptyKey   = errors.New("memtable: empty key")
	ErrKeyTooLong = errors.New("memtable: key exceeds maximum length")
)
