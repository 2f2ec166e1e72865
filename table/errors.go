package table

import "errors"

var (
	ErrClosed     = errors.New("table: closed")
	ErrEmptyKey   = errors.New("table: empty key")
	ErrKeyTooLong = errors.New("table: key exceeds maximum length")
)
