package ledger

import "errors"

var (
	ErrNotFound     = errors.New("ledger: not found")
	ErrInvalidID    = errors.New("ledger: invalid id")
	ErrImmutable    = errors.New("ledger: immutable entry mismatch")
	ErrLinkMismatch = errors.New("ledger: entry does not match requested link")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
