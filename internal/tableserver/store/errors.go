package store

import "errors"

// Sentinel errors the HTTP handler layer maps onto spec.md §4.10's status
// codes (404/409/410/412).
var (
	ErrNotFound    = errors.New("store: row not found")
	ErrDuplicate   = errors.New("store: duplicate id")
	ErrGone        = errors.New("store: row is soft-deleted")
	ErrPrecondition = errors.New("store: version precondition failed")
)
