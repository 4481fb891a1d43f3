package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("event already processed")
	ErrConflict     = errors.New("event id pending with a different lead or type")
	ErrClosed       = errors.New("store closed")
	ErrInvalidLimit = errors.New("invalid listing limit")
	ErrInvalidLead  = errors.New("invalid lead")
)
