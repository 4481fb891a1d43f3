package service

import "errors"

// Sentinel kinds for service errors.
var (
	// ErrBackpressure means the async intake queue is full. The event was not
	// applied and may be resubmitted.
	ErrBackpressure = errors.New("intake queue full")
	// ErrNotStarted is returned by operations invoked before Start or after Stop.
	ErrNotStarted = errors.New("service not started")
	// ErrInvalidLimit rejects non-positive listing limits.
	ErrInvalidLimit = errors.New("invalid limit")
)
