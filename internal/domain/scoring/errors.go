package scoring

import (
	"errors"

	model "github.com/okian/leadscore/internal/domain/model"
)

// Sentinel kinds for scoring errors.
var (
	// ErrInvalidEvent marks a missing or malformed required field.
	ErrInvalidEvent = model.ErrInvalidEvent
	// ErrPersistence marks a storage failure or timeout. Nothing was applied
	// and the caller may retry the same event.
	ErrPersistence = errors.New("persistence failure")
	// ErrEventConflict marks an event id already pending for another lead or type.
	ErrEventConflict = errors.New("event id reused for a different lead or type")
)
