package cards

import "errors"

var (
	// ErrNotFound covers both missing records and records the viewer may not see.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor does not own the record being changed.
	ErrForbidden = errors.New("forbidden")
	// ErrCycle indicates a move would place a card under itself or a descendant.
	ErrCycle = errors.New("move would create a cycle")
	// ErrBadPlacement indicates a reorder request without exactly one of
	// position, before or after.
	ErrBadPlacement = errors.New("placement must set exactly one of position, before, after")
	// ErrInvalidInput indicates malformed field values.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is a transient storage conflict. Callers retry the whole
	// operation.
	ErrConflict = errors.New("transaction conflict")
)
