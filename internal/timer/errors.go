package timer

import "errors"

// Error kinds surfaced by the timer engine. The transport layers map these to
// status codes; everything else is treated as an internal failure.
var (
	// ErrNotFound means the timer ID is unknown to the registry.
	ErrNotFound = errors.New("timer not found")
	// ErrInvalidInput means malformed input, such as a bad stage schedule or
	// a non-finite time adjustment.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyOccupied means the requested side has already been joined.
	ErrAlreadyOccupied = errors.New("side already occupied")
	// ErrUnauthorized means the caller's role may not perform the operation,
	// including ending a turn that is not theirs.
	ErrUnauthorized = errors.New("role not permitted")
	// ErrInvalidState means the operation is not legal in the timer's current
	// lifecycle state.
	ErrInvalidState = errors.New("invalid timer state")
)
