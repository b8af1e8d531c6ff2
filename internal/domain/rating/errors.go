package rating

import "errors"

// Sentinel error kinds for rating computations. Callers match with errors.Is.
var (
	ErrInvalidInput   = errors.New("invalid rating input")
	ErrInvalidOutcome = errors.New("invalid match outcome")
)
