package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrFull   = errors.New("result queue is full")
	ErrClosed = errors.New("result queue is closed")
)
