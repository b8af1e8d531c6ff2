package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrInvalidRequest = errors.New("invalid request")
	ErrBackpressure   = errors.New("result queue is full, retry later")
)
