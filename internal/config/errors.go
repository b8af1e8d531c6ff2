package config

import "errors"

// ErrInvalidConfig wraps every Validate failure; ErrLoadConfig wraps file,
// env and decoding failures in Load.
var (
	ErrInvalidConfig = errors.New("invalid tatami config")
	ErrLoadConfig    = errors.New("loading tatami config")
)
