package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrExists            = errors.New("already exists")
	ErrInvalidLimit      = errors.New("invalid leaderboard limit")
	ErrConflict          = errors.New("concurrent modification")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrAlreadySettled    = errors.New("match already settled")
)
