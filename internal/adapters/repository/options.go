package repository

import "time"

// Option applies a configuration option to the TreapStore.
type Option func(*TreapStore)

// WithPriorities replaces the random treap priority source. Tests use it to
// build deterministic shapes.
func WithPriorities(next func() uint64) Option {
	return func(s *TreapStore) {
		if next != nil {
			s.prio = next
		}
	}
}

// MatchOption applies a configuration option to the InMemoryMatchStore.
type MatchOption func(*InMemoryMatchStore)

// WithClock sets the time source used for CreatedAt and UpdatedAt.
func WithClock(now func() time.Time) MatchOption {
	return func(s *InMemoryMatchStore) {
		if now != nil {
			s.now = now
		}
	}
}
