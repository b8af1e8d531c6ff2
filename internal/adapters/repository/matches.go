package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/tatami/internal/domain/model"
)

// InMemoryMatchStore implements MatchStore with a mutex-guarded map.
type InMemoryMatchStore struct {
	mu      sync.RWMutex
	matches map[string]model.Match
	now     func() time.Time
}

// NewInMemoryMatchStore creates an empty match store.
func NewInMemoryMatchStore(opts ...MatchOption) *InMemoryMatchStore {
	s := &InMemoryMatchStore{
		matches: make(map[string]model.Match),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create implements MatchStore.
func (s *InMemoryMatchStore) Create(ctx context.Context, m model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[m.ID]; ok {
		return fmt.Errorf("match %s: %w", m.ID, ErrExists)
	}
	ts := s.now()
	m.CreatedAt = ts
	m.UpdatedAt = ts
	m.Version = 1
	s.matches[m.ID] = m
	return nil
}

// Get implements MatchStore.
func (s *InMemoryMatchStore) Get(ctx context.Context, id string) (model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[id]
	if !ok {
		return model.Match{}, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	return m, nil
}

// Transition implements MatchStore. The status check and the write happen
// under one lock, so of two racing transitions out of the same status only
// one succeeds.
func (s *InMemoryMatchStore) Transition(ctx context.Context, t Transition) (model.Match, error) {
	if !t.From.CanTransition(t.To) {
		return model.Match{}, fmt.Errorf("match %s %s -> %s: %w", t.MatchID, t.From, t.To, ErrIllegalTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[t.MatchID]
	if !ok {
		return model.Match{}, fmt.Errorf("match %s: %w", t.MatchID, ErrNotFound)
	}
	if m.Status != t.From {
		return model.Match{}, fmt.Errorf("match %s is %s, not %s: %w", t.MatchID, m.Status, t.From, ErrConflict)
	}

	m.Status = t.To
	if t.To == model.StatusCompleted && t.Outcome != nil {
		o := *t.Outcome
		m.Outcome = &o
	}
	m.Version++
	m.UpdatedAt = s.now()
	s.matches[m.ID] = m
	return m, nil
}
