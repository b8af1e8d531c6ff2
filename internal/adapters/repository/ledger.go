package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/tatami/internal/domain/model"
)

// InMemoryLedger implements Ledger. The match id acts as a unique key.
type InMemoryLedger struct {
	mu      sync.RWMutex
	records map[string]model.SettlementRecord
}

// NewInMemoryLedger creates an empty ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{records: make(map[string]model.SettlementRecord)}
}

// Record implements Ledger.
func (l *InMemoryLedger) Record(ctx context.Context, rec model.SettlementRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[rec.MatchID]; ok {
		return fmt.Errorf("match %s: %w", rec.MatchID, ErrAlreadySettled)
	}
	l.records[rec.MatchID] = rec
	return nil
}

// Get implements Ledger.
func (l *InMemoryLedger) Get(ctx context.Context, matchID string) (model.SettlementRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[matchID]
	if !ok {
		return model.SettlementRecord{}, fmt.Errorf("settlement for match %s: %w", matchID, ErrNotFound)
	}
	return rec, nil
}

// Count implements Ledger.
func (l *InMemoryLedger) Count(ctx context.Context) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
