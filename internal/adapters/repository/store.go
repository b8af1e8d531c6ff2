// Package repository holds the in-memory stores the match service relies on:
// the athlete directory, the match store and the settlement ledger.
package repository

import (
	"context"

	"github.com/okian/tatami/internal/domain/model"
	"github.com/okian/tatami/internal/domain/rating"
)

// Entry represents a leaderboard row.
type Entry struct {
	Rank      int
	AthleteID string
	Name      string
	Rating    int
}

// RatingUpdate moves one athlete from Before to After. Before must match the
// stored rating or the whole batch is rejected with ErrConflict.
type RatingUpdate struct {
	AthleteID string
	Before    int
	After     int
}

// AthleteStore is the athlete directory, ordered by rating.
type AthleteStore interface {
	// Create adds a new athlete. Returns ErrExists if the id is taken.
	Create(ctx context.Context, a model.Athlete) error

	// Get returns the athlete or ErrNotFound.
	Get(ctx context.Context, id string) (model.Athlete, error)

	// SetRatings applies all updates atomically or none of them.
	SetRatings(ctx context.Context, updates ...RatingUpdate) error

	// Rank returns the athlete's current rank. Equal ratings share a rank.
	Rank(ctx context.Context, id string) (Entry, error)

	// TopN returns the top-N athletes ordered by rating desc, id asc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Count returns the number of athletes in the directory.
	Count(ctx context.Context) int
}

// Transition describes a guarded status change.
type Transition struct {
	MatchID string
	From    model.MatchStatus
	To      model.MatchStatus
	Outcome *rating.Outcome // recorded when moving to completed
}

// MatchStore persists matches and guards their status transitions.
type MatchStore interface {
	// Create stores a new match. Returns ErrExists if the id is taken.
	Create(ctx context.Context, m model.Match) error

	// Get returns the match or ErrNotFound.
	Get(ctx context.Context, id string) (model.Match, error)

	// Transition moves the match from t.From to t.To. Returns ErrConflict if
	// the match is no longer in t.From and ErrIllegalTransition if the step
	// is not allowed by the lifecycle.
	Transition(ctx context.Context, t Transition) (model.Match, error)
}

// Ledger is the append-only settlement history, unique per match id.
type Ledger interface {
	// Record stores rec. Returns ErrAlreadySettled if the match already has
	// a settlement record.
	Record(ctx context.Context, rec model.SettlementRecord) error

	// Get returns the settlement for a match or ErrNotFound.
	Get(ctx context.Context, matchID string) (model.SettlementRecord, error)

	// Count returns the number of settled matches.
	Count(ctx context.Context) int
}
