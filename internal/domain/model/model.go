// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/okian/tatami/internal/domain/rating"
)

// Athlete is a competitor in the directory.
type Athlete struct {
	ID     string
	Name   string
	Rating int
	Weight float64 // 0 when the athlete never recorded a weight
}

// MatchType decides whether a completed match moves ratings.
type MatchType string

// Match types.
const (
	MatchRanked MatchType = "ranked"
	MatchCasual MatchType = "casual"
)

// Valid reports whether t is a known match type.
func (t MatchType) Valid() bool {
	return t == MatchRanked || t == MatchCasual
}

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

// Match statuses.
//
//	pending -> in_progress -> completed
//	pending | in_progress -> cancelled
const (
	StatusPending    MatchStatus = "pending"
	StatusInProgress MatchStatus = "in_progress"
	StatusCompleted  MatchStatus = "completed"
	StatusCancelled  MatchStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s MatchStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is a legal step.
func (s MatchStatus) CanTransition(next MatchStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusCancelled
	case StatusInProgress:
		return next == StatusCompleted || next == StatusCancelled
	default:
		return false
	}
}

// Match pairs two athletes. AthleteA is side A in every rating computation.
type Match struct {
	ID        string
	AthleteA  string
	AthleteB  string
	Type      MatchType
	Status    MatchStatus
	Outcome   *rating.Outcome // set once completed
	Version   int64           // bumped on every status change
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AthleteFor returns the athlete id playing the given side.
func (m Match) AthleteFor(side rating.Side) string {
	if side == rating.SideB {
		return m.AthleteB
	}
	return m.AthleteA
}

// ResultEvent is a submitted match result waiting to be applied.
type ResultEvent struct {
	SubmissionID string // idempotency key chosen by the submitter
	MatchID      string
	Outcome      rating.Outcome
	TS           time.Time
}

// SettlementRecord is the immutable history entry for one settled match.
type SettlementRecord struct {
	MatchID   string
	AthleteA  string
	AthleteB  string
	Outcome   rating.Outcome
	KFactor   int
	Result    rating.SettlementResult
	SettledAt time.Time
}
