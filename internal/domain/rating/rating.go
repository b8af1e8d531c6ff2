// Package rating computes ELO stakes before a ranked match and the
// authoritative rating settlement once its result is known.
//
// Everything here is pure: no I/O, no clock, no shared mutable state.
package rating

import (
	"fmt"
	"math"
)

// Default engine configuration constants.
const (
	DefaultKFactor          = 32
	DefaultWeightClassWidth = 10.0
	StartingRating          = 1000

	// MaxRating and MaxKFactor bound the inputs so that rating arithmetic
	// stays exact in a 32-bit int.
	MaxRating  = 1 << 30
	MaxKFactor = 1 << 16

	// logisticScale is the rating gap at which the stronger side is
	// expected to score ten times as often.
	logisticScale = 400.0
)

// StakesSide is what one competitor stands to gain or lose.
type StakesSide struct {
	WinDelta      int     `json:"win_delta"`
	DrawDelta     int     `json:"draw_delta"`
	LossDelta     int     `json:"loss_delta"`
	ExpectedScore float64 `json:"expected_score"`
}

// StakesPreview is the non-committing view of a prospective match.
type StakesPreview struct {
	A              StakesSide `json:"a"`
	B              StakesSide `json:"b"`
	WeightClassGap int        `json:"weight_class_gap"`
}

// SettlementSide is the applied rating change for one competitor.
type SettlementSide struct {
	RatingBefore int `json:"rating_before"`
	RatingAfter  int `json:"rating_after"`
	Delta        int `json:"delta"`
}

// SettlementResult is the outcome of settling one concluded match.
type SettlementResult struct {
	A SettlementSide `json:"a"`
	B SettlementSide `json:"b"`
}

// Side returns the settlement for the given side.
func (r SettlementResult) Side(s Side) SettlementSide {
	if s == SideB {
		return r.B
	}
	return r.A
}

// Engine computes stakes and settlements. The zero value is not usable;
// build one with NewEngine. An Engine is safe for concurrent use.
type Engine struct {
	kFactor    int
	classWidth float64
}

// NewEngine creates an engine with the default K-factor and class width.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		kFactor:    DefaultKFactor,
		classWidth: DefaultWeightClassWidth,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// KFactor returns the configured K-factor.
func (e *Engine) KFactor() int { return e.kFactor }

// ExpectedScore is the logistic probability that self beats opponent.
// ExpectedScore(a, b) + ExpectedScore(b, a) == 1 up to float rounding.
func ExpectedScore(self, opponent int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opponent-self)/logisticScale))
}

// PreviewStakes reports the win, draw and loss deltas for both sides without
// changing anything. A weight of 0 means the weight is unknown.
func (e *Engine) PreviewStakes(ratingA, ratingB int, weightA, weightB float64) (StakesPreview, error) {
	if err := e.validate(ratingA, ratingB); err != nil {
		return StakesPreview{}, err
	}
	if err := validateWeight("a", weightA); err != nil {
		return StakesPreview{}, err
	}
	if err := validateWeight("b", weightB); err != nil {
		return StakesPreview{}, err
	}
	if !(e.classWidth > 0) || math.IsInf(e.classWidth, 0) {
		return StakesPreview{}, fmt.Errorf("%w: weight class width %v must be positive", ErrInvalidInput, e.classWidth)
	}

	gap, err := WeightClassGap(weightA, weightB, e.classWidth)
	if err != nil {
		return StakesPreview{}, err
	}

	expA := ExpectedScore(ratingA, ratingB)
	expB := ExpectedScore(ratingB, ratingA)

	return StakesPreview{
		A:              e.stakesFor(expA),
		B:              e.stakesFor(expB),
		WeightClassGap: gap,
	}, nil
}

// Settle applies the declared outcome to the pre-match ratings. Both deltas
// come from the same snapshot, and ratings never drop below zero; when the
// floor bites, Delta reports the change actually applied.
func (e *Engine) Settle(ratingA, ratingB int, outcome Outcome) (SettlementResult, error) {
	if err := e.validate(ratingA, ratingB); err != nil {
		return SettlementResult{}, err
	}
	if err := outcome.Validate(); err != nil {
		return SettlementResult{}, err
	}

	actualA, actualB := outcome.actualScores()
	deltaA := e.delta(actualA, ExpectedScore(ratingA, ratingB))
	deltaB := e.delta(actualB, ExpectedScore(ratingB, ratingA))

	return SettlementResult{
		A: apply(ratingA, deltaA),
		B: apply(ratingB, deltaB),
	}, nil
}

// WeightClassGap is the absolute distance between the classes of two
// weights. It is 0 when either weight is unknown, and ErrInvalidInput when
// the classes are too far apart to count.
func WeightClassGap(weightA, weightB, classWidth float64) (int, error) {
	if weightA <= 0 || weightB <= 0 || classWidth <= 0 {
		return 0, nil
	}
	gap := math.Abs(math.Floor(weightA/classWidth) - math.Floor(weightB/classWidth))
	if !(gap <= math.MaxInt32) {
		return 0, fmt.Errorf("%w: weights %v and %v are %v classes apart", ErrInvalidInput, weightA, weightB, gap)
	}
	return int(gap), nil
}

func (e *Engine) stakesFor(expected float64) StakesSide {
	return StakesSide{
		WinDelta:      e.delta(1, expected),
		DrawDelta:     e.delta(0.5, expected),
		LossDelta:     e.delta(0, expected),
		ExpectedScore: expected,
	}
}

// delta rounds half away from zero so that equal magnitudes round the same
// way on either side of zero.
func (e *Engine) delta(actual, expected float64) int {
	return int(math.Round(float64(e.kFactor) * (actual - expected)))
}

func (e *Engine) validate(ratingA, ratingB int) error {
	if ratingA < 0 {
		return fmt.Errorf("%w: rating a %d is negative", ErrInvalidInput, ratingA)
	}
	if ratingB < 0 {
		return fmt.Errorf("%w: rating b %d is negative", ErrInvalidInput, ratingB)
	}
	if ratingA > MaxRating || ratingB > MaxRating {
		return fmt.Errorf("%w: ratings %d and %d must not exceed %d", ErrInvalidInput, ratingA, ratingB, MaxRating)
	}
	if e.kFactor <= 0 || e.kFactor > MaxKFactor {
		return fmt.Errorf("%w: k-factor %d must be in 1..%d", ErrInvalidInput, e.kFactor, MaxKFactor)
	}
	return nil
}

func validateWeight(side string, w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return fmt.Errorf("%w: weight %s %v must be positive or absent", ErrInvalidInput, side, w)
	}
	return nil
}

func apply(before, delta int) SettlementSide {
	after := before + delta
	if after < 0 {
		after = 0
	}
	return SettlementSide{
		RatingBefore: before,
		RatingAfter:  after,
		Delta:        after - before,
	}
}
