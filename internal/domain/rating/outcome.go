package rating

import "fmt"

// Side identifies one of the two competitors in a match.
type Side string

// The two sides of a match.
const (
	SideA Side = "a"
	SideB Side = "b"
)

// Valid reports whether s names one of the two competitors.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// Opponent returns the other side. It is only meaningful for valid sides.
func (s Side) Opponent() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// OutcomeKind distinguishes a decisive result from a draw.
type OutcomeKind string

// Outcome kinds. There is no loss kind: a loss is the other side's win.
const (
	KindWin  OutcomeKind = "win"
	KindDraw OutcomeKind = "draw"
)

// Outcome is the declared result of a concluded match.
type Outcome struct {
	Kind   OutcomeKind
	Winner Side // set only for KindWin
}

// Win returns a decisive outcome for the given side.
func Win(side Side) Outcome {
	return Outcome{Kind: KindWin, Winner: side}
}

// Draw returns a drawn outcome.
func Draw() Outcome {
	return Outcome{Kind: KindDraw}
}

// Validate checks that the outcome references only the two competitors.
func (o Outcome) Validate() error {
	switch o.Kind {
	case KindWin:
		if !o.Winner.Valid() {
			return fmt.Errorf("%w: unknown winner side %q", ErrInvalidOutcome, o.Winner)
		}
	case KindDraw:
		if o.Winner != "" {
			return fmt.Errorf("%w: draw must not name a winner", ErrInvalidOutcome)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOutcome, o.Kind)
	}
	return nil
}

// actualScores returns the observed score for side A and side B.
func (o Outcome) actualScores() (float64, float64) {
	if o.Kind == KindDraw {
		return 0.5, 0.5
	}
	if o.Winner == SideA {
		return 1, 0
	}
	return 0, 1
}

func (o Outcome) String() string {
	if o.Kind == KindWin {
		return "win(" + string(o.Winner) + ")"
	}
	return string(o.Kind)
}
