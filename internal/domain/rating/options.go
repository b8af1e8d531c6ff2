package rating

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithKFactor sets the maximum rating change per match.
// Non-positive values are kept so that every call reports ErrInvalidInput.
func WithKFactor(k int) Option {
	return func(e *Engine) {
		e.kFactor = k
	}
}

// WithWeightClassWidth sets the width of one weight class, in whatever unit
// the caller records weights in.
func WithWeightClassWidth(width float64) Option {
	return func(e *Engine) {
		e.classWidth = width
	}
}
