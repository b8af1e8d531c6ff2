package api

import (
	"golang.org/x/time/rate"

	"github.com/okian/tatami/pkg/logger"
)

const (
	defaultMaxLeaderboardLimit = 100
	defaultPreviewRate         = rate.Limit(20)
	defaultPreviewBurst        = 40
)

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithMaxLeaderboardLimit caps GET /leaderboard?limit.
func WithMaxLeaderboardLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithPreviewRateLimit limits POST /stakes per client IP.
func WithPreviewRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 && burst > 0 {
			s.previewLimit = NewIPRateLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithLogger sets a custom logger for the HTTP layer.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
