package service

import (
	"time"

	"github.com/okian/tatami/internal/adapters/mq/worker"
	"github.com/okian/tatami/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithKFactor sets the ELO K used for previews and settlement. Invalid values
// are kept so that the engine reports them.
func WithKFactor(k int) Option {
	return func(s *Service) {
		s.kFactor = k
	}
}

// WithWeightClassWidth sets the bucket size for the weight-class gap.
func WithWeightClassWidth(width float64) Option {
	return func(s *Service) {
		s.classWidth = width
	}
}

// WithStartingRating sets the rating newly registered athletes receive.
func WithStartingRating(r int) Option {
	return func(s *Service) {
		if r >= 0 {
			s.startingRating = r
		}
	}
}

// WithWorkerCount sets the number of result workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the result queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the submission deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used for settlement timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces uuid generation for ids the caller omits.
func WithIDGenerator(next func() string) Option {
	return func(s *Service) {
		if next != nil {
			s.newID = next
		}
	}
}

// WithResultObserver is called after each asynchronously submitted result
// has been processed.
func WithResultObserver(hook worker.ResultHook) Option {
	return func(s *Service) {
		s.observer = hook
	}
}
