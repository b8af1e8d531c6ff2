// Package worker drains submitted match results and applies them.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/tatami/internal/domain/model"
	"github.com/okian/tatami/internal/domain/rating"
	"github.com/okian/tatami/pkg/logger"
	"github.com/okian/tatami/pkg/metrics"
)

const metricsUpdateInterval = 5 * time.Second

// Completer applies a match outcome. Implementations settle ranked matches
// at most once.
type Completer interface {
	Complete(ctx context.Context, matchID string, outcome rating.Outcome) error
}

// Queue defines how workers receive results.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.ResultEvent
}

// ResultHook observes every processed result. err is nil on success.
type ResultHook func(ctx context.Context, e model.ResultEvent, err error)

// Worker processes results off a queue.
type Worker interface {
	// Run processes results until the queue is drained and closed, ctx is
	// canceled, or Shutdown is called.
	Run(ctx context.Context)

	// Shutdown stops the worker and waits for the in-flight result.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	completer Completer
	name      string
	hook      ResultHook
	processed *atomic.Int64

	shutdown chan struct{}
	stopOnce atomic.Bool
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker.
func NewInMemoryWorker(queue Queue, completer Completer, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     queue,
		completer: completer,
		name:      "worker",
		processed: new(atomic.Int64),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = logger.Get().Named("worker")
	}
	if w.name != "worker" {
		w.logger = w.logger.With(logger.String("worker", w.name))
	}

	return w
}

// Run implements Worker.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	results := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-results:
			if !ok {
				return
			}
			w.process(ctx, e)
		}
	}
}

// Shutdown implements Worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	if w.stopOnce.CompareAndSwap(false, true) {
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}
}

// Done is closed once Run has returned.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

func (w *InMemoryWorker) process(ctx context.Context, e model.ResultEvent) {
	start := time.Now()
	err := w.completer.Complete(ctx, e.MatchID, e.Outcome)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	w.processed.Add(1)

	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "complete_failed")
		w.logger.Warn(ctx, "result not applied",
			logger.String("submission_id", e.SubmissionID),
			logger.String("match_id", e.MatchID),
			logger.String("outcome", e.Outcome.String()),
			logger.Error(err),
		)
	} else {
		w.logger.Debug(ctx, "result applied",
			logger.String("submission_id", e.SubmissionID),
			logger.String("match_id", e.MatchID),
		)
	}

	if w.hook != nil {
		w.hook(ctx, e, err)
	}
}

// Pool manages multiple workers reading the same queue.
type Pool struct {
	workers   []*InMemoryWorker
	queue     Queue
	processed atomic.Int64
	stopped   atomic.Bool
	shutdown  chan struct{}

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers. A non-positive count uses
// runtime.NumCPU(). Worker options apply to every worker.
func NewPool(workerCount int, queue Queue, completer Completer, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    queue,
		shutdown: make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(queue, completer, wopts...)
		pool.workers[i].processed = &pool.processed
	}

	scratch := &InMemoryWorker{}
	for _, opt := range opts {
		opt(scratch)
	}
	if scratch.logger == nil {
		scratch.logger = logger.Get()
	}
	pool.logger = scratch.logger.Named("worker-pool")

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)
	metrics.UpdateWorkerIdleCount(workerCount)
	metrics.UpdateWorkerMessagesPerSecond(0.0)

	return pool
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Processed returns how many results the pool has handled, successful or not.
func (p *Pool) Processed() int64 {
	return p.processed.Load()
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerActiveCount(len(p.workers))
	metrics.UpdateWorkerIdleCount(0)

	go p.runMetrics(ctx)
}

func (p *Pool) runMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	last := p.processed.Load()
	lastAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case now := <-ticker.C:
			cur := p.processed.Load()
			if secs := now.Sub(lastAt).Seconds(); secs > 0 {
				metrics.UpdateWorkerMessagesPerSecond(float64(cur-last) / secs)
			}
			last, lastAt = cur, now
		}
	}
}

// Shutdown closes the queue, lets the workers drain what is left, and waits
// for them until ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(p.shutdown)

	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	defer func() {
		metrics.UpdateWorkerActiveCount(0)
		metrics.UpdateWorkerIdleCount(len(p.workers))
	}()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			for _, rest := range p.workers[i:] {
				if rest.stopOnce.CompareAndSwap(false, true) {
					close(rest.shutdown)
				}
			}
			if aborter, ok := p.queue.(interface {
				Abort()
				Len(context.Context) int
			}); ok {
				aborter.Abort()
				p.logger.Warn(ctx, "abandoned queued results", logger.Int("remaining", aborter.Len(ctx)))
			}
			return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
		}
	}

	p.logger.Info(ctx, "worker pool drained", logger.Int("processed", int(p.processed.Load())))
	return nil
}
