// Package queue holds submitted match results until a worker applies them.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/tatami/internal/domain/model"
	"github.com/okian/tatami/pkg/metrics"
)

const defaultQueueCapacity = 10_000

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a result to the queue. Returns ErrFull when at capacity
	// and ErrClosed after Close.
	Enqueue(ctx context.Context, e model.ResultEvent) error

	// Dequeue returns a channel that receives results as they become
	// available. The channel is closed when the queue is closed and drained,
	// or when ctx is done.
	Dequeue(ctx context.Context) <-chan model.ResultEvent

	// Len returns the current number of queued results.
	Len(ctx context.Context) int

	// Close stops accepting results. Already queued results are still
	// delivered.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan model.ResultEvent
	capacity int
	now      func() time.Time

	mu     sync.RWMutex
	closed bool

	// abort releases forwarders still holding a result nobody will read.
	abort     chan struct{}
	abortOnce sync.Once
	dropped   atomic.Int64
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		now:      time.Now,
		abort:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	q.events = make(chan model.ResultEvent, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e model.ResultEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return fmt.Errorf("enqueue %s: %w", e.SubmissionID, err)
	}
	if e.TS.IsZero() {
		e.TS = q.now()
	}

	select {
	case q.events <- e:
		metrics.RecordQueueEnqueue()
		q.observe()
		return nil
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue implements Queue. After Abort, a result taken off the queue but
// not yet handed to a reader is dropped and counted in Dropped.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan model.ResultEvent {
	out := make(chan model.ResultEvent)
	go func() {
		defer close(out)
		for {
			select {
			case e, ok := <-q.events:
				if !ok {
					return
				}
				select {
				case out <- e:
					metrics.RecordQueueDequeue()
					metrics.RecordQueueProcessingLatency(float64(q.now().Sub(e.TS).Milliseconds()))
					q.observe()
				case <-ctx.Done():
					q.drop()
					return
				case <-q.abort:
					q.drop()
					return
				}
			case <-ctx.Done():
				return
			case <-q.abort:
				return
			}
		}
	}()
	return out
}

func (q *InMemoryQueue) drop() {
	q.dropped.Add(1)
	metrics.RecordErrorByComponent("queue", "dropped")
}

// Abort stops every Dequeue forwarder. Results still buffered stay in the
// queue and are reported by Len; a result a forwarder was holding is lost.
func (q *InMemoryQueue) Abort() {
	q.abortOnce.Do(func() { close(q.abort) })
}

// Dropped reports how many dequeued results were lost to Abort or to a
// reader's context ending.
func (q *InMemoryQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Len implements Queue.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	return q.observe()
}

func (q *InMemoryQueue) observe() int {
	size := len(q.events)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}

// Close implements Queue. Closing twice is a no-op.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	close(q.events)
	q.closed = true

	return nil
}

// IsClosed implements Queue.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
