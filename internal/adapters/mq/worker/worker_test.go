package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	worker "github.com/okian/tatami/internal/adapters/mq/worker"
	"github.com/okian/tatami/internal/domain/model"
	"github.com/okian/tatami/internal/domain/rating"
	logging "github.com/okian/tatami/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	results chan model.ResultEvent
	once    sync.Once
	aborted atomic.Bool
}

func newMockQueue(size int) *mockQueue {
	return &mockQueue{results: make(chan model.ResultEvent, size)}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan model.ResultEvent {
	return mq.results
}

func (mq *mockQueue) Close() error {
	mq.once.Do(func() { close(mq.results) })
	return nil
}

func (mq *mockQueue) Abort() {
	mq.aborted.Store(true)
}

func (mq *mockQueue) Len(context.Context) int {
	return len(mq.results)
}

func (mq *mockQueue) add(matchID string, outcome rating.Outcome) {
	mq.results <- model.ResultEvent{SubmissionID: "sub-" + matchID, MatchID: matchID, Outcome: outcome}
}

type mockCompleter struct {
	mu       sync.Mutex
	applied  map[string]rating.Outcome
	failures map[string]error
	delay    time.Duration
}

func newMockCompleter() *mockCompleter {
	return &mockCompleter{
		applied:  make(map[string]rating.Outcome),
		failures: make(map[string]error),
	}
}

func (mc *mockCompleter) Complete(ctx context.Context, matchID string, outcome rating.Outcome) error {
	if mc.delay > 0 {
		time.Sleep(mc.delay)
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err, ok := mc.failures[matchID]; ok {
		return err
	}
	mc.applied[matchID] = outcome
	return nil
}

func (mc *mockCompleter) fail(matchID string, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.failures[matchID] = err
}

func (mc *mockCompleter) get(matchID string) (rating.Outcome, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	o, ok := mc.applied[matchID]
	return o, ok
}

func (mc *mockCompleter) count() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.applied)
}

// hookRecorder collects hook invocations so tests can wait on them.
type hookRecorder struct {
	mu   sync.Mutex
	errs map[string]error
	seen chan struct{}
}

func newHookRecorder(n int) *hookRecorder {
	return &hookRecorder{errs: make(map[string]error), seen: make(chan struct{}, n)}
}

func (h *hookRecorder) hook(ctx context.Context, e model.ResultEvent, err error) {
	h.mu.Lock()
	h.errs[e.MatchID] = err
	h.mu.Unlock()
	h.seen <- struct{}{}
}

func (h *hookRecorder) wait(n int) bool {
	timeout := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-h.seen:
		case <-timeout:
			return false
		}
	}
	return true
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker over a result queue", t, func() {
		_ = logging.Init()

		q := newMockQueue(10)
		completer := newMockCompleter()
		rec := newHookRecorder(10)
		w := worker.NewInMemoryWorker(q, completer, worker.WithName("test-worker"), worker.WithResultHook(rec.hook))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When a result arrives", func() {
			q.add("m1", rating.Win(rating.SideB))
			convey.So(rec.wait(1), convey.ShouldBeTrue)

			convey.Convey("Then the completer receives the outcome", func() {
				o, ok := completer.get("m1")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(o, convey.ShouldResemble, rating.Win(rating.SideB))
				convey.So(rec.errs["m1"], convey.ShouldBeNil)
			})
		})

		convey.Convey("When the completer refuses a result", func() {
			refusal := errors.New("already settled")
			completer.fail("m2", refusal)
			q.add("m2", rating.Draw())
			q.add("m3", rating.Draw())
			convey.So(rec.wait(2), convey.ShouldBeTrue)

			convey.Convey("Then the error reaches the hook and the worker keeps going", func() {
				convey.So(errors.Is(rec.errs["m2"], refusal), convey.ShouldBeTrue)
				_, ok := completer.get("m3")
				convey.So(ok, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When shutting down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()

			err := w.Shutdown(shutdownCtx)

			convey.Convey("Then it stops gracefully and a second call is harmless", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the context is cancelled", func() {
			cancel()

			convey.Convey("Then Run returns", func() {
				select {
				case <-w.Done():
					convey.So(true, convey.ShouldBeTrue)
				case <-time.After(time.Second):
					convey.So("worker still running", convey.ShouldBeEmpty)
				}
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool", t, func() {
		_ = logging.Init()

		convey.Convey("When created with a non-positive count", func() {
			pool := worker.NewPool(0, newMockQueue(1), newMockCompleter())

			convey.Convey("Then it falls back to at least one worker", func() {
				convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When draining many results", func() {
			const n = 200
			q := newMockQueue(n)
			completer := newMockCompleter()
			rec := newHookRecorder(n)
			pool := worker.NewPool(4, q, completer, worker.WithResultHook(rec.hook))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			for i := 0; i < n; i++ {
				q.add(fmt.Sprintf("m%d", i), rating.Win(rating.SideA))
			}
			convey.So(rec.wait(n), convey.ShouldBeTrue)

			convey.Convey("Then every result is applied exactly once", func() {
				convey.So(completer.count(), convey.ShouldEqual, n)
				convey.So(pool.Processed(), convey.ShouldEqual, n)
			})
		})

		convey.Convey("When shutting down with results still queued", func() {
			q := newMockQueue(20)
			completer := newMockCompleter()
			completer.delay = time.Millisecond
			pool := worker.NewPool(2, q, completer)

			for i := 0; i < 20; i++ {
				q.add(fmt.Sprintf("m%d", i), rating.Draw())
			}
			pool.Start(context.Background())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then the queue is drained before the workers exit", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(completer.count(), convey.ShouldEqual, 20)
				convey.So(pool.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the shutdown deadline passes", func() {
			q := newMockQueue(5)
			completer := newMockCompleter()
			completer.delay = 200 * time.Millisecond
			pool := worker.NewPool(1, q, completer)

			for i := 0; i < 5; i++ {
				q.add(fmt.Sprintf("m%d", i), rating.Draw())
			}
			pool.Start(context.Background())
			time.Sleep(10 * time.Millisecond)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then it reports the timeout", func() {
				convey.So(errors.Is(err, worker.ErrShutdownTimeout), convey.ShouldBeTrue)
			})

			convey.Convey("And it aborts the queue so blocked forwarders exit", func() {
				convey.So(q.aborted.Load(), convey.ShouldBeTrue)
			})
		})
	})
}
