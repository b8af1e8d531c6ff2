package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/tatami/internal/domain/model"
	"github.com/okian/tatami/internal/domain/rating"
)

func result(id string) model.ResultEvent {
	return model.ResultEvent{SubmissionID: id, MatchID: "m-" + id, Outcome: rating.Win(rating.SideA)}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	stamp := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	q := NewInMemoryQueue(WithCapacity(2), WithClock(func() time.Time { return stamp }))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if err := q.Enqueue(ctx, result("s1")); err != nil {
		t.Fatalf("expected enqueue to succeed, got %v", err)
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e := <-q.Dequeue(cctx)
	if e.SubmissionID != "s1" || e.MatchID != "m-s1" {
		t.Errorf("unexpected event %+v", e)
	}
	if !e.TS.Equal(stamp) {
		t.Errorf("expected enqueue to stamp TS, got %v", e.TS)
	}
	if e.Outcome != rating.Win(rating.SideA) {
		t.Errorf("outcome lost in transit: %v", e.Outcome)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		if err := q.Enqueue(ctx, result(id)); err != nil {
			t.Fatalf("expected enqueue to succeed, got %v", err)
		}
	}

	if err := q.Enqueue(ctx, result("s3")); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.Enqueue(ctx, result("s1")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const producers, perProducer = 10, 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				for errors.Is(q.Enqueue(ctx, result(fmt.Sprintf("s%d_%d", id, j))), ErrFull) {
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}

	seen := make(map[string]bool)
	var mu sync.Mutex
	var consumers sync.WaitGroup
	for i := 0; i < 4; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for e := range q.Dequeue(ctx) {
				mu.Lock()
				seen[e.SubmissionID] = true
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	_ = q.Close()
	consumers.Wait()

	if len(seen) != producers*perProducer {
		t.Errorf("expected %d delivered results, got %d", producers*perProducer, len(seen))
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	_ = q.Enqueue(ctx, result("s1"))
	_ = q.Enqueue(ctx, result("s2"))

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if err := q.Enqueue(ctx, result("s3")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Results queued before Close are still delivered, then the channel closes.
	var got []string
	timeout := time.After(time.Second)
	ch := q.Dequeue(ctx)
	for done := false; !done; {
		select {
		case e, ok := <-ch:
			if !ok {
				done = true
				break
			}
			got = append(got, e.SubmissionID)
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
	if len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Errorf("expected s1, s2 drained in order, got %v", got)
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}

func TestInMemoryQueue_AbortReleasesForwarder(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	_ = q.Enqueue(ctx, result("s1"))
	_ = q.Enqueue(ctx, result("s2"))

	// Nobody reads out, so the forwarder ends up holding s1.
	out := q.Dequeue(ctx)
	deadline := time.Now().Add(time.Second)
	for q.Len(ctx) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("forwarder never took a result")
		}
		time.Sleep(time.Millisecond)
	}

	q.Abort()
	q.Abort()

	deadline = time.Now().Add(time.Second)
	for q.Dropped() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected the held result to be dropped, got %d", q.Dropped())
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected no delivery after abort")
		}
	case <-time.After(time.Second):
		t.Fatal("expected dequeue channel to close after abort")
	}

	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected s2 to stay queued, got length %d", l)
	}
}
