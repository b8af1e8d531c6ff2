package metrics

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

const nanosecondsPerMillisecond = 1e6

// SampleSystem reads runtime memory, goroutine and GC statistics once.
func SampleSystem() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	UpdateSystemMemoryUsage(m.Alloc)
	UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		RecordSystemGCPauseTime(avgPauseMs)
	}
}

// RunSystemSampler samples system metrics every interval until ctx is done.
// A non-positive interval falls back to the manager's refresh interval.
func RunSystemSampler(ctx context.Context, interval time.Duration) error {
	if !Enabled() {
		return nil
	}
	if interval <= 0 {
		interval = RefreshInterval()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrSystemSampler, ctx.Err())
		case <-ticker.C:
			SampleSystem()
		}
	}
}
