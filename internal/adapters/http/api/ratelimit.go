package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/tatami/pkg/metrics"
)

const (
	limiterCleanupThreshold = 500
	limiterMaxIdle          = 10 * time.Minute
)

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu    sync.Mutex
	ips   map[string]*ipEntry
	rate  rate.Limit
	burst int
	now   func() time.Time
}

// NewIPRateLimiter returns a limiter allowing r events per second with the
// given burst for every distinct IP.
func NewIPRateLimiter(r rate.Limit, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		ips:   make(map[string]*ipEntry),
		rate:  r,
		burst: burst,
		now:   time.Now,
	}
}

// GetLimiter returns the bucket for ip, creating it on first use.
func (l *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.ips[ip]; ok {
		e.lastSeen = now
		return e.limiter
	}
	if len(l.ips) >= limiterCleanupThreshold {
		l.evictIdle(now)
	}
	e := &ipEntry{limiter: rate.NewLimiter(l.rate, l.burst), lastSeen: now}
	l.ips[ip] = e
	return e.limiter
}

// Len reports how many IPs currently hold a bucket.
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ips)
}

// evictIdle drops buckets not touched within limiterMaxIdle. Caller holds mu.
func (l *IPRateLimiter) evictIdle(now time.Time) {
	for ip, e := range l.ips {
		if now.Sub(e.lastSeen) > limiterMaxIdle {
			delete(l.ips, ip)
		}
	}
}

// RateLimitMiddleware rejects requests over the per-IP budget with 429.
func RateLimitMiddleware(l *IPRateLimiter, endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.GetLimiter(clientIP(r)).Allow() {
			metrics.RecordHTTPRateLimited(endpoint)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", ErrRateLimited)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
