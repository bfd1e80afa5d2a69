package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// originLimiter throttles the free-tier self-service key endpoint per
// request origin, generalized from the teacher's per-user sliding-window
// limiter (map[key][]time.Time + background eviction goroutine) to a
// map of per-origin token buckets.
type originLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// newOriginLimiter builds a limiter allowing burst requests immediately and
// refilling at r events/sec thereafter, and starts its eviction goroutine.
func newOriginLimiter(r rate.Limit, burst int) *originLimiter {
	l := &originLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		burst:    burst,
	}
	l.startEviction()
	return l
}

// allow reports whether origin may make a request right now.
func (l *originLimiter) allow(origin string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[origin]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[origin] = lim
	}
	return lim.Allow()
}

// startEviction periodically drops limiters that are back at full burst,
// preventing unbounded growth from a stream of one-off origins.
func (l *originLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			l.mu.Lock()
			for origin, lim := range l.limiters {
				if lim.Tokens() >= float64(l.burst) {
					delete(l.limiters, origin)
				}
			}
			l.mu.Unlock()
		}
	}()
}
