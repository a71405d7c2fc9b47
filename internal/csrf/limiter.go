package csrf

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per session. Buckets for idle
// sessions are evicted least-recently-used first.
type Limiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewLimiter creates a limiter tracking at most size sessions.
func NewLimiter(perSecond float64, burst, size int) (*Limiter, error) {
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}
	return &Limiter{
		limiters: cache,
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}, nil
}

// Allow reports whether key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(key, limiter)
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// Len returns the number of sessions currently tracked.
func (l *Limiter) Len() int {
	return l.limiters.Len()
}
