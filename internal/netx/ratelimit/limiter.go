package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy declares an outbound request budget for one source. Either
// RequestsPerSecond or RequestsPerMinute may be set; per-second wins when
// both are present. Zero means unlimited.
type Policy struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	RequestsPerMinute float64 `yaml:"requests_per_minute" json:"requests_per_minute"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// RPS resolves the policy to a requests-per-second rate.
func (p Policy) RPS() float64 {
	if p.RequestsPerSecond > 0 {
		return p.RequestsPerSecond
	}
	if p.RequestsPerMinute > 0 {
		return p.RequestsPerMinute / 60
	}
	return 0
}

// Limiter enforces a minimum interval between outbound requests using a
// token bucket. The guarantee is per-instance; clients are not shared
// across collectors, so neither are limiters.
type Limiter struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	lastAt  time.Time
}

// New builds a limiter from a policy. A zero-rate policy returns a
// pass-through limiter.
func New(p Policy) *Limiter {
	rps := p.RPS()
	if rps <= 0 {
		return &Limiter{}
	}
	burst := p.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the next request is allowed or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	l.lastAt = time.Now()
	l.mu.Unlock()
	return nil
}

// Allow reports whether a request may proceed immediately.
func (l *Limiter) Allow() bool {
	if l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}

// LastRequestAt returns the timestamp of the last granted request.
func (l *Limiter) LastRequestAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastAt
}

// Tokens exposes remaining burst capacity for status endpoints.
func (l *Limiter) Tokens() float64 {
	if l.limiter == nil {
		return 0
	}
	return l.limiter.Tokens()
}
