// Package ratelimit gates registrar calls behind a shared token bucket.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/mintdoi/errors"
)

// Clock is the time source; replaced in tests
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Limiter is a token bucket whose capacity and refill rate both equal the
// configured requests per second. One Limiter is shared by every worker in a run.
type Limiter struct {
	bucket *rate.Limiter
	clock  Clock

	mu       sync.Mutex
	acquired int64
	waited   time.Duration
}

// Stats summarise limiter use over a run
type Stats struct {
	Acquired  int64         // tokens handed out
	TotalWait time.Duration // time callers spent blocked
}

// New creates a Limiter for rps requests per second
func New(rps float64) (*Limiter, error) {
	return NewWithClock(rps, realClock{})
}

// NewWithClock creates a Limiter with an injectable clock (for testing)
func NewWithClock(rps float64, clock Clock) (*Limiter, error) {
	if rps <= 0 || math.IsInf(rps, 0) || math.IsNaN(rps) {
		return nil, errors.NewConfigError("requests per second must be a positive number, got %v", rps)
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(rps), Capacity(rps)),
		clock:  clock,
	}, nil
}

// Capacity is the bucket size used for a given rate: rps rounded up, at least 1
func Capacity(rps float64) int {
	return int(math.Max(1, math.Ceil(rps)))
}

// Acquire blocks until a token is available or ctx is done. On cancellation
// the reservation is returned to the bucket and ctx's error is returned.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := l.clock.Now()
	r := l.bucket.ReserveN(now, 1)
	if !r.OK() {
		return errors.AssertionFailedf("token bucket cannot satisfy a single token")
	}

	delay := r.DelayFrom(now)
	if delay > 0 {
		select {
		case <-l.clock.After(delay):
		case <-ctx.Done():
			r.CancelAt(l.clock.Now())
			return ctx.Err()
		}
	}

	l.mu.Lock()
	l.acquired++
	l.waited += delay
	l.mu.Unlock()
	return nil
}

// Tokens reports the tokens currently available
func (l *Limiter) Tokens() float64 {
	return l.bucket.TokensAt(l.clock.Now())
}

// Stats returns usage so far
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Acquired: l.acquired, TotalWait: l.waited}
}
