// Package retry decides whether a failed stage is attempted again and how
// long to wait first.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/internal/httpclient"
)

// Class is the retry classification of an error
type Class int

const (
	// NonRetryable errors fail the item immediately
	NonRetryable Class = iota
	// Retryable errors are attempted again after a backoff
	Retryable
	// Aborted means the run is shutting down; the item keeps its committed stage
	Aborted
)

func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Aborted:
		return "aborted"
	default:
		return "non-retryable"
	}
}

// Classify maps an error to its retry class. Network failures, HTTP 429 and
// HTTP 5xx are retryable; cancellation aborts; everything else, including
// schema and auth errors and unclassified errors, is not retried.
// Retryable marks win over context errors: a client timeout also reports
// context.DeadlineExceeded but is a network failure, not a shutdown.
func Classify(err error) Class {
	switch {
	case err == nil:
		return NonRetryable
	case errors.IsAny(err, errors.ErrTransientNetwork, errors.ErrServiceUnavailable, errors.ErrRateLimited):
		return Retryable
	case errors.IsAny(err, context.Canceled, context.DeadlineExceeded):
		return Aborted
	default:
		return NonRetryable
	}
}

// Policy bounds attempts per item per stage and shapes the backoff between them
type Policy struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultPolicy returns a policy with maxAttempts attempts per stage
func DefaultPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:         maxAttempts,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.5,
	}
}

func (p Policy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delay returns the jittered backoff before attempt+1, given attempt (1-based)
// attempts have already failed.
func (p Policy) Delay(attempt int) time.Duration {
	b := p.exponential()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Decision is what to do after a failed attempt
type Decision struct {
	Class Class
	Retry bool
	Delay time.Duration
	// Exhausted is set when a retryable error ran out of attempts
	Exhausted bool
}

// Decide classifies err after attempt (1-based) failed. A server-sent
// Retry-After longer than the computed backoff is honoured up to MaxInterval.
func (p Policy) Decide(err error, attempt int) Decision {
	class := Classify(err)
	if class != Retryable {
		return Decision{Class: class}
	}
	if attempt >= p.MaxAttempts {
		return Decision{Class: class, Exhausted: true}
	}

	delay := p.Delay(attempt)
	if ra, ok := httpclient.RetryAfter(err); ok {
		if ra > p.MaxInterval {
			ra = p.MaxInterval
		}
		if ra > delay {
			delay = ra
		}
	}
	return Decision{Class: class, Retry: true, Delay: delay}
}

// Do runs op until it succeeds, fails non-retryably, exhausts MaxAttempts or
// ctx is done. Used for one-off calls outside the item pipeline (login, probes).
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify func(err error, next time.Duration)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.exponential(), uint64(attempts-1)), ctx)
	err := backoff.RetryNotify(func() error {
		err := op(ctx)
		if err != nil && Classify(err) != Retryable {
			return backoff.Permanent(err)
		}
		return err
	}, b, notify)

	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return errors.WithSecondaryError(ctx.Err(), err)
	}
	return err
}
