package retry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/internal/httpclient"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"network", errors.Mark(errors.New("connection reset"), errors.ErrTransientNetwork), Retryable},
		{"429", errors.Mark(errors.New("HTTP 429"), errors.ErrRateLimited), Retryable},
		{"503", errors.Mark(errors.New("HTTP 503"), errors.ErrServiceUnavailable), Retryable},
		{"404", errors.Mark(errors.New("HTTP 404"), errors.ErrNotFound), NonRetryable},
		{"400", errors.Mark(errors.New("HTTP 400"), errors.ErrInvalidRequest), NonRetryable},
		{"401", errors.Mark(errors.New("HTTP 401"), errors.ErrAuth), NonRetryable},
		{"schema", errors.NewSchemaError("missing dc.title"), NonRetryable},
		{"unclassified", errors.New("boom"), NonRetryable},
		{"cancelled", errors.Wrap(context.Canceled, "mint"), Aborted},
		{"deadline", context.DeadlineExceeded, Aborted},
		{"client timeout", errors.Mark(errors.Wrap(timeoutError{}, "POST /dois"), errors.ErrTransientNetwork), Retryable},
		{"nil", nil, NonRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestDelayGrowsWithinJitterBounds(t *testing.T) {
	p := Policy{
		MaxAttempts:         5,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.5,
	}

	for attempt := 1; attempt <= 6; attempt++ {
		base := float64(p.InitialInterval)
		for i := 1; i < attempt; i++ {
			base *= p.Multiplier
		}
		if base > float64(p.MaxInterval) {
			base = float64(p.MaxInterval)
		}

		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, float64(d), base*0.5, "attempt %d", attempt)
			assert.LessOrEqual(t, float64(d), base*1.5, "attempt %d", attempt)
		}
	}
}

func TestDelayWithoutJitterIsExact(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialInterval: 10 * time.Millisecond, MaxInterval: time.Second, Multiplier: 3}
	assert.Equal(t, 10*time.Millisecond, p.Delay(1))
	assert.Equal(t, 30*time.Millisecond, p.Delay(2))
	assert.Equal(t, 90*time.Millisecond, p.Delay(3))
}

func TestDecide(t *testing.T) {
	p := DefaultPolicy(3)
	unavailable := errors.Mark(errors.New("HTTP 503"), errors.ErrServiceUnavailable)

	d := p.Decide(unavailable, 1)
	assert.True(t, d.Retry)
	assert.Greater(t, d.Delay, time.Duration(0))

	d = p.Decide(unavailable, 2)
	assert.True(t, d.Retry)

	d = p.Decide(unavailable, 3)
	assert.False(t, d.Retry)
	assert.True(t, d.Exhausted, "third failure with retry-count 3 exhausts the stage")

	d = p.Decide(errors.NewSchemaError("bad"), 1)
	assert.False(t, d.Retry)
	assert.False(t, d.Exhausted)
	assert.Equal(t, NonRetryable, d.Class)

	d = p.Decide(context.Canceled, 1)
	assert.Equal(t, Aborted, d.Class)
	assert.False(t, d.Retry)
}

func TestDecideHonoursRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "20")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	rateLimited := httpclient.CheckResponse(resp, "mint")

	p := Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 10 * time.Second, Multiplier: 2}
	d := p.Decide(rateLimited, 1)
	require.True(t, d.Retry)
	assert.Equal(t, 10*time.Second, d.Delay, "Retry-After is capped at MaxInterval")
}

func TestDo(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}

	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		notified := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.Mark(errors.New("reset"), errors.ErrTransientNetwork)
			}
			return nil
		}, func(error, time.Duration) { notified++ })
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, notified)
	})

	t.Run("stops on non-retryable", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return errors.Mark(errors.New("HTTP 401"), errors.ErrAuth)
		}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrAuth))
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return errors.Mark(errors.New("HTTP 502"), errors.ErrServiceUnavailable)
		}, nil)
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := p.Do(ctx, func(context.Context) error {
			calls++
			cancel()
			return errors.Mark(errors.New("HTTP 502"), errors.ErrServiceUnavailable)
		}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, 1, calls)
	})
}

// timeoutError reports itself as a deadline, like net/http client timeouts
type timeoutError struct{}

func (timeoutError) Error() string        { return "Client.Timeout exceeded while awaiting headers" }
func (timeoutError) Timeout() bool        { return true }
func (timeoutError) Is(target error) bool { return target == context.DeadlineExceeded }
