package batch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/mintdoi/datacite"
	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/retry"
)

// slowRegistrar answers probes at once, stalls the first POST past the
// client timeout and accepts every later one.
func slowRegistrar(t *testing.T, posts *atomic.Int32) *datacite.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, `{"data":[]}`)
			return
		}
		if posts.Add(1) == 1 {
			select {
			case <-time.After(300 * time.Millisecond):
			case <-r.Context().Done():
			}
			return
		}
		w.Header().Set("Content-Type", datacite.JSONAPIContentType)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"id":"10.80000/slow-1","attributes":{"doi":"10.80000/slow-1","url":"https://repo.example.edu/handle/1/1"}}}`)
	}))
	t.Cleanup(srv.Close)

	c, err := datacite.New(datacite.Options{API: srv.URL, Token: "dXNlcjpwYXNz", Prefix: "10.80000", Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	return c
}

func TestRegistrarClientTimeoutIsRetried(t *testing.T) {
	var posts atomic.Int32
	h := newHarness(t, Config{RetryCount: 3})
	h.useRegistrar(slowRegistrar(t, &posts))

	report, err := h.orch.Run(context.Background(), []string{"slow"})
	require.NoError(t, err)

	assert.Equal(t, RunStatusCompleted, report.Status)
	require.Len(t, report.Items, 1)
	assert.Equal(t, StageDone, report.Items[0].Stage)
	assert.Equal(t, "10.80000/slow-1", report.Items[0].Identifier)
	assert.EqualValues(t, 2, posts.Load())
}

func TestClientTimeoutClassifiesAsRetryable(t *testing.T) {
	var posts atomic.Int32
	h := newHarness(t, Config{})
	res, err := h.stages.Transformer.Transform(record("slow"))
	require.NoError(t, err)

	_, _, err = slowRegistrar(t, &posts).Mint(context.Background(), res.Payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransientNetwork))
	assert.Equal(t, retry.Retryable, retry.Classify(err))
}
