package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/mintdoi/batch"
)

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.StageFinished(batch.StageMinting, batch.OutcomeOK, 120*time.Millisecond)
	m.RegistrarCall(batch.OutcomeOK)
	m.RegistrarCall(batch.OutcomeOK)
	m.RegistrarCall(batch.OutcomeRetry)
	m.Retried(batch.StageMinting, "RateLimited")
	m.ItemFinished(batch.StageDone)

	dir := filepath.Join(t.TempDir(), "run-1")
	path, err := m.WriteTextfile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `mintdoi_registrar_calls_total{outcome="ok"} 2`)
	assert.Contains(t, text, `mintdoi_registrar_calls_total{outcome="retry"} 1`)
	assert.Contains(t, text, `mintdoi_retries_total{kind="RateLimited",stage="minting"} 1`)
	assert.Contains(t, text, `mintdoi_items_total{stage="done"} 1`)
	assert.Contains(t, text, `mintdoi_stage_duration_seconds_count{outcome="ok",stage="minting"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.StageFinished(batch.StageFetching, batch.OutcomeFailed, time.Second)
		m.RegistrarCall(batch.OutcomeFailed)
		m.Retried(batch.StageFetching, "ServiceUnavailable")
		m.ItemFinished(batch.StageFailed)
	})
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ItemFinished(batch.StageDone)

	families, err := b.Registry().Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}
