// Package metrics records batch run metrics in a private prometheus registry
// and exports them as a node_exporter textfile next to the run report.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/teranos/mintdoi/batch"
	"github.com/teranos/mintdoi/errors"
)

// FileName is the textfile written into a run's report directory
const FileName = "metrics.prom"

// Metrics implements batch.Observer. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Stage durations by stage and outcome
	StageDuration *prometheus.HistogramVec

	// Registrar calls by outcome
	RegistrarCalls *prometheus.CounterVec

	// Retries by stage and error kind
	Retries *prometheus.CounterVec

	// Items by terminal stage
	ItemsFinished *prometheus.CounterVec
}

var _ batch.Observer = (*Metrics)(nil)

// New creates a Metrics with its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mintdoi_stage_duration_seconds",
			Help:    "Duration of one stage attempt",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage", "outcome"}),

		RegistrarCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mintdoi_registrar_calls_total",
			Help: "Mint requests sent to the registrar by outcome",
		}, []string{"outcome"}),

		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mintdoi_retries_total",
			Help: "Stage retries by stage and error kind",
		}, []string{"stage", "kind"}),

		ItemsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mintdoi_items_total",
			Help: "Items that reached a terminal stage",
		}, []string{"stage"}),
	}
}

// StageFinished records one stage attempt
func (m *Metrics) StageFinished(stage batch.Stage, outcome string, elapsed time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(string(stage), outcome).Observe(elapsed.Seconds())
	}
}

// RegistrarCall records one mint request
func (m *Metrics) RegistrarCall(outcome string) {
	if m != nil {
		m.RegistrarCalls.WithLabelValues(outcome).Inc()
	}
}

// Retried records a retry scheduled for stage
func (m *Metrics) Retried(stage batch.Stage, kind string) {
	if m != nil {
		m.Retries.WithLabelValues(string(stage), kind).Inc()
	}
}

// ItemFinished records an item reaching a terminal stage
func (m *Metrics) ItemFinished(stage batch.Stage) {
	if m != nil {
		m.ItemsFinished.WithLabelValues(string(stage)).Inc()
	}
}

// Registry returns the registry the metrics are registered in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics to dir/metrics.prom and returns the path
func (m *Metrics) WriteTextfile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "create metrics directory %s", dir)
	}
	path := filepath.Join(dir, FileName)
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return "", errors.Wrapf(err, "write metrics to %s", path)
	}
	return path, nil
}
