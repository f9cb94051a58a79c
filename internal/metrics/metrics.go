// Package metrics records patch run metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Recorder receives run and stage observations.
type Recorder interface {
	ObserveRun(mode, outcome string, duration time.Duration)
	ObserveStage(stage, outcome string, duration time.Duration)
	IncManifestPatch(outcome string)
	AddOutputBytes(mode string, n int64)
}

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) ObserveRun(string, string, time.Duration)   {}
func (Noop) ObserveStage(string, string, time.Duration) {}
func (Noop) IncManifestPatch(string)                    {}
func (Noop) AddOutputBytes(string, int64)               {}

// Prom implements Recorder on a private registry.
type Prom struct {
	registry      *prometheus.Registry
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec
	manifestPatch *prometheus.CounterVec
	outputBytes   *prometheus.CounterVec
}

// NewProm registers the patcher metrics under namespace on a fresh registry.
func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Patch runs by mode and outcome",
		}, []string{"mode", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Patch run duration by mode",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"mode"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Patch stage duration by stage and outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "outcome"}),
		manifestPatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_patches_total",
			Help:      "Manifest patch attempts by outcome",
		}, []string{"outcome"}),
		outputBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes written to output directories by mode",
		}, []string{"mode"}),
	}

	p.registry.MustRegister(p.runs, p.runDuration, p.stageDuration, p.manifestPatch, p.outputBytes)

	return p
}

// ObserveRun counts a finished run and records its duration.
func (p *Prom) ObserveRun(mode, outcome string, duration time.Duration) {
	p.runs.WithLabelValues(mode, outcome).Inc()
	p.runDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveStage records the duration of one stage.
func (p *Prom) ObserveStage(stage, outcome string, duration time.Duration) {
	p.stageDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// IncManifestPatch counts a manifest patch attempt.
func (p *Prom) IncManifestPatch(outcome string) {
	p.manifestPatch.WithLabelValues(outcome).Inc()
}

// AddOutputBytes adds the size of produced artifacts.
func (p *Prom) AddOutputBytes(mode string, n int64) {
	p.outputBytes.WithLabelValues(mode).Add(float64(n))
}

// Gatherer exposes the registry.
func (p *Prom) Gatherer() prometheus.Gatherer {
	return p.registry
}

// Handler returns an HTTP handler serving the registry.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path in the text exposition format,
// for node_exporter's textfile collector.
func (p *Prom) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, p.registry)
}
