// Package metrics exposes run and step metrics in Prometheus format.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/pkg/schema"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "stepflow"

// Collector records run and step metrics. It implements engine.Observer and
// owns its registry, so several collectors can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsInFlight *prometheus.GaugeVec

	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	// started holds the IDs of runs counted in runsInFlight.
	started sync.Map
}

// NewCollector creates a Collector. An empty namespace selects
// DefaultNamespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished workflow runs",
		},
		[]string{"workflow", "status"},
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow", "status"},
	)

	c.runsInFlight = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Number of workflow runs currently executing",
		},
		[]string{"workflow"},
	)

	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of finished steps",
		},
		[]string{"workflow", "step", "status"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Step handler duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"workflow", "step"},
	)

	return c
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RunStarted implements engine.Observer.
func (c *Collector) RunStarted(workflow, runID string) {
	c.started.Store(runID, struct{}{})
	c.runsInFlight.WithLabelValues(workflow).Inc()
}

// RunFinished implements engine.Observer. A run rejected before it started
// never raised the in-flight gauge, so it does not lower it either.
func (c *Collector) RunFinished(workflow, runID string, status schema.RunStatus, elapsed time.Duration) {
	if _, ok := c.started.LoadAndDelete(runID); ok {
		c.runsInFlight.WithLabelValues(workflow).Dec()
	}
	c.runsTotal.WithLabelValues(workflow, string(status)).Inc()
	c.runDuration.WithLabelValues(workflow, string(status)).Observe(elapsed.Seconds())
}

// StepStarted implements engine.Observer.
func (c *Collector) StepStarted(string, string, string) {}

// StepFinished implements engine.Observer.
func (c *Collector) StepFinished(workflow, _, stepID string, status schema.StepStatus, elapsed time.Duration) {
	c.stepsTotal.WithLabelValues(workflow, stepID, string(status)).Inc()
	c.stepDuration.WithLabelValues(workflow, stepID).Observe(elapsed.Seconds())
}

var _ engine.Observer = (*Collector)(nil)
