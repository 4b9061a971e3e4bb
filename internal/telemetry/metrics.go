// Package telemetry records interpreter executions as Prometheus metrics and
// OpenTelemetry spans.
//
// A nil *Metrics or *Tracer is valid and records nothing, so the interpreter
// can call into telemetry unconditionally.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Band names label executions by the class of their return code.
const (
	BandSuccess     = "success"
	BandPreparation = "preparation"
	BandCatchable   = "catchable"
	BandUncatchable = "uncatchable"
	BandFarewell    = "farewell"
)

// Band maps a return code to its band name.
func Band(retCode int64) string {
	switch {
	case retCode == 0:
		return BandSuccess
	case retCode < 10001:
		return BandPreparation
	case retCode < 20001:
		return BandCatchable
	case retCode < 30001:
		return BandUncatchable
	}
	return BandFarewell
}

// Metrics holds the interpreter's collectors in a private registry.
type Metrics struct {
	executions  *prometheus.CounterVec
	duration    prometheus.Histogram
	traceStates *prometheus.CounterVec
	nextPeers   prometheus.Histogram
	softLimits  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the collectors under namespace and registers them.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Interpreter executions by return code band",
			},
			[]string{"band"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Wall time of one interpreter execution",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
		),
		traceStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trace_states_total",
				Help:      "States written to result traces, by kind",
			},
			[]string{"kind"},
		),
		nextPeers: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "next_peers",
				Help:      "Number of next peers returned by one execution",
				Buckets:   prometheus.LinearBuckets(0, 1, 8),
			},
		),
		softLimits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "soft_limits_total",
				Help:      "Executions that exceeded a size limit without hard limits enabled",
			},
			[]string{"limit"},
		),
	}
	registry.MustRegister(m.executions, m.duration, m.traceStates, m.nextPeers, m.softLimits)
	return m
}

// Execution describes one finished execution.
type Execution struct {
	RetCode    int64
	Duration   time.Duration
	StateKinds map[string]int
	NextPeers  int
	SoftLimits []string
}

// RecordExecution updates every collector from one execution.
func (m *Metrics) RecordExecution(e Execution) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(Band(e.RetCode)).Inc()
	m.duration.Observe(e.Duration.Seconds())
	for kind, n := range e.StateKinds {
		m.traceStates.WithLabelValues(kind).Add(float64(n))
	}
	m.nextPeers.Observe(float64(e.NextPeers))
	for _, limit := range e.SoftLimits {
		m.softLimits.WithLabelValues(limit).Inc()
	}
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
