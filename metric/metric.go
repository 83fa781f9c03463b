// Package metric provides prometheus collectors for engine nodes and the
// chain controller.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "fxchain"

const (
	// ResultOK labels successful rebuilds.
	ResultOK = "ok"
	// ResultRejected labels rebuilds refused before the chain was touched.
	ResultRejected = "rejected"
	// ResultFailed labels operations that failed while touching nodes.
	ResultFailed = "failed"
	// ResultIgnored labels parameter sets addressed to a missing node.
	ResultIgnored = "ignored"
)

// Metrics owns a prometheus registry with all fxchain collectors.
type Metrics struct {
	registry *prometheus.Registry

	callbacks *prometheus.CounterVec
	frames    *prometheus.CounterVec
	duration  *prometheus.CounterVec
	latency   *prometheus.GaugeVec
	applied   *prometheus.CounterVec
	rejected  *prometheus.CounterVec

	rebuilds      *prometheus.CounterVec
	rebuildTime   prometheus.Histogram
	nodes         prometheus.Gauge
	parameterSets *prometheus.CounterVec
}

// New creates metrics registered in a fresh registry together with Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "callbacks_total",
			Help:      "Number of real-time callbacks executed.",
		}, []string{"unit"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "frames_total",
			Help:      "Number of frames processed.",
		}, []string{"unit"}),
		duration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "signal_seconds_total",
			Help:      "Duration of processed signal.",
		}, []string{"unit"}),
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "callback_interval_seconds",
			Help:      "Time between the two latest callbacks.",
		}, []string{"unit"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "updates_applied_total",
			Help:      "Number of parameter updates applied on the real-time thread.",
		}, []string{"unit"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "updates_rejected_total",
			Help:      "Number of parameter updates rejected because the channel was full.",
		}, []string{"unit"}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rebuilds_total",
			Help:      "Number of chain rebuild attempts.",
		}, []string{"result"}),
		rebuildTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rebuild_seconds",
			Help:      "Time spent rebuilding the chain.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "nodes",
			Help:      "Number of nodes in the live chain.",
		}),
		parameterSets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "parameter_sets_total",
			Help:      "Number of set-parameters calls.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.callbacks,
		m.frames,
		m.duration,
		m.latency,
		m.applied,
		m.rejected,
		m.rebuilds,
		m.rebuildTime,
		m.nodes,
		m.parameterSets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Node creates a meter for a node running the unit. Counters are resolved
// here so the real-time thread only performs atomic updates.
func (m *Metrics) Node(unitName string, sampleRate uint32) *Node {
	if m == nil {
		return nil
	}
	return &Node{
		sampleRate: float64(sampleRate),
		callbacks:  m.callbacks.WithLabelValues(unitName),
		frames:     m.frames.WithLabelValues(unitName),
		duration:   m.duration.WithLabelValues(unitName),
		latency:    m.latency.WithLabelValues(unitName),
		applied:    m.applied.WithLabelValues(unitName),
		rejected:   m.rejected.WithLabelValues(unitName),
	}
}

// Node captures metrics of a single engine node. A nil Node discards
// everything.
type Node struct {
	sampleRate float64
	calledAt   time.Time
	callbacks  prometheus.Counter
	frames     prometheus.Counter
	duration   prometheus.Counter
	latency    prometheus.Gauge
	applied    prometheus.Counter
	rejected   prometheus.Counter
}

// Measure captures a processed block and the number of updates applied
// before it. Must only be called from the real-time thread.
func (n *Node) Measure(frames, applied int) {
	if n == nil {
		return
	}
	now := time.Now()
	if !n.calledAt.IsZero() {
		n.latency.Set(now.Sub(n.calledAt).Seconds())
	}
	n.calledAt = now
	n.callbacks.Inc()
	n.frames.Add(float64(frames))
	if n.sampleRate > 0 {
		n.duration.Add(float64(frames) / n.sampleRate)
	}
	if applied > 0 {
		n.applied.Add(float64(applied))
	}
}

// Rejected counts an update refused because the channel was full.
func (n *Node) Rejected() {
	if n == nil {
		return
	}
	n.rejected.Inc()
}

// Rebuild records the outcome and duration of a chain rebuild.
func (m *Metrics) Rebuild(result string, took time.Duration, nodes int) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(result).Inc()
	m.rebuildTime.Observe(took.Seconds())
	m.nodes.Set(float64(nodes))
}

// ParameterSet records the outcome of a set-parameters call.
func (m *Metrics) ParameterSet(result string) {
	if m == nil {
		return
	}
	m.parameterSets.WithLabelValues(result).Inc()
}
