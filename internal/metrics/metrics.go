// Package metrics wires github.com/prometheus/client_golang into the Node:
// a small set of counters/histograms registered once per process, labeled
// by RBC variant. The Node records dropped messages and terminations; the termination-latency histogram is registered, but
// neither the Node nor the benchmark Syncer calls ObserveLatency.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	dropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rbc",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped by a Node, by variant and reason.",
	}, []string{"variant", "reason"})

	terminationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rbc",
		Name:      "terminations_total",
		Help:      "Instances that reached TERMINATED, by variant.",
	}, []string{"variant"})

	terminationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rbc",
		Name:      "termination_latency_seconds",
		Help:      "Wall-clock seconds from start_broadcast to terminate, by variant.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"variant"})
)

func register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(dropsTotal, terminationsTotal, terminationLatency)
	})
}

// Recorder is a per-Node handle onto the process-wide metric vectors,
// pre-labeled with this Node's RBC variant.
type Recorder struct {
	variant string
}

// NewRecorder registers the package's metric vectors (idempotently) and
// returns a Recorder labeled for variant.
func NewRecorder(variant string) *Recorder {
	register()
	return &Recorder{variant: variant}
}

// IncDrop records one dropped message for the given reason (the Node uses
// "mac", "parse", "proof", "origin-mismatch" and "hash-position").
func (r *Recorder) IncDrop(reason string) {
	if r == nil {
		return
	}
	dropsTotal.WithLabelValues(r.variant, reason).Inc()
}

// IncTerminate records one instance reaching TERMINATED.
func (r *Recorder) IncTerminate() {
	if r == nil {
		return
	}
	terminationsTotal.WithLabelValues(r.variant).Inc()
}

// ObserveLatency records the seconds elapsed between start and terminate.
func (r *Recorder) ObserveLatency(seconds float64) {
	if r == nil {
		return
	}
	terminationLatency.WithLabelValues(r.variant).Observe(seconds)
}
