package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Scans collects per-outcome counters and resolution latency.
type Scans struct {
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewScans registers scan collectors on reg. A nil reg uses the default registerer.
func NewScans(reg prometheus.Registerer) *Scans {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Scans{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "scans_total",
			Help:      "Scans resolved, by outcome and rejection reason.",
		}, []string{"outcome", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "attendance",
			Name:      "scan_duration_seconds",
			Help:      "Time spent resolving one scan.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.outcomes, m.latency)
	return m
}

// Observe records one resolution. Infrastructure failures use outcome "error".
func (m *Scans) Observe(outcome, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome, reason).Inc()
	m.latency.WithLabelValues(outcome).Observe(d.Seconds())
}
