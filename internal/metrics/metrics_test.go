package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestScansObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewScans(reg)

	m.Observe("created", "", 3*time.Millisecond)
	m.Observe("rejected", "unknown_tag", time.Millisecond)
	m.Observe("rejected", "unknown_tag", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("created", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("rejected", "unknown_tag")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.latency))
}

func TestNilScansIsNoop(t *testing.T) {
	var m *Scans
	assert.NotPanics(t, func() { m.Observe("created", "", time.Second) })
}
