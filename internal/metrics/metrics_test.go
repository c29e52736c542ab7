package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveCandidate("page", "PII")
	m.ObserveSanitizeFailure("no_array")
	m.ObserveLocator("miss")
	m.ObserveApplied("audio", "beep")
	m.ObserveSkipped("pdf", "not_accepted")
	m.ObserveLLMLatency(1)
	m.SetSupervisorState(2)
}

func TestCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveApplied("audio", "silence")
	m.ObserveApplied("audio", "silence")
	m.ObserveSkipped("audio", "invalid_interval")
	m.SetSupervisorState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.applied.WithLabelValues("audio", "silence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues("audio", "invalid_interval")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.supervisorState))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
