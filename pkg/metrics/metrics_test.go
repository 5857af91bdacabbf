package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.UsageEvent("accrued")
	m.UsageEvent("accrued")
	m.UsageEvent("duplicate")
	m.SpendAccrued(0.25)
	m.SpendAccrued(-1)
	m.Sweep("monitor", time.Second, nil)
	m.Sweep("monitor", time.Second, errors.New("scan failed"))
	m.MonitorGauges(10, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.usageEvents.WithLabelValues("accrued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.usageEvents.WithLabelValues("duplicate")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.spendAccrued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns.WithLabelValues("monitor", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.exceeded))
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.UsageEvent("accrued")
		m.Event("grace_started")
		m.WorkflowStep("suspension", "revoke_access", nil)
		m.AccessCall("revoke", nil)
		m.MonitorGauges(1, 1)
	})
}
