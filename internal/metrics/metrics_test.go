package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
		ObserveSweepDuration("no_show", 0.2)
		IncSlotConflict()
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(transitions.WithLabelValues("confirmed", "failure"))
	ObserveTransition("confirmed", false)
	assert.Equal(t, before+1, testutil.ToFloat64(transitions.WithLabelValues("confirmed", "failure")))

	before = testutil.ToFloat64(sweepItems.WithLabelValues("reminder", "success"))
	ObserveSweepItem("reminder", true)
	assert.Equal(t, before+1, testutil.ToFloat64(sweepItems.WithLabelValues("reminder", "success")))

	before = testutil.ToFloat64(eventsPublished.WithLabelValues("kafka", "failure"))
	ObserveEvent("kafka", false)
	assert.Equal(t, before+1, testutil.ToFloat64(eventsPublished.WithLabelValues("kafka", "failure")))

	SetUptime(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(uptime))
}
