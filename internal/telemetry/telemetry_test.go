package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	ObserveAssignment(AssignmentAssigned)
	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["carecore_assignments_total"])
	assert.True(t, names["carecore_alert_processing_seconds"])
}

func TestObserveAlertCountsDeadLetters(t *testing.T) {
	acked := testutil.ToFloat64(alertsProcessed.WithLabelValues(AlertAcked))
	dead := testutil.ToFloat64(alertsDeadLettered)

	ObserveAlert(20*time.Millisecond, AlertAcked)
	ObserveAlert(-time.Second, AlertDeadLettered)

	assert.Equal(t, acked+1, testutil.ToFloat64(alertsProcessed.WithLabelValues(AlertAcked)))
	assert.Equal(t, dead+1, testutil.ToFloat64(alertsDeadLettered))
}

func TestObserveOutcomeLabels(t *testing.T) {
	down := testutil.ToFloat64(rosterRequests.WithLabelValues("current", "unavailable"))
	failed := testutil.ToFloat64(notificationsPublished.WithLabelValues("failed"))
	skew := testutil.ToFloat64(integrityWarnings.WithLabelValues("response"))

	ObserveRoster("current", false)
	ObserveNotification(false)
	ObserveIntegrityWarning("response")

	assert.Equal(t, down+1, testutil.ToFloat64(rosterRequests.WithLabelValues("current", "unavailable")))
	assert.Equal(t, failed+1, testutil.ToFloat64(notificationsPublished.WithLabelValues("failed")))
	assert.Equal(t, skew+1, testutil.ToFloat64(integrityWarnings.WithLabelValues("response")))
}

func TestObserveBrokerTracksConnectionState(t *testing.T) {
	reconnected := testutil.ToFloat64(brokerEvents.WithLabelValues(BrokerReconnected))

	ObserveBroker(BrokerDisconnected)
	assert.Equal(t, float64(0), testutil.ToFloat64(brokerUp))

	ObserveBroker(BrokerReconnected)
	assert.Equal(t, float64(1), testutil.ToFloat64(brokerUp))
	assert.Equal(t, reconnected+1, testutil.ToFloat64(brokerEvents.WithLabelValues(BrokerReconnected)))

	ObserveBroker(BrokerClosed)
	assert.Equal(t, float64(0), testutil.ToFloat64(brokerUp))
}
