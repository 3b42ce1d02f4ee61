package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordProviderCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveProviderCall("stripe", "create_refund", "success", 20*time.Millisecond)
	m.ObserveProviderCall("stripe", "create_refund", "success", 30*time.Millisecond)
	m.ObserveProviderCall("stripe", "create_refund", "retryable", time.Second)
	m.SetBreakerState("stripe", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderCalls.WithLabelValues("stripe", "create_refund", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderCalls.WithLabelValues("stripe", "create_refund", "retryable")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("stripe")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveProviderCall("polar", "ingest", "success", time.Millisecond)
		m.ObserveWebhook("polar", "accepted")
		m.ObserveUsage("forwarded")
		m.ObserveRouting("polar", "merchant_of_record")
		m.ObservePurge("webhook_events", 3)
		m.SetBreakerState("polar", 0)
	})
}
