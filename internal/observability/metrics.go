package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway collectors. A nil *Metrics is valid and records
// nothing, which keeps unit tests free of registry plumbing.
type Metrics struct {
	ProviderCalls    *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec
	RoutingDecisions *prometheus.CounterVec
	Webhooks         *prometheus.CounterVec
	UsageEvents      *prometheus.CounterVec
	RetentionPurged  *prometheus.CounterVec
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "provider_calls_total",
			Help:      "Adapter calls by provider, operation and outcome.",
		}, []string{"provider", "operation", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paygate",
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of adapter calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "paygate",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
		}, []string{"provider"}),
		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "routing_decisions_total",
			Help:      "Providers selected by the router.",
		}, []string{"provider", "rule"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "webhooks_total",
			Help:      "Inbound webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		UsageEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "usage_events_total",
			Help:      "Usage events by outcome.",
		}, []string{"outcome"}),
		RetentionPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "retention_purged_rows_total",
			Help:      "Rows removed by the retention job.",
		}, []string{"table"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ProviderCalls,
			m.ProviderLatency,
			m.BreakerState,
			m.RoutingDecisions,
			m.Webhooks,
			m.UsageEvents,
			m.RetentionPurged,
		)
	}
	return m
}

func (m *Metrics) ObserveProviderCall(provider, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(provider, operation, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

func (m *Metrics) SetBreakerState(provider string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(provider).Set(state)
}

func (m *Metrics) ObserveRouting(provider, rule string) {
	if m == nil {
		return
	}
	m.RoutingDecisions.WithLabelValues(provider, rule).Inc()
}

func (m *Metrics) ObserveWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveUsage(outcome string) {
	if m == nil {
		return
	}
	m.UsageEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePurge(table string, rows int64) {
	if m == nil {
		return
	}
	m.RetentionPurged.WithLabelValues(table).Add(float64(rows))
}
