// Package obs carries the process's Prometheus registry with the
// order-flow, risk, journal and mark-to-market collectors registered on
// it, and the request tracer. No component records into the collectors;
// they are exported on /metrics as registered.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector of the engine. The Observe*
// and Inc* methods are no-ops on a nil *Metrics, so call sites don't
// need a feature-flag check around each observation; Handler needs a
// non-nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	orderFlowLatency prometheus.Histogram
	riskRejects      *prometheus.CounterVec
	journalLatency   prometheus.Histogram
	markToMarketTime prometheus.Histogram
	confirmations    *prometheus.CounterVec
}

// NewMetrics builds a fresh registry and registers every collector.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		orderFlowLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradecore",
			Name:      "order_flow_latency_seconds",
			Help:      "Time from Place() call to the adapter accepting or rejecting the order.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
		}),
		riskRejects: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "risk_rejects_total",
			Help:      "Count of RiskRejected confirmations by failing check.",
		}, []string{"check", "entity"}),
		journalLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradecore",
			Name:      "journal_write_latency_seconds",
			Help:      "Latency of a single confirmation journal append.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16),
		}),
		markToMarketTime: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "tradecore",
			Name:      "mark_to_market_duration_seconds",
			Help:      "Wall time to recompute unrealized P&L across all sub-accounts.",
			Buckets:   prometheus.DefBuckets,
		}),
		confirmations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Name:      "confirmations_total",
			Help:      "Count of confirmations emitted by exec type.",
		}, []string{"exec_type"}),
	}
	return m
}

// Handler exposes the registry on /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOrderFlow(seconds float64) {
	if m == nil {
		return
	}
	m.orderFlowLatency.Observe(seconds)
}

func (m *Metrics) ObserveJournalWrite(seconds float64) {
	if m == nil {
		return
	}
	m.journalLatency.Observe(seconds)
}

func (m *Metrics) ObserveMarkToMarket(seconds float64) {
	if m == nil {
		return
	}
	m.markToMarketTime.Observe(seconds)
}

func (m *Metrics) IncRiskReject(check, entity string) {
	if m == nil {
		return
	}
	m.riskRejects.WithLabelValues(check, entity).Inc()
}

func (m *Metrics) IncConfirmation(execType string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(execType).Inc()
}
