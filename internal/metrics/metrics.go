package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	ChatRequests      *prometheus.CounterVec
	ChatLatency       *prometheus.HistogramVec
	UpdatesDispatched *prometheus.CounterVec
	LedgerRequests    *prometheus.CounterVec
	LedgerLatency     *prometheus.HistogramVec
	Reconciliations   *prometheus.CounterVec
	RepliesClassified *prometheus.CounterVec
	StorePersists     *prometheus.CounterVec
	AlertsSent        *prometheus.CounterVec
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			ChatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_requests_total",
				Help:      "Total chat transport API calls by method and status.",
			}, []string{"method", "status"}),
			ChatLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chat_request_duration_seconds",
				Help:      "Latency distribution for chat transport API calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			UpdatesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_dispatched_total",
				Help:      "Inbound updates dispatched to handlers by bot and outcome.",
			}, []string{"bot", "outcome"}),
			LedgerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_requests_total",
				Help:      "Total ledger calls by operation and status.",
			}, []string{"op", "status"}),
			LedgerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_request_duration_seconds",
				Help:      "Latency distribution for ledger calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "balance_reconciliations_total",
				Help:      "Balance reconciliations by kind and outcome.",
			}, []string{"kind", "outcome"}),
			RepliesClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replies_classified_total",
				Help:      "Operator replies by target and resolved intent.",
			}, []string{"target", "intent"}),
			StorePersists: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_persists_total",
				Help:      "Whole-document persists by backend and status.",
			}, []string{"backend", "status"}),
			AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operator_alerts_total",
				Help:      "Operator alerts by sink and status.",
			}, []string{"sink", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.ChatRequests,
			metricsInstance.ChatLatency,
			metricsInstance.UpdatesDispatched,
			metricsInstance.LedgerRequests,
			metricsInstance.LedgerLatency,
			metricsInstance.Reconciliations,
			metricsInstance.RepliesClassified,
			metricsInstance.StorePersists,
			metricsInstance.AlertsSent,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

// IncError bumps the error counter for component. Safe on a nil receiver.
func (m *Metrics) IncError(component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component).Inc()
}
