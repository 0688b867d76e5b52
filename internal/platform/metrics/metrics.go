package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	SessionsCreated   prometheus.Counter
	SessionsActivated prometheus.Counter
	SessionsRevoked   prometheus.Counter
	SessionsSwept     prometheus.Counter
	DepositsScheduled prometheus.Histogram
	LedgerTxTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evault_sessions_created_total",
			Help: "Total number of mirror sessions created",
		}),
		SessionsActivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evault_sessions_activated_total",
			Help: "Total number of sessions confirmed active against a ledger vault",
		}),
		SessionsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evault_sessions_revoked_total",
			Help: "Total number of sessions revoked",
		}),
		SessionsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evault_sessions_swept_total",
			Help: "Total number of sessions driven to Cleaned by the sweeper",
		}),
		DepositsScheduled: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "evault_deposit_amount",
			Help:    "Distribution of scheduled auto-deposit amounts",
			Buckets: prometheus.ExponentialBuckets(1_000, 4, 10),
		}),
		LedgerTxTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "evault_ledger_transactions_total",
			Help: "Ledger transactions by operation and outcome",
		}, []string{"operation", "outcome"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evault_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// ObserveLedgerTx records one ledger transaction outcome.
func (m *Metrics) ObserveLedgerTx(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	m.LedgerTxTotal.WithLabelValues(operation, outcome).Inc()
}
