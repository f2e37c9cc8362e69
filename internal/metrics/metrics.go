// Package metrics exposes the Prometheus collectors for the credit ledger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "creditledger"

var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Ledger operations by operation name and outcome.",
}, []string{"operation", "outcome"})

var CreditsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "credits_total",
	Help:      "Absolute credit amounts written to the ledger by transaction type.",
}, []string{"type"})

var WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "webhook",
	Name:      "events_total",
	Help:      "Payment webhook events by category and outcome.",
}, []string{"category", "outcome"})

var ResetAccounts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reset",
	Name:      "accounts_total",
	Help:      "Accounts visited by the monthly reset by outcome.",
}, []string{"outcome"})

var ResetDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "reset",
	Name:      "duration_seconds",
	Help:      "Wall time of a bulk monthly reset run.",
	Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
})

const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
	OutcomeDropped  = "dropped"
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
