package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service counters, served by the Prometheus monitor endpoint when enabled at startup.
var (
	httpReqs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "Number of API requests served, by handler.",
	}, []string{"handler"})

	paymentsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_payments_submitted_total",
		Help: "Number of payments successfully submitted to the ledger.",
	})

	webhookDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_webhook_sign_decisions_total",
		Help: "Number of signing webhook decisions, by outcome.",
	}, []string{"outcome"})
)
