package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tutorledger",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook deliveries by outcome.",
	}, []string{"outcome"})

	creditOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tutorledger",
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Ledger operations by reason and outcome.",
	}, []string{"reason", "outcome"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tutorledger",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, path and status.",
	}, []string{"method", "path", "status"})
)

const (
	outcomeApplied    = "applied"
	outcomeIdempotent = "idempotent"
	outcomeRejected   = "rejected"
	outcomeError      = "error"
)
