package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestTotal counts HTTP requests by method, route pattern and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidline_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bidline_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	// OperationsTotal counts registry mutations by outcome (ok or an error code).
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidline_operations_total",
			Help: "Total number of project registry operations",
		},
		[]string{"operation", "outcome"},
	)
	// FundsMoved sums tokens moved through custody by direction
	// (escrow, release, refund, compensation).
	FundsMoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidline_escrow_funds_total",
			Help: "Tokens moved through the custody account",
		},
		[]string{"direction"},
	)
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidline_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)
)
