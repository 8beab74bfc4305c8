package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess          = "success"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeInsufficient     = "insufficient_inventory"
	OutcomeRetryable        = "retryable"
	OutcomeInvalid          = "invalid"
	OutcomeError            = "error"
)

var (
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyvault_checkouts_total",
		Help: "Checkout attempts by outcome.",
	}, []string{"outcome"})

	CheckoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keyvault_checkout_duration_seconds",
		Help:    "Duration of checkout attempts.",
		Buckets: prometheus.DefBuckets,
	})

	KeysAllocatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyvault_keys_allocated_total",
		Help: "License keys checked out.",
	})

	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyvault_fulfillment_tasks_total",
		Help: "Fulfillment tasks processed by result.",
	}, []string{"result"})

	NotificationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyvault_notification_failures_total",
		Help: "Key deliveries that could not be sent after committing.",
	})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"path", "method", "status"})
)
