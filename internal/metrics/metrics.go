package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Allocations counts allocation decisions by outcome (allocated,
	// no_feasible_facility, invalid_order)
	Allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "allocations_total", Help: "Allocation decisions by outcome."},
		[]string{"outcome"},
	)
	// Eliminations counts facilities screened out during allocation, by reason
	Eliminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "allocation_eliminations_total", Help: "Facilities eliminated during screening, by reason."},
		[]string{"reason"},
	)
	// AllocationDuration records end-to-end decision latency in seconds
	AllocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "allocation_duration_seconds", Help: "Allocation decision latency in seconds.", Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1}},
	)
	// Recommendations counts rebalancing recommendations produced, by priority
	Recommendations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stock_recommendations_total", Help: "Rebalancing recommendations by priority."},
		[]string{"priority"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Allocations)
		Registry.MustRegister(Eliminations)
		Registry.MustRegister(AllocationDuration)
		Registry.MustRegister(Recommendations)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
