// Package metrics collects and exposes Prometheus metrics for the scheduler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records session lifecycle outcomes and HTTP traffic.
type Collector struct {
	operations   *prometheus.CounterVec
	durations    *prometheus.HistogramVec
	openSlots    prometheus.Histogram
	httpRequests *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counselling_session_operations_total",
			Help: "Session operations by outcome.",
		}, []string{"operation", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "counselling_session_operation_duration_seconds",
			Help:    "Latency of session operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		openSlots: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "counselling_available_slots",
			Help:    "Number of open slots returned per availability lookup.",
			Buckets: []float64{0, 1, 5, 10, 15, 20, 30},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counselling_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
	}

	reg.MustRegister(
		c.operations,
		c.durations,
		c.openSlots,
		c.httpRequests,
	)

	return c
}

// ObserveOperation records the outcome and latency of a session operation.
func (c *Collector) ObserveOperation(operation, outcome string, duration time.Duration) {
	c.operations.WithLabelValues(operation, outcome).Inc()
	c.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveAvailableSlots records the size of an availability result.
func (c *Collector) ObserveAvailableSlots(count int) {
	c.openSlots.Observe(float64(count))
}

// RecordHTTPRequest counts a served request.
func (c *Collector) RecordHTTPRequest(method string, statusCode int) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
