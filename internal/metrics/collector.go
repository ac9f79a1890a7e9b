// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records every Prometheus metric family the broker
// emits. All families share one namespace so several brokers can coexist in
// a single registry.
type Collector struct {
	// HTTP surface
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Memory operations per backend
	memoryOpsTotal    *prometheus.CounterVec
	memoryOpDuration  *prometheus.HistogramVec
	memoryPayloadSize *prometheus.HistogramVec

	// Cache index
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Maintenance engine
	maintenanceCyclesTotal prometheus.Counter
	maintenanceSweptTotal  prometheus.Counter
	maintenanceDuration    prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a collector registering under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.memoryOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_ops_total",
			Help:      "Total number of backend memory operations",
		},
		[]string{"backend", "op", "status"},
	)

	c.memoryOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_op_duration_seconds",
			Help:      "Backend memory operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	c.memoryPayloadSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_payload_size_bytes",
			Help:      "Serialized entry content size in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"backend", "op"},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.maintenanceCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_cycles_total",
			Help:      "Total number of completed maintenance cycles",
		},
	)

	c.maintenanceSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_swept_entries_total",
			Help:      "Total number of expired entries swept by maintenance",
		},
	)

	c.maintenanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "maintenance_cycle_duration_seconds",
			Help:      "Maintenance cycle duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordMemoryOp records one backend call. payloadBytes is the serialized
// content size for stores, 0 for reads.
func (c *Collector) RecordMemoryOp(backend, op, status string, duration time.Duration, payloadBytes int) {
	c.memoryOpsTotal.WithLabelValues(backend, op, status).Inc()
	c.memoryOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
	if payloadBytes > 0 {
		c.memoryPayloadSize.WithLabelValues(backend, op).Observe(float64(payloadBytes))
	}
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordMaintenanceCycle records one completed maintenance cycle.
func (c *Collector) RecordMaintenanceCycle(swept int, duration time.Duration) {
	c.maintenanceCyclesTotal.Inc()
	c.maintenanceSweptTotal.Add(float64(swept))
	c.maintenanceDuration.Observe(duration.Seconds())
}

// statusCode buckets an HTTP status code into its class.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
