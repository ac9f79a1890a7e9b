package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/BaSui01/membroker"

// RequestInstruments holds the OTel metric instruments recorded around each
// HTTP request. Instruments resolve against the global MeterProvider, so a
// disabled telemetry setup yields noop instruments at zero cost.
type RequestInstruments struct {
	requestTotal    metric.Int64Counter
	errorTotal      metric.Int64Counter
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
}

// NewRequestInstruments creates the request instrument set.
func NewRequestInstruments() (*RequestInstruments, error) {
	meter := otel.Meter(instrumentationName)

	ri := &RequestInstruments{}
	var err error

	ri.requestTotal, err = meter.Int64Counter("membroker.http.request.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	ri.errorTotal, err = meter.Int64Counter("membroker.http.error.total",
		metric.WithDescription("Total number of HTTP requests answered 5xx"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	// Boundaries match the Prometheus default buckets so both pipelines
	// bucket latency the same way.
	ri.requestDuration, err = meter.Float64Histogram("membroker.http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	if err != nil {
		return nil, err
	}

	ri.activeRequests, err = meter.Int64UpDownCounter("membroker.http.request.active",
		metric.WithDescription("Number of HTTP requests in flight"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	return ri, nil
}

// Begin marks a request in flight. Safe on a nil receiver.
func (ri *RequestInstruments) Begin(ctx context.Context) {
	if ri == nil {
		return
	}
	ri.activeRequests.Add(ctx, 1)
}

// End records the outcome of a finished request. route should be the
// normalized route, not the raw path, to keep attribute cardinality
// bounded. Safe on a nil receiver.
func (ri *RequestInstruments) End(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	if ri == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	ri.activeRequests.Add(ctx, -1)
	ri.requestTotal.Add(ctx, 1, attrs)
	ri.requestDuration.Record(ctx, elapsed.Seconds(), attrs)
	if status >= 500 {
		ri.errorTotal.Add(ctx, 1, attrs)
	}
}
