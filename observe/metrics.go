// Package observe provides the OpenTelemetry metrics and tracing used around
// backend attempts.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping by the Prometheus bridge set up in [InitProvider]. Tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"github.com/aschepis/backscratcher/relay/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all relay metrics.
const meterName = "github.com/aschepis/backscratcher/relay"

// Metrics holds the metric instruments for backend traffic.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// BackendRequests counts attempts by backend, op and status.
	BackendRequests metric.Int64Counter

	// BackendErrors counts failed attempts by backend and error type.
	BackendErrors metric.Int64Counter

	// BackendDuration tracks attempt latency by backend and op.
	BackendDuration metric.Float64Histogram

	// FailoverExhausted counts calls that ran out of attempts, by op.
	FailoverExhausted metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries in seconds, sized for
// model round trips rather than RPCs.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] using the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BackendRequests, err = m.Int64Counter("relay.backend.requests",
		metric.WithDescription("Total backend attempts by backend, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("relay.backend.errors",
		metric.WithDescription("Total failed backend attempts by backend and error type."),
	); err != nil {
		return nil, err
	}
	if met.BackendDuration, err = m.Float64Histogram("relay.backend.duration",
		metric.WithDescription("Latency of backend attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FailoverExhausted, err = m.Int64Counter("relay.failover.exhausted",
		metric.WithDescription("Total calls that exhausted every failover attempt."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built from the global
// meter provider. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordAttempt records one completed attempt against a backend.
func (m *Metrics) RecordAttempt(ctx context.Context, backend, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.BackendErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("type", string(llm.ErrorTypeOf(err))),
		))
	}
	m.BackendRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("status", status),
	))
	m.BackendDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("op", op),
	))
}

// RecordExhausted records a call that ran out of attempts.
func (m *Metrics) RecordExhausted(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.FailoverExhausted.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
