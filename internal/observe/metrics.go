// Package observe provides application-wide observability primitives for
// voxpipe: OpenTelemetry metrics with a Prometheus exporter bridge and HTTP
// middleware that records request latency.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// via [InitProvider] so they can be scraped from the standard /metrics
// endpoint. A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxpipe metrics.
const meterName = "github.com/voxpipe/voxpipe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// InferenceDuration tracks per-window transcription latency. Use with
	// attribute:
	//   attribute.String("pass", "partial"|"final")
	InferenceDuration metric.Float64Histogram

	// Windows counts inference windows dispatched to the engine. Use with
	// attribute:
	//   attribute.String("mode", "fixed"|"vad")
	Windows metric.Int64Counter

	// DroppedSamples counts audio samples discarded by the ring buffer's
	// drop-oldest backpressure policy.
	DroppedSamples metric.Int64Counter

	// EngineErrors counts failed engine calls. Use with attribute:
	//   attribute.String("pass", "partial"|"final")
	EngineErrors metric.Int64Counter

	// Transcripts counts emitted transcript events. Use with attribute:
	//   attribute.String("kind", "partial"|"final")
	Transcripts metric.Int64Counter

	// ActiveSessions tracks the number of live streaming sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for inference latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InferenceDuration, err = m.Float64Histogram("voxpipe.inference.duration",
		metric.WithDescription("Latency of one transcription engine call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Windows, err = m.Int64Counter("voxpipe.windows",
		metric.WithDescription("Total inference windows dispatched, by mode."),
	); err != nil {
		return nil, err
	}
	if met.DroppedSamples, err = m.Int64Counter("voxpipe.buffer.dropped_samples",
		metric.WithDescription("Total samples discarded by drop-oldest backpressure."),
	); err != nil {
		return nil, err
	}
	if met.EngineErrors, err = m.Int64Counter("voxpipe.engine.errors",
		metric.WithDescription("Total failed transcription engine calls, by pass."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("voxpipe.transcripts",
		metric.WithDescription("Total emitted transcript events, by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxpipe.active_sessions",
		metric.WithDescription("Number of live streaming sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxpipe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordInference is a convenience method that records one engine call's
// latency (in seconds) for the given pass ("partial" or "final").
func (m *Metrics) RecordInference(ctx context.Context, pass string, seconds float64) {
	m.InferenceDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("pass", pass)),
	)
}

// RecordWindow is a convenience method that counts one dispatched window.
func (m *Metrics) RecordWindow(ctx context.Context, mode string) {
	m.Windows.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}

// RecordEngineError is a convenience method that counts one failed engine
// call for the given pass.
func (m *Metrics) RecordEngineError(ctx context.Context, pass string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("pass", pass)),
	)
}

// RecordTranscript is a convenience method that counts one emitted
// transcript event of the given kind.
func (m *Metrics) RecordTranscript(ctx context.Context, kind string) {
	m.Transcripts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
