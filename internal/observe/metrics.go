// Package observe provides application-wide observability primitives for
// voxbridge: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/voxbridge/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// IngestDuration tracks per-chunk inbound audio processing latency
	// (decode, resample, pad).
	IngestDuration metric.Float64Histogram

	// EmitDuration tracks per-delta outbound audio processing latency
	// (resample, encode, re-chunk).
	EmitDuration metric.Float64Histogram

	// FunctionDuration tracks registered function execution latency.
	FunctionDuration metric.Float64Histogram

	// --- Counters ---

	// AudioChunksIn counts caller audio chunks received. Use with attribute:
	//   attribute.String("platform", ...)
	AudioChunksIn metric.Int64Counter

	// AudioChunksOut counts audio chunks sent to the platform. Use with
	// attribute: attribute.String("platform", ...)
	AudioChunksOut metric.Int64Counter

	// VADEvents counts voice activity transitions. Use with attribute:
	//   attribute.String("event", "start"|"stop"|"force-stop")
	VADEvents metric.Int64Counter

	// ResponsesCreated counts backend responses requested.
	ResponsesCreated metric.Int64Counter

	// ResponsesCompleted counts backend responses that ran to completion.
	ResponsesCompleted metric.Int64Counter

	// ResponsesCancelled counts backend responses aborted by barge-in.
	ResponsesCancelled metric.Int64Counter

	// FunctionCalls counts function invocations requested by the backend.
	// Use with attributes:
	//   attribute.String("function", ...), attribute.String("status", ...)
	FunctionCalls metric.Int64Counter

	// DroppedMessages counts messages discarded instead of processed. Use
	// with attribute: attribute.String("reason", ...)
	DroppedMessages metric.Int64Counter

	// --- Gauges ---

	// ActiveConversations tracks the number of live platform conversations.
	ActiveConversations metric.Int64UpDownCounter

	// ActiveStreams tracks the number of outbound audio streams currently
	// playing.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for per-chunk audio processing latencies.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// functionBuckets covers registered function execution, which may call
// external services.
var functionBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.IngestDuration, err = m.Float64Histogram("voxbridge.audio.ingest.duration",
		metric.WithDescription("Latency of inbound audio chunk processing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmitDuration, err = m.Float64Histogram("voxbridge.audio.emit.duration",
		metric.WithDescription("Latency of outbound audio delta processing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FunctionDuration, err = m.Float64Histogram("voxbridge.function.duration",
		metric.WithDescription("Latency of registered function execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(functionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioChunksIn, err = m.Int64Counter("voxbridge.audio.chunks.in",
		metric.WithDescription("Total caller audio chunks received by platform."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksOut, err = m.Int64Counter("voxbridge.audio.chunks.out",
		metric.WithDescription("Total audio chunks sent to the platform."),
	); err != nil {
		return nil, err
	}
	if met.VADEvents, err = m.Int64Counter("voxbridge.vad.events",
		metric.WithDescription("Total voice activity transitions by event."),
	); err != nil {
		return nil, err
	}
	if met.ResponsesCreated, err = m.Int64Counter("voxbridge.responses.created",
		metric.WithDescription("Total backend responses requested."),
	); err != nil {
		return nil, err
	}
	if met.ResponsesCompleted, err = m.Int64Counter("voxbridge.responses.completed",
		metric.WithDescription("Total backend responses completed."),
	); err != nil {
		return nil, err
	}
	if met.ResponsesCancelled, err = m.Int64Counter("voxbridge.responses.cancelled",
		metric.WithDescription("Total backend responses cancelled by barge-in."),
	); err != nil {
		return nil, err
	}
	if met.FunctionCalls, err = m.Int64Counter("voxbridge.function.calls",
		metric.WithDescription("Total function invocations by name and status."),
	); err != nil {
		return nil, err
	}
	if met.DroppedMessages, err = m.Int64Counter("voxbridge.dropped.messages",
		metric.WithDescription("Total messages discarded by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConversations, err = m.Int64UpDownCounter("voxbridge.active_conversations",
		metric.WithDescription("Number of live platform conversations."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("voxbridge.active_streams",
		metric.WithDescription("Number of outbound audio streams currently playing."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
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

// RecordChunkIn records one received caller audio chunk.
func (m *Metrics) RecordChunkIn(ctx context.Context, platform string) {
	m.AudioChunksIn.Add(ctx, 1,
		metric.WithAttributes(attribute.String("platform", platform)),
	)
}

// RecordChunkOut records one audio chunk sent to the platform.
func (m *Metrics) RecordChunkOut(ctx context.Context, platform string) {
	m.AudioChunksOut.Add(ctx, 1,
		metric.WithAttributes(attribute.String("platform", platform)),
	)
}

// RecordVADEvent records one voice activity transition ("start", "stop",
// "force-stop").
func (m *Metrics) RecordVADEvent(ctx context.Context, event string) {
	m.VADEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordFunctionCall records one function invocation with its outcome.
func (m *Metrics) RecordFunctionCall(ctx context.Context, function, status string) {
	m.FunctionCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("function", function),
			attribute.String("status", status),
		),
	)
}

// RecordDrop records one discarded message with the reason it was dropped.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.DroppedMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
