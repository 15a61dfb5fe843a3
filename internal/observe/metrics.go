// Package observe provides application-wide observability primitives for
// webai: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all webai metrics.
const meterName = "github.com/MrWong99/webai"

// Message directions for [Metrics.RecordMessage].
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Segment outcomes for [Metrics.RecordSegment].
const (
	SegmentDispatched = "dispatched"
	SegmentDiscarded  = "discarded"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// LoadDuration tracks worker load time, including model downloads.
	LoadDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks time to the first LLM token.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency per sentence.
	TTSDuration metric.Float64Histogram

	// VLMDuration tracks vision-language inference latency.
	VLMDuration metric.Float64Histogram

	// DetectDuration tracks object detection latency.
	DetectDuration metric.Float64Histogram

	// TurnDuration tracks end-of-speech to first synthesized audio.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Messages counts protocol messages. Use with attributes:
	//   attribute.String("worker", ...), attribute.String("type", ...), attribute.String("direction", ...)
	Messages metric.Int64Counter

	// DroppedMessages counts inbound messages dropped on a full inbox.
	DroppedMessages metric.Int64Counter

	// Segments counts speech segments by outcome (dispatched, discarded).
	Segments metric.Int64Counter

	// FrameCache counts VLM frame cache lookups by result (hit, miss).
	FrameCache metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live worker connections.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// loadBuckets covers model downloads and warm-up, which take far longer than
// a single inference.
var loadBuckets = []float64{
	0.1, 0.5, 1, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LoadDuration, err = m.Float64Histogram("webai.worker.load.duration",
		metric.WithDescription("Time to load a worker's models."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(loadBuckets...),
	); err != nil {
		return nil, err
	}
	stages := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "webai.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "webai.llm.duration", "Latency to the first LLM token."},
		{&met.TTSDuration, "webai.tts.duration", "Latency of text-to-speech synthesis per sentence."},
		{&met.VLMDuration, "webai.vlm.duration", "Latency of vision-language inference."},
		{&met.DetectDuration, "webai.detect.duration", "Latency of object detection."},
		{&met.TurnDuration, "webai.turn.duration", "End of speech to first synthesized audio."},
	}
	for _, s := range stages {
		if *s.dst, err = m.Float64Histogram(s.name,
			metric.WithDescription(s.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("webai.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Messages, err = m.Int64Counter("webai.protocol.messages",
		metric.WithDescription("Total protocol messages by worker, type, and direction."),
	); err != nil {
		return nil, err
	}
	if met.DroppedMessages, err = m.Int64Counter("webai.protocol.dropped",
		metric.WithDescription("Inbound messages dropped because the worker inbox was full."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("webai.vad.segments",
		metric.WithDescription("Speech segments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FrameCache, err = m.Int64Counter("webai.vision.frame_cache",
		metric.WithDescription("VLM frame cache lookups by result."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("webai.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("webai.active_sessions",
		metric.WithDescription("Number of live worker sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("webai.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordMessage counts one protocol message.
func (m *Metrics) RecordMessage(ctx context.Context, worker, typ, direction string) {
	m.Messages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("worker", worker),
			attribute.String("type", typ),
			attribute.String("direction", direction),
		),
	)
}

// RecordDropped counts one inbound message dropped on a full inbox.
func (m *Metrics) RecordDropped(ctx context.Context, worker, typ string) {
	m.DroppedMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("worker", worker),
			attribute.String("type", typ),
		),
	)
}

// RecordSegment counts one speech segment with the given outcome.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordFrameCache counts one VLM frame cache lookup.
func (m *Metrics) RecordFrameCache(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.FrameCache.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
