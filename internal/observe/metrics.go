// Package observe provides Parley's observability primitives: OpenTelemetry
// metrics, distributed tracing, structured logging, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parleybot/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks language-model reply latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// Transcripts counts speaker transcripts produced by capture windows.
	// Use with attribute.String("guild_id", ...).
	Transcripts metric.Int64Counter

	// Wakes counts wake-word activations. Use with attributes:
	//   attribute.String("guild_id", ...), attribute.String("via", "voice"|"text")
	Wakes metric.Int64Counter

	// Replies counts finalized prompts answered. Use with attribute:
	//   attribute.String("guild_id", ...)
	Replies metric.Int64Counter

	// JoinRetries counts voice join attempts beyond the first, by close
	// code. Use with attribute.String("reason", ...).
	JoinRetries metric.Int64Counter

	// --- Gauges ---

	// VoiceConnections tracks the number of live voice connections.
	VoiceConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops-server request processing time. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("parley.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("parley.llm.duration",
		metric.WithDescription("Latency of language-model replies."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("parley.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Transcripts, err = m.Int64Counter("parley.transcripts",
		metric.WithDescription("Total speaker transcripts produced by capture windows."),
	); err != nil {
		return nil, err
	}
	if met.Wakes, err = m.Int64Counter("parley.wakes",
		metric.WithDescription("Total wake-word activations by guild and match kind."),
	); err != nil {
		return nil, err
	}
	if met.Replies, err = m.Int64Counter("parley.replies",
		metric.WithDescription("Total finalized prompts answered."),
	); err != nil {
		return nil, err
	}
	if met.JoinRetries, err = m.Int64Counter("parley.join.retries",
		metric.WithDescription("Total voice join retries by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.VoiceConnections, err = m.Int64UpDownCounter("parley.voice.connections",
		metric.WithDescription("Number of live voice connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("Ops HTTP request latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordTranscript records one produced transcript. No-op on nil.
func (m *Metrics) RecordTranscript(ctx context.Context, guildID string) {
	if m == nil {
		return
	}
	m.Transcripts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("guild_id", guildID)),
	)
}

// RecordWake records a wake-word activation. via names the surface the
// wake arrived on, "voice" or "text". No-op on nil.
func (m *Metrics) RecordWake(ctx context.Context, guildID, via string) {
	if m == nil {
		return
	}
	m.Wakes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("guild_id", guildID),
			attribute.String("via", via),
		),
	)
}

// RecordReply records one answered prompt. No-op on nil.
func (m *Metrics) RecordReply(ctx context.Context, guildID string) {
	if m == nil {
		return
	}
	m.Replies.Add(ctx, 1,
		metric.WithAttributes(attribute.String("guild_id", guildID)),
	)
}

// RecordJoinRetry records one voice join retry. No-op on nil.
func (m *Metrics) RecordJoinRetry(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.JoinRetries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// AddVoiceConnections moves the live-connection gauge by delta. No-op on
// nil.
func (m *Metrics) AddVoiceConnections(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.VoiceConnections.Add(ctx, delta)
}

// RecordHTTPRequest records one ops-server request on the HTTP latency
// histogram. No-op on nil.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordStageDuration records elapsed time on the named pipeline stage
// histogram ("stt", "llm" or "tts"). No-op on nil or an unknown stage.
func (m *Metrics) RecordStageDuration(ctx context.Context, stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	var h metric.Float64Histogram
	switch stage {
	case "stt":
		h = m.STTDuration
	case "llm":
		h = m.LLMDuration
	case "tts":
		h = m.TTSDuration
	default:
		return
	}
	h.Record(ctx, elapsed.Seconds())
}
