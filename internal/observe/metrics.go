// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/earshot-ai/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Pacer ---

	// PacerFrames counts emitted output frames. Use with attribute:
	//   attribute.Bool("real", ...) — true for queued audio, false for silence.
	PacerFrames metric.Int64Counter

	// PacerLag tracks the pacer's scheduling lag per tick.
	PacerLag metric.Float64Histogram

	// --- Capture / segmentation ---

	// Segments counts completed speech segments.
	Segments metric.Int64Counter

	// SegmentDuration tracks the audio length of completed segments.
	SegmentDuration metric.Float64Histogram

	// WakeVerdicts counts wake gate evaluations. Use with attribute:
	//   attribute.Bool("match", ...)
	WakeVerdicts metric.Int64Counter

	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency (first request to stream end).
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Reply lifecycle counters ---

	// RepliesStarted counts replies that entered the pipeline.
	RepliesStarted metric.Int64Counter

	// RepliesDropped counts segments discarded because a reply was already in
	// flight. Use with attribute: attribute.String("reason", ...).
	RepliesDropped metric.Int64Counter

	// Interruptions counts user speech detected during playback. Use with
	// attribute: attribute.String("policy", ...).
	Interruptions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// lagBuckets defines histogram bucket boundaries (in seconds) for pacer
// scheduling lag, which should stay well under one frame duration (20ms).
var lagBuckets = []float64{
	0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Pacer instruments.
	if met.PacerFrames, err = m.Int64Counter("earshot.pacer.frames",
		metric.WithDescription("Total output frames emitted, real or silence."),
	); err != nil {
		return nil, err
	}
	if met.PacerLag, err = m.Float64Histogram("earshot.pacer.lag",
		metric.WithDescription("Pacer scheduling lag per tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lagBuckets...),
	); err != nil {
		return nil, err
	}

	// Capture instruments.
	if met.Segments, err = m.Int64Counter("earshot.segments",
		metric.WithDescription("Total completed speech segments."),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("earshot.segment.duration",
		metric.WithDescription("Audio length of completed speech segments."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.WakeVerdicts, err = m.Int64Counter("earshot.wake.verdicts",
		metric.WithDescription("Total wake gate evaluations by outcome."),
	); err != nil {
		return nil, err
	}

	// Pipeline latency histograms.
	if met.STTDuration, err = m.Float64Histogram("earshot.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("earshot.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("earshot.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Reply lifecycle counters.
	if met.RepliesStarted, err = m.Int64Counter("earshot.replies.started",
		metric.WithDescription("Total replies that entered the pipeline."),
	); err != nil {
		return nil, err
	}
	if met.RepliesDropped, err = m.Int64Counter("earshot.replies.dropped",
		metric.WithDescription("Total segments discarded while a reply was in flight."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("earshot.interruptions",
		metric.WithDescription("Total user interruptions during playback by policy."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("earshot.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
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

// RecordFrame records an emitted pacer frame and its scheduling lag.
func (m *Metrics) RecordFrame(ctx context.Context, real bool, lagSeconds float64) {
	m.PacerFrames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("real", real)))
	m.PacerLag.Record(ctx, lagSeconds)
}

// RecordSegment records a completed speech segment and its audio length.
func (m *Metrics) RecordSegment(ctx context.Context, seconds float64) {
	m.Segments.Add(ctx, 1)
	m.SegmentDuration.Record(ctx, seconds)
}

// RecordWakeVerdict records a wake gate evaluation outcome.
func (m *Metrics) RecordWakeVerdict(ctx context.Context, match bool) {
	m.WakeVerdicts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("match", match)))
}

// RecordReplyDropped records a segment discarded while a reply was in flight.
func (m *Metrics) RecordReplyDropped(ctx context.Context, reason string) {
	m.RepliesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordInterruption records user speech detected during playback.
func (m *Metrics) RecordInterruption(ctx context.Context, policy string) {
	m.Interruptions.Add(ctx, 1, metric.WithAttributes(attribute.String("policy", policy)))
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
