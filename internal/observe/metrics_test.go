package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"earshot.stt.duration", m.STTDuration},
		{"earshot.llm.duration", m.LLMDuration},
		{"earshot.tts.duration", m.TTSDuration},
		{"earshot.segment.duration", m.SegmentDuration},
		{"earshot.pacer.lag", m.PacerLag},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordFrame_SplitsRealAndSilence(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, true, 0.001)
	m.RecordFrame(ctx, true, 0.001)
	m.RecordFrame(ctx, false, 0.001)

	rm := collect(t, reader)
	met := findMetric(rm, "earshot.pacer.frames")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("pacer.frames is not an int64 sum")
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 attribute series, got %d", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		real, _ := dp.Attributes.Value(attribute.Key("real"))
		switch real.AsBool() {
		case true:
			if dp.Value != 2 {
				t.Errorf("real frames = %d, want 2", dp.Value)
			}
		case false:
			if dp.Value != 1 {
				t.Errorf("silence frames = %d, want 1", dp.Value)
			}
		}
	}
}

func TestRecordWakeVerdict(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWakeVerdict(ctx, true)
	m.RecordWakeVerdict(ctx, false)
	m.RecordWakeVerdict(ctx, false)

	rm := collect(t, reader)
	met := findMetric(rm, "earshot.wake.verdicts")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("wake.verdicts is not an int64 sum")
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total verdicts = %d, want 3", total)
	}
}

func TestRecordReplyLifecycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RepliesStarted.Add(ctx, 1)
	m.RecordReplyDropped(ctx, "busy")
	m.RecordInterruption(ctx, "duck")
	m.RecordProviderError(ctx, "openai", "llm")

	rm := collect(t, reader)
	for _, name := range []string{
		"earshot.replies.started",
		"earshot.replies.dropped",
		"earshot.interruptions",
		"earshot.provider.errors",
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Errorf("metric %q not found", name)
			continue
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) == 0 {
			t.Errorf("metric %q has no data", name)
			continue
		}
		if sum.DataPoints[0].Value != 1 {
			t.Errorf("metric %q = %d, want 1", name, sum.DataPoints[0].Value)
		}
	}
}

func TestDefaultMetrics_SameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics should return the same instance")
	}
}
