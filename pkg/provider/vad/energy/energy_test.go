package energy_test

import (
	"testing"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/vad"
	"github.com/earshot-ai/earshot/pkg/provider/vad/energy"
)

// testConfig uses one-frame activation windows so state transitions are easy
// to step through.
func testConfig() vad.Config {
	return vad.Config{
		SampleRate:       16000,
		FrameMs:          20,
		SpeechThreshold:  1000,
		SilenceThreshold: 500,
		ActivationMs:     40,  // 2 frames
		HangoverMs:       60,  // 3 frames
		PrerollMs:        40,  // 2 frames
	}
}

// frameAt builds one canonical frame of constant-amplitude samples, whose RMS
// equals the amplitude.
func frameAt(amplitude int16) []byte {
	samples := make([]int16, audio.FrameSize/2)
	for i := range samples {
		samples[i] = amplitude
	}
	return audio.Int16ToBytes(samples)
}

type recorder struct {
	begins    int
	completes [][]byte
}

func (r *recorder) hooks() vad.Hooks {
	return vad.Hooks{
		OnSegmentBegin:    func() { r.begins++ },
		OnSegmentComplete: func(pcm []byte) { r.completes = append(r.completes, pcm) },
	}
}

func push(t *testing.T, s vad.SessionHandle, frame []byte, n int) {
	t.Helper()
	for range n {
		if err := s.PushFrame(frame); err != nil {
			t.Fatalf("PushFrame: %v", err)
		}
	}
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	e := energy.New()

	bad := testConfig()
	bad.SampleRate = 0
	if _, err := e.NewSession(bad, vad.Hooks{}); err == nil {
		t.Error("zero sample rate accepted")
	}

	bad = testConfig()
	bad.SilenceThreshold = bad.SpeechThreshold + 1
	if _, err := e.NewSession(bad, vad.Hooks{}); err == nil {
		t.Error("silence threshold above speech threshold accepted")
	}
}

func TestSilenceProducesNoEvents(t *testing.T) {
	t.Parallel()

	var rec recorder
	s, err := energy.New().NewSession(testConfig(), rec.hooks())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	push(t, s, frameAt(0), 50)
	if rec.begins != 0 || len(rec.completes) != 0 {
		t.Fatalf("events on pure silence: begins=%d completes=%d", rec.begins, len(rec.completes))
	}
}

func TestBeginBeforeComplete(t *testing.T) {
	t.Parallel()

	var rec recorder
	s, err := energy.New().NewSession(testConfig(), rec.hooks())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	push(t, s, frameAt(2000), 2) // activation: 2 speech frames
	if rec.begins != 1 {
		t.Fatalf("begins after activation = %d, want 1", rec.begins)
	}
	if len(rec.completes) != 0 {
		t.Fatal("complete fired before hangover")
	}

	push(t, s, frameAt(0), 3) // hangover: 3 silence frames
	if len(rec.completes) != 1 {
		t.Fatalf("completes after hangover = %d, want 1", len(rec.completes))
	}
}

func TestSegmentIncludesSpeechRun(t *testing.T) {
	t.Parallel()

	var rec recorder
	s, err := energy.New().NewSession(testConfig(), rec.hooks())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	const speechFrames = 10
	push(t, s, frameAt(2000), speechFrames)
	push(t, s, frameAt(0), 3)

	if len(rec.completes) != 1 {
		t.Fatalf("completes = %d, want 1", len(rec.completes))
	}
	// Activation run + continuation + hangover are all retained.
	minBytes := speechFrames * audio.FrameSize
	if got := len(rec.completes[0]); got < minBytes {
		t.Errorf("segment = %d bytes, want at least %d", got, minBytes)
	}
}

func TestPrerollRetained(t *testing.T) {
	t.Parallel()

	var rec recorder
	s, err := energy.New().NewSession(testConfig(), rec.hooks())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	// Quiet lead-in fills the 2-frame preroll ring, then speech.
	push(t, s, frameAt(100), 10)
	push(t, s, frameAt(2000), 2)
	push(t, s, frameAt(0), 3)

	if len(rec.completes) != 1 {
		t.Fatalf("completes = %d, want 1", len(rec.completes))
	}
	// 2 preroll + 2 activation + 3 hangover frames.
	want := 7 * audio.FrameSize
	if got := len(rec.completes[0]); got != want {
		t.Errorf("segment = %d bytes, want %d (preroll included)", got, want)
	}
}

func TestShortBurstFiltered(t *testing.T) {
	t.Parallel()

	var rec recorder
	s, err := energy.New().NewSession(testConfig(), rec.hooks())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	// A single loud frame is below the 2-frame activation run.
	push(t, s, frameAt(2000), 1)
	push(t, s, frameAt(0), 10)

	if rec.begins != 0 {
		t.Fatalf("begins after sub-activation burst = %d, want 0", rec.begins)
	}
}

func TestMidSegmentPauseDoesNotSplit(t *testing.T) {
	t.Parallel()

	var rec recorder
	s, err := energy.New().NewSession(testConfig(), rec.hooks())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	push(t, s, frameAt(2000), 3)
	push(t, s, frameAt(0), 2) // below the 3-frame hangover
	push(t, s, frameAt(2000), 3)
	push(t, s, frameAt(0), 3)

	if rec.begins != 1 || len(rec.completes) != 1 {
		t.Fatalf("begins=%d completes=%d, want one unbroken segment", rec.begins, len(rec.completes))
	}
}

func TestMaxSegmentForcesCompletion(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxSegmentMs = 200 // 10 frames

	var rec recorder
	s, err := energy.New().NewSession(cfg, rec.hooks())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	push(t, s, frameAt(2000), 40) // far beyond the cap, never silent
	if len(rec.completes) == 0 {
		t.Fatal("segment never completed despite MaxSegmentMs")
	}
}

func TestResetDiscardsOpenSegment(t *testing.T) {
	t.Parallel()

	var rec recorder
	s, err := energy.New().NewSession(testConfig(), rec.hooks())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	push(t, s, frameAt(2000), 3)
	s.Reset()
	push(t, s, frameAt(0), 10)

	if len(rec.completes) != 0 {
		t.Fatalf("completes after Reset = %d, want 0", len(rec.completes))
	}
}

func TestClosedSessionRejectsFrames(t *testing.T) {
	t.Parallel()

	s, err := energy.New().NewSession(testConfig(), vad.Hooks{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.PushFrame(frameAt(0)); err == nil {
		t.Fatal("PushFrame after Close succeeded")
	}
}

func TestWrongFrameSizeRejected(t *testing.T) {
	t.Parallel()

	s, err := energy.New().NewSession(testConfig(), vad.Hooks{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	if err := s.PushFrame(make([]byte, 10)); err == nil {
		t.Fatal("undersized frame accepted")
	}
}
