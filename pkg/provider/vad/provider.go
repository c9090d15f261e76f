// Package vad defines the Engine interface for voice-activity segmentation
// backends.
//
// A segmenter consumes a continuous stream of canonical capture frames and
// raises two events per detected utterance: segment-begin when speech opens
// and segment-complete with the accumulated raw PCM when it closes. Each
// session maintains its own detection state so multiple audio streams can be
// processed independently.
//
// Hook callbacks are invoked synchronously on whatever goroutine calls
// PushFrame — typically the capture thread. Handlers must therefore be
// non-blocking; the conversation orchestrator dispatches segment-complete
// work onto its own queue immediately.
package vad

// Config holds the parameters for a segmenter session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to PushFrame. The pipeline canonical rate is 16000.
	SampleRate int

	// FrameMs is the duration of each pushed frame in milliseconds.
	// PushFrame returns an error if the supplied frame does not match.
	FrameMs int

	// SpeechThreshold is the per-frame energy (RMS, PCM sample units) above
	// which a frame is classified as speech.
	SpeechThreshold float64

	// SilenceThreshold is the energy below which a frame is classified as
	// silence. Must be ≤ SpeechThreshold; the band between the two is treated
	// as a continuation of the current state.
	SilenceThreshold float64

	// ActivationMs is the minimum run of consecutive speech frames before a
	// segment opens. Filters out clicks and short noise bursts.
	ActivationMs int

	// HangoverMs is the run of trailing silence after which an open segment
	// completes. Keeps natural mid-utterance pauses inside one segment.
	HangoverMs int

	// PrerollMs is how much audio preceding the begin event is retained at
	// the head of the completed segment, so the first phonemes of an
	// utterance are not clipped by activation latency.
	PrerollMs int

	// MaxSegmentMs forces an open segment to complete after this much audio,
	// guarding against a stuck-open detector. Zero disables the cap.
	MaxSegmentMs int
}

// Hooks carries the event callbacks for one session. OnSegmentBegin fires
// when a segment opens; OnSegmentComplete fires exactly once per opened
// segment with the accumulated PCM (preroll included). A begin event is
// always observed before its matching complete event. Either hook may be nil.
type Hooks struct {
	OnSegmentBegin    func()
	OnSegmentComplete func(pcm []byte)
}

// SessionHandle represents an active segmentation session for a single audio
// stream. A SessionHandle must not be shared between goroutines unless the
// implementation documents otherwise.
type SessionHandle interface {
	// PushFrame analyses a single canonical frame. Frames must arrive in
	// capture order. Returns an error if the frame size does not match the
	// session configuration or the session is closed.
	PushFrame(frame []byte) error

	// Reset clears all accumulated detection state without closing the
	// session. Any open segment is discarded without a complete event.
	Reset()

	// Close releases the session. An open segment is discarded; no further
	// events fire. Calling Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for segmentation sessions. Implementations must be
// safe for concurrent use across sessions.
type Engine interface {
	// NewSession creates a session that reports events through hooks.
	// Returns an error if cfg is invalid.
	NewSession(cfg Config, hooks Hooks) (SessionHandle, error)
}
