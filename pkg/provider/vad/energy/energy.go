// Package energy implements a voice-activity segmenter based on per-frame
// RMS energy with activation and hangover smoothing.
//
// It is deliberately model-free: a frame is speech when its RMS exceeds the
// speech threshold, silence when it falls below the silence threshold, and a
// continuation of the current state in between. A segment opens after a
// configurable run of speech frames and closes after a run of trailing
// silence, with a short preroll ring so activation latency does not clip the
// first phonemes. It performs well in a close-mic desktop setting and keeps
// the pipeline runnable without any external model.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// Default smoothing parameters, applied when the corresponding Config field
// is zero.
const (
	DefaultActivationMs = 60
	DefaultHangoverMs   = 500
	DefaultPrerollMs    = 200
)

// Engine creates RMS energy segmentation sessions.
type Engine struct{}

// New returns an energy segmentation Engine.
func New() *Engine {
	return &Engine{}
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config, hooks vad.Hooks) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("energy: SampleRate must be positive")
	}
	if cfg.FrameMs <= 0 {
		return nil, errors.New("energy: FrameMs must be positive")
	}
	if cfg.SpeechThreshold <= 0 {
		return nil, errors.New("energy: SpeechThreshold must be positive")
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: SilenceThreshold %v exceeds SpeechThreshold %v",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}

	if cfg.ActivationMs <= 0 {
		cfg.ActivationMs = DefaultActivationMs
	}
	if cfg.HangoverMs <= 0 {
		cfg.HangoverMs = DefaultHangoverMs
	}
	if cfg.PrerollMs <= 0 {
		cfg.PrerollMs = DefaultPrerollMs
	}

	frameBytes := cfg.SampleRate / 1000 * cfg.FrameMs * 2
	s := &session{
		cfg:             cfg,
		hooks:           hooks,
		frameBytes:      frameBytes,
		activationCount: atLeastOne(cfg.ActivationMs / cfg.FrameMs),
		hangoverCount:   atLeastOne(cfg.HangoverMs / cfg.FrameMs),
		prerollFrames:   cfg.PrerollMs / cfg.FrameMs,
	}
	if cfg.MaxSegmentMs > 0 {
		s.maxSegmentBytes = cfg.SampleRate / 1000 * cfg.MaxSegmentMs * 2
	}
	return s, nil
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// session is a single-stream segmentation state machine. The mutex guards
// against a concurrent Reset/Close racing the capture goroutine; the
// detection state itself is only ever advanced by PushFrame.
type session struct {
	cfg        vad.Config
	hooks      vad.Hooks
	frameBytes int

	activationCount int // speech frames required to open a segment
	hangoverCount   int // silence frames required to close a segment
	prerollFrames   int // ring capacity retained ahead of the begin event
	maxSegmentBytes int // 0 = unlimited

	mu       sync.Mutex
	closed   bool
	active   bool     // a segment is open
	speech   int      // consecutive speech frames while idle
	silence  int      // consecutive silence frames while active
	preroll  [][]byte // recent frames preceding activation
	segment  []byte   // accumulated PCM for the open segment
	pendRun  [][]byte // speech frames seen while idle, pending activation
}

// PushFrame implements vad.SessionHandle.
func (s *session) PushFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("energy: session is closed")
	}
	if len(frame) != s.frameBytes {
		return fmt.Errorf("energy: frame size %d, want %d", len(frame), s.frameBytes)
	}

	rms := audio.RMS(frame)

	if s.active {
		s.segment = append(s.segment, frame...)

		if rms < s.cfg.SilenceThreshold {
			s.silence++
		} else if rms >= s.cfg.SpeechThreshold {
			s.silence = 0
		}

		if s.silence >= s.hangoverCount {
			s.completeLocked()
		} else if s.maxSegmentBytes > 0 && len(s.segment) >= s.maxSegmentBytes {
			s.completeLocked()
		}
		return nil
	}

	// Idle: watch for an activation run.
	if rms >= s.cfg.SpeechThreshold {
		s.speech++
		s.pendRun = append(s.pendRun, cloneFrame(frame))
		if s.speech >= s.activationCount {
			s.openLocked()
		}
		return nil
	}

	// The run broke before activation; the candidate frames fall back into
	// the preroll ring.
	for _, f := range s.pendRun {
		s.pushPreroll(f)
	}
	s.pendRun = nil
	s.speech = 0
	s.pushPreroll(cloneFrame(frame))
	return nil
}

// openLocked transitions to the active state and fires the begin hook.
func (s *session) openLocked() {
	s.active = true
	s.silence = 0

	// Segment starts with the preroll ring plus the activation run.
	s.segment = s.segment[:0]
	for _, f := range s.preroll {
		s.segment = append(s.segment, f...)
	}
	for _, f := range s.pendRun {
		s.segment = append(s.segment, f...)
	}
	s.preroll = s.preroll[:0]
	s.pendRun = nil
	s.speech = 0

	if s.hooks.OnSegmentBegin != nil {
		s.hooks.OnSegmentBegin()
	}
}

// completeLocked closes the open segment and fires the complete hook with
// the accumulated PCM.
func (s *session) completeLocked() {
	pcm := make([]byte, len(s.segment))
	copy(pcm, s.segment)

	s.active = false
	s.segment = s.segment[:0]
	s.silence = 0

	if s.hooks.OnSegmentComplete != nil {
		s.hooks.OnSegmentComplete(pcm)
	}
}

// pushPreroll appends f to the preroll ring, evicting the oldest frame when
// the ring is full.
func (s *session) pushPreroll(f []byte) {
	if s.prerollFrames == 0 {
		return
	}
	if len(s.preroll) >= s.prerollFrames {
		s.preroll = s.preroll[1:]
	}
	s.preroll = append(s.preroll, f)
}

// Reset implements vad.SessionHandle. An open segment is discarded without a
// complete event.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
	s.speech = 0
	s.silence = 0
	s.preroll = s.preroll[:0]
	s.pendRun = nil
	s.segment = s.segment[:0]
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.active = false
	s.segment = nil
	s.preroll = nil
	s.pendRun = nil
	return nil
}

func cloneFrame(f []byte) []byte {
	cp := make([]byte, len(f))
	copy(cp, f)
	return cp
}
