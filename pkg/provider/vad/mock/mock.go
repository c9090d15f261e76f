// Package mock provides a scripted vad.Engine for tests. The test owns the
// event timeline: call [Session.EmitBegin] and [Session.EmitComplete] to fire
// the hooks that a real segmenter would drive from audio content.
package mock

import (
	"errors"
	"sync"

	"github.com/earshot-ai/earshot/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine records NewSession calls and hands out scripted sessions.
type Engine struct {
	mu       sync.Mutex
	sessions []*Session

	// NewSessionErr, when non-nil, is returned by NewSession.
	NewSessionErr error
}

// New creates a mock Engine.
func New() *Engine {
	return &Engine{}
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config, hooks vad.Hooks) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	s := &Session{cfg: cfg, hooks: hooks}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Sessions returns all sessions created so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, len(e.sessions))
	copy(out, e.sessions)
	return out
}

// Last returns the most recently created session, or nil.
func (e *Engine) Last() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

// Session is a scripted vad.SessionHandle.
type Session struct {
	cfg   vad.Config
	hooks vad.Hooks

	mu     sync.Mutex
	frames [][]byte
	resets int
	closed bool
}

// Config returns the configuration the session was created with.
func (s *Session) Config() vad.Config { return s.cfg }

// PushFrame implements vad.SessionHandle; it records the frame.
func (s *Session) PushFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock vad: session closed")
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
	return nil
}

// Frames returns all recorded frames.
func (s *Session) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// Resets returns how many times Reset was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// EmitBegin fires the session's OnSegmentBegin hook, synchronously, like a
// real segmenter would from the capture goroutine.
func (s *Session) EmitBegin() {
	if s.hooks.OnSegmentBegin != nil {
		s.hooks.OnSegmentBegin()
	}
}

// EmitComplete fires the session's OnSegmentComplete hook with pcm.
func (s *Session) EmitComplete(pcm []byte) {
	if s.hooks.OnSegmentComplete != nil {
		s.hooks.OnSegmentComplete(pcm)
	}
}
