// Package mock provides a scripted stt.Transcriber for tests.
package mock

import (
	"context"
	"sync"

	"github.com/earshot-ai/earshot/pkg/provider/stt"
)

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber returns scripted transcripts in order and records every call.
// When the script is exhausted the last entry repeats; an empty script
// returns the zero Transcript.
type Transcriber struct {
	mu      sync.Mutex
	script  []stt.Transcript
	calls   [][]byte
	nextIdx int

	// Err, when non-nil, is returned by every Transcribe call.
	Err error

	// Delay, when non-nil, is waited on before returning, allowing tests to
	// hold a transcription in flight. Transcribe aborts if ctx ends first.
	Delay <-chan struct{}
}

// New creates a Transcriber that replies with the given transcripts in order.
func New(script ...stt.Transcript) *Transcriber {
	return &Transcriber{script: script}
}

// NewText is shorthand for a script of plain-text transcripts.
func NewText(texts ...string) *Transcriber {
	script := make([]stt.Transcript, len(texts))
	for i, s := range texts {
		script[i] = stt.Transcript{Text: s, Confidence: 1}
	}
	return New(script...)
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) (stt.Transcript, error) {
	t.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	t.calls = append(t.calls, cp)
	t.mu.Unlock()

	if t.Delay != nil {
		select {
		case <-t.Delay:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Err != nil {
		return stt.Transcript{}, t.Err
	}
	if len(t.script) == 0 {
		return stt.Transcript{}, nil
	}
	idx := t.nextIdx
	if idx >= len(t.script) {
		idx = len(t.script) - 1
	} else {
		t.nextIdx++
	}
	return t.script[idx], nil
}

// Calls returns the PCM buffers passed to Transcribe, in order.
func (t *Transcriber) Calls() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.calls))
	copy(out, t.calls)
	return out
}

// CallCount returns how many times Transcribe was invoked.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
