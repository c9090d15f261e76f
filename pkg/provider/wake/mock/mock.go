// Package mock provides a scripted wake.Gate for tests.
package mock

import (
	"context"
	"sync"

	"github.com/earshot-ai/earshot/pkg/provider/wake"
)

// Compile-time assertion that Gate satisfies wake.Gate.
var _ wake.Gate = (*Gate)(nil)

// Gate returns scripted verdicts in order and records every call.
// When the script is exhausted the last entry repeats; an empty script
// returns a non-matching Verdict.
type Gate struct {
	mu      sync.Mutex
	script  []wake.Verdict
	calls   [][]byte
	nextIdx int

	// Err, when non-nil, is returned by every Evaluate call.
	Err error
}

// New creates a Gate that replies with the given verdicts in order.
func New(script ...wake.Verdict) *Gate {
	return &Gate{script: script}
}

// Always creates a Gate whose every verdict matches with the given confidence.
func Always(confidence float64) *Gate {
	return New(wake.Verdict{Match: true, Confidence: confidence})
}

// Never creates a Gate that never matches.
func Never() *Gate {
	return New(wake.Verdict{})
}

// Evaluate implements wake.Gate.
func (g *Gate) Evaluate(_ context.Context, pcm []byte) (wake.Verdict, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	g.calls = append(g.calls, cp)

	if g.Err != nil {
		return wake.Verdict{}, g.Err
	}
	if len(g.script) == 0 {
		return wake.Verdict{}, nil
	}
	idx := g.nextIdx
	if idx >= len(g.script) {
		idx = len(g.script) - 1
	} else {
		g.nextIdx++
	}
	return g.script[idx], nil
}

// Calls returns the PCM buffers passed to Evaluate, in order.
func (g *Gate) Calls() [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([][]byte, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallCount returns how many times Evaluate was invoked.
func (g *Gate) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
