// Package wake defines the Gate interface for wake phrase detection.
//
// A wake gate inspects a completed speech segment and decides whether the
// configured wake phrase was spoken, gating which utterances the agent replies
// to. Implementations range from phonetic text matching over a transcription
// (see the phrase subpackage) to dedicated keyword-spotting models.
//
// Implementations must be safe for concurrent use.
package wake

import "context"

// Verdict is the outcome of evaluating a speech segment against the wake phrase.
type Verdict struct {
	// Match reports whether the wake phrase was detected.
	Match bool
	// Confidence is the detection score in [0, 1]. Zero when Match is false.
	Confidence float64
	// Heard is the text the gate believes was spoken, when the implementation
	// produces one. Empty for gates that work directly on audio.
	Heard string
}

// Gate is the abstraction over any wake phrase detector.
type Gate interface {
	// Evaluate decides whether the wake phrase occurs near the start of the
	// given speech segment. pcm is 16 kHz mono s16le audio. Returns an error
	// only when the gate itself fails (e.g., its transcription backend is
	// unreachable); an absent wake phrase is a Verdict with Match false, not
	// an error.
	Evaluate(ctx context.Context, pcm []byte) (Verdict, error)
}
