// Package stt defines the Transcriber interface for speech-to-text backends.
//
// Earshot transcribes whole utterance segments rather than live streams: the
// segmenter hands the orchestrator a complete PCM buffer, and exactly one
// transcription request is in flight at a time. The interface is therefore a
// single blocking call; the orchestrator provides the asynchrony.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Transcript is the result of transcribing one utterance segment.
type Transcript struct {
	// Text is the recognised utterance. May be empty if the segment
	// contained no intelligible speech.
	Text string

	// Confidence is the provider's recognition confidence (0.0–1.0), or 0
	// when the backend does not report one.
	Confidence float64

	// Audio is the duration of the PCM that produced this transcript.
	Audio time.Duration
}

// Transcriber converts a complete utterance segment to text.
type Transcriber interface {
	// Transcribe recognises pcm — canonical 16 kHz mono 16-bit little-endian
	// PCM — and returns the transcript. It blocks until recognition finishes
	// or ctx is cancelled.
	Transcribe(ctx context.Context, pcm []byte) (Transcript, error)
}
