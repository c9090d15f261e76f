package audio

import "encoding/binary"

// FrameFilter transforms a single canonical frame before it is emitted by the
// pacer. Filters must be pure with respect to the input: the argument slice
// must not be retained or modified in place. Return the input unchanged for a
// pass-through.
//
// The pacer recovers from a panicking filter and emits the unfiltered frame,
// so a buggy filter degrades playback quality but never stalls it.
type FrameFilter func(frame []byte) []byte

// Duck returns a filter that attenuates playback volume by factor (0.0–1.0).
// Ducking keeps the agent audible underneath user speech during a potential
// barge-in, where a hard mute would sound like a dropout. Values outside the
// valid range are clamped.
func Duck(factor float64) FrameFilter {
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}
	return func(frame []byte) []byte {
		out := make([]byte, len(frame))
		for i := 0; i+1 < len(frame); i += 2 {
			sample := int16(binary.LittleEndian.Uint16(frame[i : i+2]))
			binary.LittleEndian.PutUint16(out[i:i+2], uint16(int16(float64(sample)*factor)))
		}
		return out
	}
}

// EchoTap returns a pass-through filter that hands a copy of every emitted
// frame to fn. Use it to feed an echo-cancellation reference with exactly the
// audio that reached the speaker. fn runs on the pacer loop and must not block.
func EchoTap(fn func(frame []byte)) FrameFilter {
	return func(frame []byte) []byte {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		fn(cp)
		return frame
	}
}

// Chain composes filters left to right into a single FrameFilter.
// Chain() returns a pass-through.
func Chain(filters ...FrameFilter) FrameFilter {
	return func(frame []byte) []byte {
		for _, f := range filters {
			frame = f(frame)
		}
		return frame
	}
}
