// Package audio provides the PCM frame primitives shared by the capture,
// pacing, and synthesis paths of the Earshot pipeline.
//
// All real-time scheduling operates on the canonical frame: 20 ms of 16 kHz
// mono 16-bit signed little-endian PCM, which is [FrameSize] bytes. Arbitrary
// PCM buffers (TTS chunks, capture reads) are cut into canonical frames with
// [SplitFrames] before they enter the playback queue.
package audio

import (
	"log/slog"
	"time"
)

const (
	// SampleRate is the canonical pipeline sample rate in Hz.
	SampleRate = 16000

	// Channels is the canonical channel count. The whole pipeline is mono.
	Channels = 1

	// FrameDuration is the wall-clock duration of one canonical frame.
	FrameDuration = 20 * time.Millisecond

	// FrameSize is the byte length of one canonical frame:
	// 16 kHz × 20 ms × 2 bytes per sample = 640.
	FrameSize = SampleRate / 1000 * 20 * 2
)

// silence is the shared all-zero canonical frame. It is never written to;
// consumers must treat frames as immutable.
var silence = make([]byte, FrameSize)

// Silence returns the shared zero-filled canonical frame. The returned slice
// must not be modified.
func Silence() []byte {
	return silence
}

// IsSilence reports whether frame contains only zero samples. A nil or empty
// frame counts as silence.
func IsSilence(frame []byte) bool {
	for _, b := range frame {
		if b != 0 {
			return false
		}
	}
	return true
}

// SplitFrames cuts pcm into canonical [FrameSize] frames, copying each frame
// so callers may reuse the input buffer. A trailing partial frame shorter than
// FrameSize is discarded and logged; it is never padded or carried over.
func SplitFrames(pcm []byte) [][]byte {
	n := len(pcm) / FrameSize
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		frame := make([]byte, FrameSize)
		copy(frame, pcm[i*FrameSize:(i+1)*FrameSize])
		frames = append(frames, frame)
	}
	if rem := len(pcm) % FrameSize; rem != 0 {
		slog.Debug("audio: discarding trailing partial frame", "bytes", rem)
	}
	return frames
}

// Duration returns the playback duration of a PCM buffer at the canonical
// format. Returns 0 for buffers shorter than one sample.
func Duration(pcm []byte) time.Duration {
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / SampleRate
}
