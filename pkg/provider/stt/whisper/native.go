// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
)

// Compile-time assertion that Native satisfies stt.Transcriber.
var _ stt.Transcriber = (*Native)(nil)

const defaultLanguage = "en"

// Native implements stt.Transcriber by running whisper.cpp in-process,
// eliminating HTTP overhead entirely. The model is loaded once at
// construction and shared across all Transcribe calls; each call creates its
// own whisper context, so concurrent transcriptions do not interfere.
type Native struct {
	language string

	mu     sync.Mutex
	model  whisperlib.Model
	closed bool
}

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the ISO 639-1 language code for transcription.
// Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the transcriber is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Transcribe implements stt.Transcriber.
func (n *Native) Transcribe(ctx context.Context, pcm []byte) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	if len(pcm) == 0 {
		return stt.Transcript{}, errors.New("whisper: empty segment")
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return stt.Transcript{}, errors.New("whisper: transcriber is closed")
	}
	wctx, err := n.model.NewContext()
	n.mu.Unlock()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(n.language); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: set language %q: %w", n.language, err)
	}

	samples := audio.BytesToFloat32(pcm)
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			break // io.EOF marks the end of the segment list
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.TrimSpace(segment.Text))
	}

	return stt.Transcript{
		Text:  sb.String(),
		Audio: audio.Duration(pcm),
	}, nil
}

// Close releases the whisper model. Calling Close more than once is safe.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.model.Close()
}
