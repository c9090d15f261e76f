// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify that
// the correct VoiceProfile and text fragments are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/earshot-ai/earshot/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeChunks is the sequence of audio byte slices emitted on the channel
	// returned by SynthesizeStream after the text channel closes. Ignored when
	// ChunkForText is set.
	SynthesizeChunks [][]byte

	// ChunkForText, if non-nil, maps each received text fragment to an audio
	// chunk emitted immediately. This lets tests correlate synthesized audio
	// with the text that produced it.
	ChunkForText func(fragment string) []byte

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeStream
	// instead of starting a channel.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []SynthesizeStreamCall

	// Texts records, per SynthesizeStream call, the text fragments drained from
	// the input channel. Indexed in call order; read after the audio channel
	// closes.
	Texts [][]string
}

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// channel that emits audio chunks then closes once the text channel closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Voice: voice})
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	perText := p.ChunkForText
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Voice: voice})
	idx := len(p.SynthesizeStreamCalls) - 1
	p.Texts = append(p.Texts, nil)
	p.mu.Unlock()

	ch := make(chan []byte, 256)
	go func() {
		defer close(ch)
		for {
			select {
			case frag, ok := <-text:
				if !ok {
					for _, audio := range chunks {
						select {
						case <-ctx.Done():
							return
						case ch <- audio:
						}
					}
					return
				}
				p.mu.Lock()
				p.Texts[idx] = append(p.Texts[idx], frag)
				p.mu.Unlock()
				if perText != nil {
					select {
					case <-ctx.Done():
						return
					case ch <- perText(frag):
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// ReceivedTexts returns a copy of the fragments drained during the n-th
// SynthesizeStream call. Thread-safe.
func (p *Provider) ReceivedTexts(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 || n >= len(p.Texts) {
		return nil
	}
	out := make([]string, len(p.Texts[n]))
	copy(out, p.Texts[n])
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.Texts = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
