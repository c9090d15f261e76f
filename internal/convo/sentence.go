package convo

import (
	"context"
	"strings"

	"github.com/earshot-ai/earshot/pkg/provider/llm"
)

// forwardSentences reads token chunks from ch, accumulates them into complete
// sentences, and writes each sentence to textCh for streaming synthesis. Any
// text remaining when the stream ends is flushed as a final fragment.
//
// It returns the full accumulated reply text and, when the stream ended with
// an "error" finish reason, the provider's error message. Callers close
// textCh themselves once forwardSentences returns.
func forwardSentences(ctx context.Context, ch <-chan llm.Chunk, textCh chan<- string) (full string, errMsg string) {
	var buf strings.Builder
	var all strings.Builder

	flush := func(s string) bool {
		select {
		case textCh <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return all.String(), ""
		case chunk, ok := <-ch:
			if !ok {
				// Channel closed: flush remaining text.
				if buf.Len() > 0 {
					flush(buf.String())
				}
				return all.String(), ""
			}

			if chunk.FinishReason == "error" {
				// The provider signals stream failure as a final chunk whose
				// text carries the error message. Nothing buffered is spoken.
				return all.String(), errText(chunk.Text)
			}

			if chunk.Text != "" {
				buf.WriteString(chunk.Text)
				all.WriteString(chunk.Text)
			}

			// Flush complete sentences eagerly for lower TTS latency.
			for {
				idx := firstSentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := buf.String()[idx+1:]
				buf.Reset()
				buf.WriteString(strings.TrimLeft(rest, " \t\n\r"))
				if !flush(sentence) {
					return all.String(), ""
				}
			}

			// On the final chunk, flush any remaining partial sentence.
			if chunk.FinishReason != "" {
				if buf.Len() > 0 {
					flush(buf.String())
				}
				return all.String(), ""
			}
		}
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// character that is immediately followed by a whitespace character (' ', '\n',
// '\r', or '\t'). Returns -1 if no such boundary exists in s.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// errText normalises an empty provider error message.
func errText(s string) string {
	if s == "" {
		return "stream failed"
	}
	return s
}
