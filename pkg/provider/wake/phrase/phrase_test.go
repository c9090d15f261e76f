package phrase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	sttmock "github.com/earshot-ai/earshot/pkg/provider/stt/mock"
)

func gateWithTranscript(t *testing.T, text string, opts ...Option) *Gate {
	t.Helper()
	tr := sttmock.New(stt.Transcript{Text: text, Confidence: 0.9})
	g, err := New(tr, "hey earshot", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func segment(frames int) []byte {
	return make([]byte, frames*audio.FrameSize)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tr := sttmock.New()
	if _, err := New(nil, "hey earshot"); err == nil {
		t.Error("expected error for nil transcriber")
	}
	if _, err := New(tr, "   "); err == nil {
		t.Error("expected error for empty wake phrase")
	}
}

func TestEvaluate_ExactPhrase(t *testing.T) {
	t.Parallel()

	g := gateWithTranscript(t, "Hey Earshot, what's the weather?")
	v, err := g.Evaluate(context.Background(), segment(100))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.Match {
		t.Fatal("expected match for exact wake phrase")
	}
	if v.Confidence < 0.9 {
		t.Errorf("expected high confidence, got %f", v.Confidence)
	}
	if v.Heard == "" {
		t.Error("expected Heard to carry the transcript")
	}
}

func TestEvaluate_PhoneticVariant(t *testing.T) {
	t.Parallel()

	// A transcriber mishearing "earshot" as "ear shot" should still match.
	g := gateWithTranscript(t, "hey ear shot turn on the lights")
	v, err := g.Evaluate(context.Background(), segment(100))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.Match {
		t.Error("expected match for phonetic variant")
	}
}

func TestEvaluate_NoWakePhrase(t *testing.T) {
	t.Parallel()

	g := gateWithTranscript(t, "the quick brown fox jumps over")
	v, err := g.Evaluate(context.Background(), segment(100))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Match {
		t.Errorf("expected no match, got confidence %f", v.Confidence)
	}
	if v.Confidence != 0 {
		t.Errorf("expected zero confidence without a match, got %f", v.Confidence)
	}
}

func TestEvaluate_PhraseBeyondLeadingWords(t *testing.T) {
	t.Parallel()

	// The phrase appears past the leading-word limit and must not gate the reply.
	g := gateWithTranscript(t, "one two three four five six hey earshot",
		WithMaxLeadingWords(4))
	v, err := g.Evaluate(context.Background(), segment(100))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Match {
		t.Error("expected no match when phrase is past the leading words")
	}
}

func TestEvaluate_TranscriberError(t *testing.T) {
	t.Parallel()

	tr := sttmock.New()
	tr.Err = errors.New("backend down")
	g, err := New(tr, "hey earshot")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Evaluate(context.Background(), segment(10)); err == nil {
		t.Error("expected error when the transcriber fails")
	}
}

func TestEvaluate_OnlyHeadTranscribed(t *testing.T) {
	t.Parallel()

	tr := sttmock.NewText("hey earshot")
	g, err := New(tr, "hey earshot", WithHeadDuration(1*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 5 seconds of audio; only the first second should reach the transcriber.
	if _, err := g.Evaluate(context.Background(), segment(250)); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	calls := tr.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 transcription call, got %d", len(calls))
	}
	wantBytes := 50 * audio.FrameSize // 1s at 20ms frames
	if len(calls[0]) != wantBytes {
		t.Errorf("expected %d head bytes, got %d", wantBytes, len(calls[0]))
	}
}

func TestMatchText_EmptyTranscript(t *testing.T) {
	t.Parallel()

	g := gateWithTranscript(t, "")
	if score, ok := g.matchText("   "); ok || score != 0 {
		t.Errorf("expected no match for blank text, got %f %v", score, ok)
	}
}
