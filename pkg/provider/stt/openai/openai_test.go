package openai

import (
	"context"
	"testing"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New("", "whisper-1"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNewDefaultsModel(t *testing.T) {
	t.Parallel()

	tr, err := New("test-key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.model != DefaultModel {
		t.Fatalf("model = %q, want %q", tr.model, DefaultModel)
	}
}

func TestTranscribeRejectsEmptySegment(t *testing.T) {
	t.Parallel()

	tr, err := New("test-key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Transcribe(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty segment")
	}
}
