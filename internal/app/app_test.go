package app_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/earshot-ai/earshot/internal/app"
	"github.com/earshot-ai/earshot/internal/config"
	"github.com/earshot-ai/earshot/pkg/audio"
	memorymock "github.com/earshot-ai/earshot/pkg/memory/mock"
	"github.com/earshot-ai/earshot/pkg/provider/llm"
	llmmock "github.com/earshot-ai/earshot/pkg/provider/llm/mock"
	sttmock "github.com/earshot-ai/earshot/pkg/provider/stt/mock"
	ttsmock "github.com/earshot-ai/earshot/pkg/provider/tts/mock"
	vadmock "github.com/earshot-ai/earshot/pkg/provider/vad/mock"
)

// stubSource feeds frames from a channel. Closing the channel ends the
// capture stream, the same way a dying arecord process would.
type stubSource struct {
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

func newStubSource() *stubSource {
	return &stubSource{frames: make(chan []byte, 64)}
}

func (s *stubSource) ReadFrame(buf []byte) error {
	f, ok := <-s.frames
	if !ok {
		return io.EOF
	}
	copy(buf, f)
	return nil
}

func (s *stubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func testConfig() *config.Config {
	return &config.Config{
		Agent: config.AgentConfig{
			Interruption: config.InterruptionDuck,
			DuckFactor:   0.2,
			SessionID:    "test-session",
			SystemPrompt: "You are a test agent.",
		},
		Audio: config.AudioConfig{
			SpeechThreshold:  500,
			SilenceThreshold: 200,
		},
	}
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Sure.", FinishReason: "stop"}}},
		STT: sttmock.NewText("do something"),
		TTS: &ttsmock.Provider{},
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestNewRequiresProviders(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), testConfig(), nil); err == nil {
		t.Error("expected error for nil providers")
	}
	if _, err := app.New(context.Background(), testConfig(), &app.Providers{}); err == nil {
		t.Error("expected error for empty providers")
	}
}

func TestRunEndsWhenCaptureEnds(t *testing.T) {
	t.Parallel()

	source := newStubSource()
	a, err := app.New(context.Background(), testConfig(), testProviders(),
		app.WithFrameSource(source),
		app.WithSink(func([]byte) error { return nil }),
		app.WithSegmenter(vadmock.New()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	source.frames <- audio.Silence()
	close(source.frames)

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Errorf("Run = %v, want wrapped io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after capture ended")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestRunRepliesThroughFullStack(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	llmMock := providers.LLM.(*llmmock.Provider)
	store := memorymock.New()
	engine := vadmock.New()
	source := newStubSource()

	a, err := app.New(context.Background(), testConfig(), providers,
		app.WithFrameSource(source),
		app.WithSink(func([]byte) error { return nil }),
		app.WithSegmenter(engine),
		app.WithStore(store),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	// Frames flow to the segmentation session Run opened.
	waitFor(t, func() bool { return engine.Last() != nil }, "segmentation session")
	source.frames <- audio.Silence()
	sess := engine.Last()
	waitFor(t, func() bool { return len(sess.Frames()) == 1 }, "frame delivery")

	// A completed segment drives a full reply.
	sess.EmitComplete(make([]byte, 10*audio.FrameSize))
	waitFor(t, func() bool { return llmMock.StreamCallCount() == 1 }, "completion request")

	req := llmMock.StreamCalls[0].Req
	if req.SystemPrompt != "You are a test agent." {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}

	close(source.frames)
	<-done

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	if turns := store.Turns("test-session"); len(turns) == 0 {
		t.Error("no turns recorded in the memory store")
	}
	if !source.Closed() {
		t.Error("frame source was not closed during shutdown")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), testProviders(),
		app.WithFrameSource(newStubSource()),
		app.WithSink(func([]byte) error { return nil }),
		app.WithSegmenter(vadmock.New()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("first Shutdown = %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown = %v", err)
	}
}
