// Package app wires all Earshot subsystems into a running agent.
//
// The App owns the full lifecycle: New creates and connects the subsystems,
// Run executes the capture loop until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithFrameSource,
// WithSink, WithSegmenter, WithStore, WithWakeGate). When an option is not
// provided, New and Run create real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/earshot-ai/earshot/internal/config"
	"github.com/earshot-ai/earshot/internal/convo"
	"github.com/earshot-ai/earshot/internal/health"
	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/audio/alsa"
	"github.com/earshot-ai/earshot/pkg/audio/pacer"
	"github.com/earshot-ai/earshot/pkg/memory"
	"github.com/earshot-ai/earshot/pkg/memory/postgres"
	"github.com/earshot-ai/earshot/pkg/provider/embeddings"
	"github.com/earshot-ai/earshot/pkg/provider/llm"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	"github.com/earshot-ai/earshot/pkg/provider/tts"
	"github.com/earshot-ai/earshot/pkg/provider/vad"
	"github.com/earshot-ai/earshot/pkg/provider/vad/energy"
	"github.com/earshot-ai/earshot/pkg/provider/wake"
	"github.com/earshot-ai/earshot/pkg/provider/wake/phrase"
)

// Providers holds one interface value per provider slot, populated by main
// via the config registry. LLM, STT, and TTS are required; Embeddings is
// optional and only enriches memory recall.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Transcriber
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// FrameSource delivers canonical capture frames, typically [alsa.Capture].
type FrameSource interface {
	// ReadFrame fills buf, which must be one canonical frame, with the next
	// captured frame.
	ReadFrame(buf []byte) error
	Close() error
}

// App owns all subsystem lifetimes for the Earshot voice agent.
type App struct {
	cfg       *config.Config
	providers *Providers

	pacer    *pacer.Pacer
	metrics  *observe.Metrics
	store    memory.Store
	recorder *memory.Recorder
	orch     *convo.Orchestrator

	// Injection slots; nil means Run creates the real thing.
	source    FrameSource
	sink      pacer.Sink
	segmenter vad.Engine
	gate      wake.Gate

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFrameSource injects a capture source instead of starting arecord.
func WithFrameSource(s FrameSource) Option {
	return func(a *App) { a.source = s }
}

// WithSink injects a playback sink instead of starting aplay.
func WithSink(s pacer.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithSegmenter injects a segmentation engine instead of the energy detector.
func WithSegmenter(e vad.Engine) Option {
	return func(a *App) { a.segmenter = e }
}

// WithStore injects a memory store instead of connecting to PostgreSQL.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithWakeGate injects a wake gate instead of building one from the
// configured wake phrase.
func WithWakeGate(g wake.Gate) Option {
	return func(a *App) { a.gate = g }
}

// New creates an App by wiring the non-IO subsystems together: telemetry,
// memory, the wake gate, and the pacer. Audio endpoints and the orchestrator
// are created in Run, where the lifetime context is available.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.STT == nil || providers.TTS == nil {
		return nil, errors.New("app: llm, stt, and tts providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	if err := a.initWakeGate(); err != nil {
		return nil, fmt.Errorf("app: init wake gate: %w", err)
	}

	if a.segmenter == nil {
		a.segmenter = energy.New()
	}

	a.pacer = pacer.New(pacer.WithTickHook(func(lag time.Duration, real bool) {
		if lag < 0 {
			lag = 0
		}
		a.metrics.RecordFrame(context.Background(), real, lag.Seconds())
	}))

	return a, nil
}

// initTelemetry installs the OTel meter provider with the Prometheus bridge
// when a metrics address is configured, then resolves the metrics instance.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.cfg.Telemetry.MetricsAddr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(sctx)
		})
	}
	a.metrics = observe.DefaultMetrics()
	return nil
}

// initMemory connects the PostgreSQL turn store when a DSN is configured and
// builds the recorder on top of whichever store is in place.
func (a *App) initMemory(ctx context.Context) error {
	if a.store == nil {
		dsn := a.cfg.Memory.PostgresDSN
		if dsn == "" {
			slog.Info("no memory store configured, replies carry no history")
			return nil
		}
		dims := a.cfg.Memory.EmbeddingDimensions
		if dims == 0 {
			dims = 1536 // matches OpenAI text-embedding-3-small
		}
		store, err := postgres.NewStore(ctx, dsn, dims)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}

	a.recorder = memory.NewRecorder(a.store, a.providers.Embeddings, a.cfg.Agent.SessionID)
	return nil
}

// initWakeGate builds the phrase gate from config unless one was injected.
func (a *App) initWakeGate() error {
	if a.gate != nil || a.cfg.Agent.WakePhrase == "" {
		return nil
	}
	g, err := phrase.New(a.providers.STT, a.cfg.Agent.WakePhrase)
	if err != nil {
		return err
	}
	a.gate = g
	return nil
}

// Run opens the audio endpoints, starts the orchestrator and the metrics
// server, and pumps capture frames until ctx is cancelled or the capture
// stream ends.
func (a *App) Run(ctx context.Context) error {
	sink := a.sink
	if sink == nil {
		playback, err := alsa.NewPlayback(ctx, a.cfg.Audio.PlaybackDevice)
		if err != nil {
			return fmt.Errorf("app: open playback: %w", err)
		}
		a.closers = append(a.closers, playback.Close)
		sink = playback.Write
	}

	source := a.source
	if source == nil {
		capture, err := alsa.NewCapture(ctx, a.cfg.Audio.CaptureDevice)
		if err != nil {
			return fmt.Errorf("app: open capture: %w", err)
		}
		source = capture
	}
	a.closers = append(a.closers, source.Close)

	orch, err := a.buildOrchestrator(sink)
	if err != nil {
		return fmt.Errorf("app: build orchestrator: %w", err)
	}
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("app: start orchestrator: %w", err)
	}
	a.orch = orch

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Telemetry.MetricsAddr != "" {
		g.Go(func() error {
			return a.serveMetrics(gctx)
		})
	}
	g.Go(func() error {
		return a.captureLoop(gctx, source)
	})

	slog.Info("earshot running",
		"wake_phrase", a.cfg.Agent.WakePhrase != "",
		"policy", a.cfg.Agent.Interruption,
		"memory", a.store != nil,
	)

	err = g.Wait()
	if cerr := orch.Close(); cerr != nil {
		slog.Warn("app: orchestrator close error", "err", cerr)
	}
	return err
}

// buildOrchestrator assembles the conversation loop from config and the
// resolved subsystems.
func (a *App) buildOrchestrator(sink pacer.Sink) (*convo.Orchestrator, error) {
	opts := []convo.Option{
		convo.WithPolicy(convo.Policy(a.cfg.Agent.Interruption)),
		convo.WithDuckFactor(a.cfg.Agent.DuckFactor),
		convo.WithSystemPrompt(a.cfg.Agent.SystemPrompt),
		convo.WithVoice(tts.VoiceProfile{ID: a.cfg.Agent.VoiceID}),
		convo.WithMetrics(a.metrics),
	}
	if a.gate != nil {
		opts = append(opts, convo.WithWakeGate(a.gate))
	}
	if a.recorder != nil {
		opts = append(opts, convo.WithRecorder(a.recorder))
	}
	if a.cfg.Agent.SegmentDumpDir != "" {
		opts = append(opts, convo.WithSegmentDumpDir(a.cfg.Agent.SegmentDumpDir))
	}

	return convo.New(convo.Deps{
		Pacer:     a.pacer,
		Sink:      sink,
		Segmenter: a.segmenter,
		VAD: vad.Config{
			SampleRate:       audio.SampleRate,
			FrameMs:          int(audio.FrameDuration / time.Millisecond),
			SpeechThreshold:  a.cfg.Audio.SpeechThreshold,
			SilenceThreshold: a.cfg.Audio.SilenceThreshold,
			ActivationMs:     a.cfg.Audio.ActivationMs,
			HangoverMs:       a.cfg.Audio.HangoverMs,
			PrerollMs:        a.cfg.Audio.PrerollMs,
			MaxSegmentMs:     a.cfg.Audio.MaxSegmentMs,
		},
		STT: a.providers.STT,
		LLM: a.providers.LLM,
		TTS: a.providers.TTS,
	}, opts...)
}

// captureLoop reads canonical frames from source and feeds the orchestrator
// until ctx ends or the capture stream closes.
func (a *App) captureLoop(ctx context.Context, source FrameSource) error {
	buf := make([]byte, audio.FrameSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := source.ReadFrame(buf); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("app: capture ended: %w", err)
		}
		if err := a.orch.PushFrame(buf); err != nil {
			if errors.Is(err, convo.ErrNotRunning) {
				return nil
			}
			slog.Warn("app: frame rejected", "err", err)
		}
	}
}

// serveMetrics runs the /metrics and health endpoints until ctx ends.
func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	checkers := []health.Checker{
		{Name: "pacer", Check: func(context.Context) error { return a.pacer.Err() }},
	}
	if a.store != nil {
		store := a.store
		sessionID := a.cfg.Agent.SessionID
		checkers = append(checkers, health.Checker{
			Name: "memory",
			Check: func(cctx context.Context) error {
				_, err := store.Recent(cctx, sessionID, 1)
				return err
			},
		})
	}
	health.New(checkers...).Register(mux)

	srv := &http.Server{Addr: a.cfg.Telemetry.MetricsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	slog.Info("metrics endpoint listening", "addr", a.cfg.Telemetry.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: metrics server: %w", err)
	}
	return nil
}

// Shutdown stops the orchestrator if Run has not already, flushes pending
// memory writes, and runs the closers in reverse order. It respects the
// context deadline: when ctx expires, remaining closers are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.orch != nil {
			if err := a.orch.Close(); err != nil {
				slog.Warn("orchestrator close error", "err", err)
			}
		}
		if a.recorder != nil {
			a.recorder.Flush()
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
