// Package convo implements the conversation orchestrator: the state machine
// that ties capture segmentation, wake gating, transcription, completion,
// synthesis, and paced playback into a single always-listening agent loop.
//
// The orchestrator enforces single-flight replies: at most one reply pipeline
// runs at a time, and a transcription that completes while another reply is in
// flight is dropped, not queued. User speech during playback is handled by one
// of two policies, duck (attenuate playback and keep going) or discard (treat
// the overlapping segment as suspected echo and never transcribe it).
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/audio/pacer"
	"github.com/earshot-ai/earshot/pkg/memory"
	"github.com/earshot-ai/earshot/pkg/provider/llm"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	"github.com/earshot-ai/earshot/pkg/provider/tts"
	"github.com/earshot-ai/earshot/pkg/provider/vad"
	"github.com/earshot-ai/earshot/pkg/provider/wake"
)

var (
	// ErrRunning is returned by Start when the orchestrator is already active.
	ErrRunning = errors.New("convo: already running")

	// ErrNotRunning is returned by PushFrame before Start or after Close.
	ErrNotRunning = errors.New("convo: not running")
)

// Policy selects how user speech detected during playback is handled.
type Policy string

const (
	// PolicyDuck attenuates ongoing playback while the user speaks and lets
	// the overlapping segment proceed through the reply pipeline. A new reply
	// hard-resets any still-playing audio before it starts speaking.
	PolicyDuck Policy = "duck"

	// PolicyDiscard flags segments that open during playback as suspected
	// echo and drops them before transcription. Playback continues unchanged.
	PolicyDiscard Policy = "discard"
)

// segQueueDepth bounds the segment-complete hand-off queue. The capture
// thread never blocks on it; a full queue drops the oldest pressure point,
// the newly completed segment.
const segQueueDepth = 8

// Deps carries the orchestrator's required collaborators. All fields must be
// non-nil (Sink non-nil, VAD valid for the segmenter).
type Deps struct {
	// Pacer is the frame-paced output scheduler. The orchestrator starts and
	// stops it.
	Pacer *pacer.Pacer

	// Sink receives paced output frames, typically a playback device.
	Sink pacer.Sink

	// Segmenter produces speech segments from the capture frame stream.
	Segmenter vad.Engine

	// VAD configures the segmentation session.
	VAD vad.Config

	STT stt.Transcriber
	LLM llm.Provider
	TTS tts.Provider
}

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithWakeGate enables wake-phrase gating: segments whose leading audio does
// not contain the wake phrase are discarded silently. Without a gate every
// segment proceeds to transcription.
func WithWakeGate(g wake.Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithPolicy selects the interruption policy. The default is [PolicyDuck].
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithDuckFactor sets the attenuation applied to playback while the user
// speaks under [PolicyDuck]. Must be in (0.0, 1.0]; the default is 0.2.
func WithDuckFactor(f float64) Option {
	return func(o *Orchestrator) { o.duckFactor = f }
}

// WithRecorder attaches a conversation memory recorder. Turns are recorded
// best-effort and recalled context is folded into each completion request.
func WithRecorder(r *memory.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithSegmentDumpDir enables fire-and-forget WAV dumps of accepted segments
// into dir for diagnostics.
func WithSegmentDumpDir(dir string) Option {
	return func(o *Orchestrator) { o.dumpDir = dir }
}

// WithVoice selects the synthesis voice.
func WithVoice(v tts.VoiceProfile) Option {
	return func(o *Orchestrator) { o.voice = v }
}

// WithSystemPrompt sets the system prompt injected into every completion.
func WithSystemPrompt(s string) Option {
	return func(o *Orchestrator) { o.systemPrompt = s }
}

// WithMetrics overrides the metrics instance, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// segment is one completed utterance handed from the capture thread to the
// worker. echo marks a segment that opened during playback under
// [PolicyDiscard].
type segment struct {
	pcm  []byte
	echo bool
}

// Orchestrator runs the agent loop. Create with [New], feed capture frames
// through [Orchestrator.PushFrame] between [Orchestrator.Start] and
// [Orchestrator.Close].
type Orchestrator struct {
	deps         Deps
	policy       Policy
	duckFactor   float64
	gate         wake.Gate
	recorder     *memory.Recorder
	dumpDir      string
	voice        tts.VoiceProfile
	systemPrompt string
	metrics      *observe.Metrics

	mu         sync.Mutex
	running    bool
	scope      context.Context
	cancel     context.CancelFunc
	session    vad.SessionHandle
	segCh      chan segment
	workerDone chan struct{}

	// processing is the reply lock: set while a reply pipeline is in flight.
	processing atomic.Bool

	// echoSuspect marks the currently open capture segment as overlapping
	// playback under PolicyDiscard. Swapped to false at segment-complete.
	echoSuspect atomic.Bool

	replies sync.WaitGroup
}

// New validates deps and builds an Orchestrator. The loop does not run until
// [Orchestrator.Start].
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Pacer == nil || deps.Sink == nil || deps.Segmenter == nil ||
		deps.STT == nil || deps.LLM == nil || deps.TTS == nil {
		return nil, errors.New("convo: all deps must be non-nil")
	}

	o := &Orchestrator{
		deps:       deps,
		policy:     PolicyDuck,
		duckFactor: 0.2,
	}
	for _, opt := range opts {
		opt(o)
	}

	switch o.policy {
	case PolicyDuck, PolicyDiscard:
	default:
		return nil, fmt.Errorf("convo: unknown interruption policy %q", o.policy)
	}
	if o.duckFactor <= 0 || o.duckFactor > 1 {
		return nil, fmt.Errorf("convo: duck factor %v out of range (0.0, 1.0]", o.duckFactor)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// Start opens the segmentation session, starts the pacer and the segment
// worker, and derives the cancellation scope for all reply work from ctx.
// Returns [ErrRunning] if already started.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return ErrRunning
	}

	scope, cancel := context.WithCancel(ctx)

	session, err := o.deps.Segmenter.NewSession(o.deps.VAD, vad.Hooks{
		OnSegmentBegin:    o.onSegmentBegin,
		OnSegmentComplete: o.onSegmentComplete,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("convo: open segmentation session: %w", err)
	}

	if err := o.deps.Pacer.Start(o.deps.Sink); err != nil {
		_ = session.Close()
		cancel()
		return fmt.Errorf("convo: start pacer: %w", err)
	}

	o.scope, o.cancel = scope, cancel
	o.session = session
	o.segCh = make(chan segment, segQueueDepth)
	o.workerDone = make(chan struct{})
	o.running = true

	go o.worker(scope, o.segCh, o.workerDone)

	slog.Info("convo: started",
		"policy", o.policy, "wake_gate", o.gate != nil, "memory", o.recorder != nil)
	return nil
}

// PushFrame feeds one canonical capture frame into the segmenter. Safe to
// call from a single capture goroutine. Returns [ErrNotRunning] outside the
// Start/Close window.
func (o *Orchestrator) PushFrame(frame []byte) error {
	o.mu.Lock()
	session, running := o.session, o.running
	o.mu.Unlock()

	if !running {
		return ErrNotRunning
	}
	return session.PushFrame(frame)
}

// Close shuts the loop down in order: the segmentation session stops
// producing events, the scope cancellation abandons in-flight reply work, and
// the pacer is reset and stopped so playback ends promptly. Safe to call more
// than once.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	session, cancel, workerDone := o.session, o.cancel, o.workerDone
	o.mu.Unlock()

	err := session.Close()
	cancel()
	<-workerDone
	o.replies.Wait()

	o.deps.Pacer.Reset()
	o.deps.Pacer.Stop()

	slog.Info("convo: stopped")
	if err != nil {
		return fmt.Errorf("convo: close segmentation session: %w", err)
	}
	return nil
}

// onSegmentBegin runs on the capture thread when speech opens. It must not
// block: it only flips state and installs the duck filter.
func (o *Orchestrator) onSegmentBegin() {
	if !o.deps.Pacer.Playing() {
		return
	}

	switch o.policy {
	case PolicyDuck:
		o.deps.Pacer.ApplyFilter(audio.Duck(o.duckFactor))
		slog.Debug("convo: user speech during playback, ducking")
	case PolicyDiscard:
		o.echoSuspect.Store(true)
		slog.Debug("convo: user speech during playback, flagging segment as echo")
	}
	o.metrics.RecordInterruption(context.Background(), string(o.policy))
}

// onSegmentComplete runs on the capture thread when a segment closes. It
// hands the PCM to the worker without blocking; a full queue drops the
// segment.
func (o *Orchestrator) onSegmentComplete(pcm []byte) {
	o.metrics.RecordSegment(context.Background(), audio.Duration(pcm).Seconds())

	if o.policy == PolicyDuck {
		o.deps.Pacer.ClearFilter()
	}
	echo := o.echoSuspect.Swap(false)

	select {
	case o.segCh <- segment{pcm: pcm, echo: echo}:
	default:
		slog.Warn("convo: segment queue full, dropping segment",
			"duration", audio.Duration(pcm))
		o.metrics.RecordReplyDropped(context.Background(), "queue_full")
	}
}

// worker serialises wake gating and transcription of completed segments.
// Replies themselves run on their own goroutine so a segment arriving during
// a reply can still be evaluated and dropped.
func (o *Orchestrator) worker(ctx context.Context, segCh <-chan segment, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case seg := <-segCh:
			o.handleSegment(ctx, seg)
		}
	}
}

// handleSegment takes one completed segment through echo suppression, wake
// gating, and transcription, then tries to acquire the reply lock.
func (o *Orchestrator) handleSegment(ctx context.Context, seg segment) {
	if seg.echo {
		slog.Debug("convo: dropping echo-suspect segment",
			"duration", audio.Duration(seg.pcm))
		o.metrics.RecordReplyDropped(ctx, "echo")
		return
	}

	if o.gate != nil {
		verdict, err := o.gate.Evaluate(ctx, seg.pcm)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Warn("convo: wake gate failed, dropping segment", "err", err)
			o.metrics.RecordProviderError(ctx, "wake", "evaluate")
			return
		}
		o.metrics.RecordWakeVerdict(ctx, verdict.Match)
		if !verdict.Match {
			slog.Debug("convo: no wake phrase, discarding segment",
				"heard", verdict.Heard, "confidence", verdict.Confidence)
			return
		}
		slog.Debug("convo: wake phrase matched", "confidence", verdict.Confidence)
	}

	if o.dumpDir != "" {
		go o.dumpSegment(seg.pcm)
	}

	start := time.Now()
	transcript, err := o.deps.STT.Transcribe(ctx, seg.pcm)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Warn("convo: transcription failed, dropping segment", "err", err)
		o.metrics.RecordProviderError(ctx, "stt", "transcribe")
		return
	}
	o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())

	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		slog.Debug("convo: empty transcription, discarding segment")
		return
	}

	// Under discard, a transcription landing while playback is still running
	// is treated the same as its segment would have been: suspected echo.
	if o.policy == PolicyDiscard && o.deps.Pacer.Playing() {
		slog.Debug("convo: transcription arrived during playback, discarding", "text", text)
		o.metrics.RecordReplyDropped(ctx, "playback")
		return
	}

	if !o.processing.CompareAndSwap(false, true) {
		slog.Info("convo: reply in flight, dropping transcription", "text", text)
		o.metrics.RecordReplyDropped(ctx, "busy")
		return
	}

	o.replies.Add(1)
	go o.reply(ctx, text)
}

// reply runs the completion and synthesis pipeline for one transcription and
// releases the reply lock when it finishes, however it finishes. Pipeline
// errors end the reply silently, the agent just does not speak.
func (o *Orchestrator) reply(ctx context.Context, text string) {
	defer o.replies.Done()
	defer o.processing.Store(false)

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.metrics.RepliesStarted.Add(rctx, 1)
	slog.Info("convo: reply started", "text", text)

	req := o.buildRequest(rctx, text)
	if o.recorder != nil {
		o.recorder.Record("user", text)
	}

	llmStart := time.Now()
	chunks, err := o.deps.LLM.StreamCompletion(rctx, req)
	if err != nil {
		slog.Warn("convo: completion request failed", "err", err)
		o.metrics.RecordProviderError(rctx, "llm", "stream")
		return
	}

	textCh := make(chan string, 4)
	audioCh, err := o.deps.TTS.SynthesizeStream(rctx, textCh, o.voice)
	if err != nil {
		slog.Warn("convo: synthesis request failed", "err", err)
		o.metrics.RecordProviderError(rctx, "tts", "stream")
		cancel()
		for range chunks {
		}
		return
	}

	// A barge-in reply replaces whatever is still playing.
	if o.policy == PolicyDuck && o.deps.Pacer.Playing() {
		o.deps.Pacer.Reset()
	}

	var full, errMsg string
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		defer close(textCh)
		full, errMsg = forwardSentences(rctx, chunks, textCh)
		if errMsg != "" {
			cancel()
		}
	}()

	ttsStart := time.Now()
	for pcm := range audioCh {
		if rctx.Err() != nil {
			continue // drain after abandonment
		}
		o.deps.Pacer.Enqueue(pcm)
	}
	<-forwardDone

	o.metrics.LLMDuration.Record(rctx, time.Since(llmStart).Seconds())
	o.metrics.TTSDuration.Record(rctx, time.Since(ttsStart).Seconds())

	if errMsg != "" {
		slog.Warn("convo: completion stream failed, abandoning reply", "err", errMsg)
		o.metrics.RecordProviderError(rctx, "llm", "stream")
		o.deps.Pacer.Reset()
		return
	}
	if ctx.Err() != nil {
		return
	}

	if o.recorder != nil && full != "" {
		o.recorder.Record("assistant", full)
	}
	slog.Info("convo: reply spoken", "chars", len(full))
}

// buildRequest assembles the completion request: system prompt, recalled
// memory when a recorder is attached, then the user's utterance.
func (o *Orchestrator) buildRequest(ctx context.Context, text string) llm.CompletionRequest {
	req := llm.CompletionRequest{SystemPrompt: o.systemPrompt}

	if o.recorder != nil {
		recent, similar, err := o.recorder.Context(ctx, text)
		if err != nil {
			slog.Warn("convo: memory recall failed, replying without history", "err", err)
		} else {
			if len(similar) > 0 {
				var b strings.Builder
				b.WriteString(req.SystemPrompt)
				b.WriteString("\n\nEarlier conversation that may be relevant:\n")
				for _, r := range similar {
					fmt.Fprintf(&b, "- %s: %s\n", r.Turn.Role, r.Turn.Text)
				}
				req.SystemPrompt = b.String()
			}
			for _, t := range recent {
				req.Messages = append(req.Messages, llm.Message{Role: t.Role, Content: t.Text})
			}
		}
	}

	req.Messages = append(req.Messages, llm.Message{Role: "user", Content: text})
	return req
}

// dumpSegment writes an accepted segment to the dump directory. Failures are
// logged and otherwise ignored; diagnostics never gate the reply path.
func (o *Orchestrator) dumpSegment(pcm []byte) {
	path, err := audio.DumpSegment(o.dumpDir, pcm)
	if err != nil {
		slog.Warn("convo: segment dump failed", "err", err)
		return
	}
	slog.Debug("convo: segment dumped", "path", path, "duration", audio.Duration(pcm))
}
