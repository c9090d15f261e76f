// Package pacer implements the frame-paced audio output scheduler.
//
// A Pacer owns a background loop that, once started, delivers exactly one
// canonical frame per tick to a caller-supplied sink, pulling real audio from
// an internal FIFO queue and substituting silence when the queue is empty.
// Downstream playback hardware therefore never starves and never receives
// bursty input, regardless of how irregularly producers enqueue audio.
//
// The loop is drift-corrected: it tracks expected elapsed time against a
// monotonic clock and sleeps only for the remaining delta, so the long-run
// average cadence converges to one frame per tick even under scheduler
// jitter. When the loop falls behind it catches up by not sleeping — it never
// skips or reorders frames.
package pacer

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// ErrAlreadyRunning is returned by [Pacer.Start] when the cadence loop is
// already active. A Pacer is restartable only after a full [Pacer.Stop].
var ErrAlreadyRunning = errors.New("pacer: already running")

// Sink receives one canonical frame per tick. A sink error is fatal to the
// cadence loop: no local recovery exists for a broken playback path, so the
// loop terminates and the error is retained for [Pacer.Err].
type Sink func(frame []byte) error

// TickHook observes every loop iteration: lag is how far the loop is behind
// its nominal cadence (zero or negative when on time), real reports whether a
// queued frame (as opposed to substituted silence) was emitted. Hooks run on
// the loop goroutine and must not block.
type TickHook func(lag time.Duration, real bool)

// Option configures a [Pacer] during construction.
type Option func(*Pacer)

// WithFrameDuration overrides the nominal tick interval. The default is
// [audio.FrameDuration] (20 ms). Tests use shorter ticks to keep wall-clock
// time down.
func WithFrameDuration(d time.Duration) Option {
	return func(p *Pacer) {
		if d > 0 {
			p.frameDur = d
		}
	}
}

// WithOnDrained registers fn to be called each time the queue transitions
// from holding real audio to empty. The notification fires at most once per
// continuous run of real audio: after the last real frame is emitted, when
// the buffer is reset mid-playback, or when the pacer is stopped with audio
// still pending. fn runs off the loop's critical section and must not call
// back into the Pacer.
func WithOnDrained(fn func()) Option {
	return func(p *Pacer) {
		p.onDrained = fn
	}
}

// WithTickHook registers a per-iteration observer, typically used to feed
// cadence metrics.
func WithTickHook(h TickHook) Option {
	return func(p *Pacer) {
		p.tick = h
	}
}

// Pacer emits silence-padded audio at a strict wall-clock cadence while
// allowing live filter injection. All exported methods are safe for
// concurrent use; the queue is multi-producer, with the loop goroutine as the
// sole consumer.
type Pacer struct {
	frameDur  time.Duration
	onDrained func()
	tick      TickHook

	mu      sync.Mutex
	queue   [][]byte          // FIFO of canonical frames awaiting playback
	pending bool              // real audio enqueued and not yet drained
	filter  audio.FrameFilter // single replaceable slot, last-writer-wins
	running bool
	err     error         // terminal sink error, if any
	cancel  chan struct{} // closed by Stop to end the loop
	done    chan struct{} // closed by the loop on exit
}

// New creates a Pacer. The cadence loop does not run until [Pacer.Start].
func New(opts ...Option) *Pacer {
	p := &Pacer{frameDur: audio.FrameDuration}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start begins the cadence loop, delivering one frame per tick to sink.
// It returns [ErrAlreadyRunning] if the loop is already active; call
// [Pacer.Stop] first to restart.
func (p *Pacer) Start(sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}
	p.running = true
	p.err = nil
	p.cancel = make(chan struct{})
	p.done = make(chan struct{})

	go p.loop(sink, p.cancel, p.done)
	return nil
}

// Enqueue splits pcm into canonical frames and appends them to the playback
// queue in order. A trailing partial frame is discarded (and logged) by
// [audio.SplitFrames]. Enqueueing at least one full frame marks audio as
// pending; the loop picks it up on its next tick.
func (p *Pacer) Enqueue(pcm []byte) {
	frames := audio.SplitFrames(pcm)
	if len(frames) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, frames...)
	p.pending = true
}

// ApplyFilter installs f as the frame filter. Only one filter is active at a
// time; the last writer wins. Compose with [audio.Chain] if multiple stages
// are needed.
func (p *Pacer) ApplyFilter(f audio.FrameFilter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter = f
}

// ClearFilter removes the installed frame filter, if any.
func (p *Pacer) ClearFilter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter = nil
}

// Reset atomically drains the playback queue. If real audio was pending and
// its drained notification had not yet fired, the notification fires
// immediately — a reset counts as completion. This is the interruption
// primitive: it hard-stops current speech without touching the cadence loop.
func (p *Pacer) Reset() {
	p.mu.Lock()
	p.queue = nil
	notify := p.pending
	p.pending = false
	p.mu.Unlock()

	if notify {
		p.notifyDrained()
	}
}

// Playing reports whether real audio is pending: true from the first real
// frame enqueued until the queue drains back to empty.
func (p *Pacer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Err returns the terminal sink error that ended the cadence loop, or nil.
func (p *Pacer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop cancels the cadence loop, waits for it to exit, drains the queue,
// clears the filter, and fires a final drained notification if one was
// outstanding. After Stop returns the Pacer may be started again.
func (p *Pacer) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	close(cancel)
	<-done

	p.mu.Lock()
	p.running = false
	p.queue = nil
	p.filter = nil
	notify := p.pending
	p.pending = false
	p.mu.Unlock()

	if notify {
		p.notifyDrained()
	}
}

// loop is the cadence goroutine. It runs until cancel is closed or the sink
// fails.
func (p *Pacer) loop(sink Sink, cancel, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	start := time.Now()
	var expected time.Duration

	for {
		select {
		case <-cancel:
			return
		default:
		}

		frame, real, drained := p.next()
		out := p.filtered(frame)

		if err := sink(out); err != nil {
			slog.Error("pacer: sink failed, playback stopped", "err", err)
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			return
		}

		// Fire the completion notification only after the last real frame
		// actually reached the sink.
		if drained {
			p.notifyDrained()
		}

		expected += p.frameDur
		delay := expected - time.Since(start)
		if p.tick != nil {
			p.tick(-delay, real)
		}
		if delay <= 0 {
			// Behind cadence: catch up by not sleeping. Frames are never
			// skipped to regain time.
			continue
		}
		timer.Reset(delay)
		select {
		case <-cancel:
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// next dequeues one frame, substituting silence when the queue is empty.
// drained is true when this call removed the last queued frame of a pending
// run of real audio.
func (p *Pacer) next() (frame []byte, real, drained bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		return audio.Silence(), false, false
	}

	frame = p.queue[0]
	p.queue = p.queue[1:]
	if len(p.queue) == 0 && p.pending {
		p.pending = false
		drained = true
	}
	return frame, true, drained
}

// filtered applies the installed filter to frame, recovering from a panic and
// falling back to the unfiltered frame. A filter must never be allowed to
// stall playback. A filter that returns a wrong-size frame is treated the
// same way.
func (p *Pacer) filtered(frame []byte) (out []byte) {
	p.mu.Lock()
	f := p.filter
	p.mu.Unlock()

	if f == nil {
		return frame
	}

	out = frame
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("pacer: filter panicked, emitting unfiltered frame", "panic", r)
			out = frame
		}
	}()

	if res := f(frame); len(res) == len(frame) {
		out = res
	} else {
		slog.Warn("pacer: filter returned wrong-size frame, emitting unfiltered frame",
			"got", len(res), "want", len(frame))
	}
	return out
}

// notifyDrained invokes the drained callback outside the pacer's lock.
func (p *Pacer) notifyDrained() {
	if p.onDrained != nil {
		p.onDrained()
	}
}
