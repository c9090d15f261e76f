// Package alsa provides microphone capture and speaker playback through the
// ALSA command-line tools arecord and aplay, speaking raw canonical PCM over
// their stdio pipes.
//
// Shelling out keeps the module free of cgo while still reaching real audio
// hardware on Linux. Both ends run at the pipeline canonical format, 16 kHz
// mono 16-bit little-endian.
package alsa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// DefaultDevice is the ALSA device name used when none is configured.
const DefaultDevice = "default"

// captureArgs builds the arecord argument list for raw canonical capture
// from device.
func captureArgs(device string) []string {
	return []string{
		"-q",
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(audio.SampleRate),
		"-c", "1",
		"-t", "raw",
		"-",
	}
}

// playbackArgs builds the aplay argument list for raw canonical playback to
// device.
func playbackArgs(device string) []string {
	return []string{
		"-q",
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(audio.SampleRate),
		"-c", "1",
		"-t", "raw",
		"-",
	}
}

// Capture streams canonical frames from a microphone via arecord. Not safe
// for concurrent use; a single capture goroutine owns it.
type Capture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu     sync.Mutex
	closed bool
}

// NewCapture starts an arecord process reading from device. The process is
// killed when ctx is cancelled or [Capture.Close] is called.
func NewCapture(ctx context.Context, device string) (*Capture, error) {
	if _, err := exec.LookPath("arecord"); err != nil {
		return nil, errors.New("alsa: arecord not found in PATH (install alsa-utils)")
	}
	if device == "" {
		device = DefaultDevice
	}

	cmd := exec.CommandContext(ctx, "arecord", captureArgs(device)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("alsa: open arecord stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("alsa: start arecord: %w", err)
	}
	return &Capture{cmd: cmd, stdout: stdout}, nil
}

// ReadFrame fills buf, which must be exactly one canonical frame, with the
// next frame of captured audio. Returns io.EOF (possibly wrapped) once the
// capture process exits.
func (c *Capture) ReadFrame(buf []byte) error {
	if len(buf) != audio.FrameSize {
		return fmt.Errorf("alsa: frame buffer is %d bytes, want %d", len(buf), audio.FrameSize)
	}
	if _, err := io.ReadFull(c.stdout, buf); err != nil {
		return fmt.Errorf("alsa: read capture frame: %w", err)
	}
	return nil
}

// Close kills the capture process and reaps it. Safe to call more than once.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
	return nil
}

// Playback streams canonical frames to a speaker via aplay. Write is safe
// for use as a pacer sink: the pacer loop is the sole writer.
type Playback struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu     sync.Mutex
	closed bool
}

// NewPlayback starts an aplay process writing to device. The process is
// killed when ctx is cancelled or [Playback.Close] is called.
func NewPlayback(ctx context.Context, device string) (*Playback, error) {
	if _, err := exec.LookPath("aplay"); err != nil {
		return nil, errors.New("alsa: aplay not found in PATH (install alsa-utils)")
	}
	if device == "" {
		device = DefaultDevice
	}

	cmd := exec.CommandContext(ctx, "aplay", playbackArgs(device)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("alsa: open aplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("alsa: start aplay: %w", err)
	}
	return &Playback{cmd: cmd, stdin: stdin}, nil
}

// Write sends one frame to the playback process. Matches the pacer.Sink
// signature.
func (p *Playback) Write(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("alsa: playback closed")
	}
	if _, err := p.stdin.Write(frame); err != nil {
		return fmt.Errorf("alsa: write playback frame: %w", err)
	}
	return nil
}

// Close closes the playback pipe so aplay drains buffered audio, then reaps
// the process. Safe to call more than once.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	_ = p.stdin.Close()
	_ = p.cmd.Wait()
	return nil
}
