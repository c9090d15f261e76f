package audio_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
)

func TestFrameConstants(t *testing.T) {
	t.Parallel()

	if audio.FrameSize != 640 {
		t.Fatalf("FrameSize = %d, want 640", audio.FrameSize)
	}
	if audio.FrameDuration != 20*time.Millisecond {
		t.Fatalf("FrameDuration = %v, want 20ms", audio.FrameDuration)
	}
}

func TestSilenceFrame(t *testing.T) {
	t.Parallel()

	s := audio.Silence()
	if len(s) != audio.FrameSize {
		t.Fatalf("silence frame size = %d, want %d", len(s), audio.FrameSize)
	}
	if !audio.IsSilence(s) {
		t.Fatal("Silence() is not recognised by IsSilence")
	}
	if audio.IsSilence([]byte{0, 0, 1, 0}) {
		t.Fatal("IsSilence reported true for non-zero samples")
	}
}

func TestSplitFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		inBytes int
		want    int
	}{
		{"empty", 0, 0},
		{"sub-frame", audio.FrameSize - 1, 0},
		{"exact", audio.FrameSize, 1},
		{"five frames", 5 * audio.FrameSize, 5},
		{"five and a partial", 5*audio.FrameSize + 100, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := audio.SplitFrames(make([]byte, tt.inBytes))
			if len(frames) != tt.want {
				t.Errorf("SplitFrames(%d bytes) = %d frames, want %d", tt.inBytes, len(frames), tt.want)
			}
			for i, f := range frames {
				if len(f) != audio.FrameSize {
					t.Errorf("frame %d size = %d, want %d", i, len(f), audio.FrameSize)
				}
			}
		})
	}
}

func TestSplitFramesCopies(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, audio.FrameSize)
	pcm[0] = 0x11
	frames := audio.SplitFrames(pcm)
	pcm[0] = 0x99
	if frames[0][0] != 0x11 {
		t.Fatal("SplitFrames aliases the input buffer")
	}
}

func TestInt16RoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	got := audio.BytesToInt16(audio.Int16ToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("round trip length = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToFloat32(t *testing.T) {
	t.Parallel()

	pcm := audio.Int16ToBytes([]int16{0, 16384, -32768})
	f := audio.BytesToFloat32(pcm)
	if f[0] != 0 {
		t.Errorf("f[0] = %v, want 0", f[0])
	}
	if f[1] != 0.5 {
		t.Errorf("f[1] = %v, want 0.5", f[1])
	}
	if f[2] != -1.0 {
		t.Errorf("f[2] = %v, want -1.0", f[2])
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}

	constant := make([]int16, 160)
	for i := range constant {
		constant[i] = 1000
	}
	got := audio.RMS(audio.Int16ToBytes(constant))
	if got < 999 || got > 1001 {
		t.Errorf("RMS(constant 1000) = %v, want about 1000", got)
	}
}

func TestDuckClampsFactor(t *testing.T) {
	t.Parallel()

	frame := audio.Int16ToBytes([]int16{1000, -1000})
	if got := audio.BytesToInt16(audio.Duck(-1)(frame)); got[0] != 0 || got[1] != 0 {
		t.Errorf("Duck(-1) = %v, want full mute", got)
	}
	if got := audio.BytesToInt16(audio.Duck(5)(frame)); got[0] != 1000 || got[1] != -1000 {
		t.Errorf("Duck(5) = %v, want unchanged", got)
	}
}

func TestEchoTapCopies(t *testing.T) {
	t.Parallel()

	var tapped []byte
	tap := audio.EchoTap(func(frame []byte) { tapped = frame })

	frame := audio.Int16ToBytes([]int16{42})
	out := tap(frame)
	if !bytes.Equal(out, frame) {
		t.Fatal("EchoTap altered the frame")
	}
	frame[0] = 0x7f
	if tapped[0] == 0x7f {
		t.Fatal("EchoTap handed out an aliased frame")
	}
}

func TestChain(t *testing.T) {
	t.Parallel()

	add := func(delta int16) audio.FrameFilter {
		return func(frame []byte) []byte {
			samples := audio.BytesToInt16(frame)
			for i := range samples {
				samples[i] += delta
			}
			return audio.Int16ToBytes(samples)
		}
	}
	out := audio.BytesToInt16(audio.Chain(add(1), add(2))(audio.Int16ToBytes([]int16{0})))
	if out[0] != 3 {
		t.Fatalf("chained filters produced %d, want 3", out[0])
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 320)
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate field = %d, want 16000", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Errorf("data size field = %d, want %d", size, len(pcm))
	}
}

func TestDumpSegment(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "segments")
	pcm := make([]byte, audio.FrameSize)

	path, err := audio.DumpSegment(dir, pcm)
	if err != nil {
		t.Fatalf("DumpSegment: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "segment_") {
		t.Errorf("unexpected dump file name %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	if len(data) != 44+len(pcm) {
		t.Errorf("dump size = %d, want %d", len(data), 44+len(pcm))
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	if got := audio.Duration(make([]byte, audio.FrameSize)); got != audio.FrameDuration {
		t.Errorf("Duration(one frame) = %v, want %v", got, audio.FrameDuration)
	}
}
