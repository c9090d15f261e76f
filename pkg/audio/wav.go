package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const wavHeaderSize = 44

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The result is suitable for multipart uploads to
// OpenAI-compatible transcription endpoints and for debug dumps.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], bps)                // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// WriteWAV writes pcm to w as a RIFF/WAV file.
func WriteWAV(w io.Writer, pcm []byte, sampleRate, channels int) error {
	if _, err := w.Write(EncodeWAV(pcm, sampleRate, channels)); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	return nil
}

// DumpSegment writes pcm as a timestamped canonical-format WAV file under dir,
// creating dir if needed, and returns the path of the file written. It is a
// diagnostic aid for inspecting what the segmenter handed to transcription;
// callers treat failures as best-effort.
func DumpSegment(dir string, pcm []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("audio: create dump dir: %w", err)
	}
	name := fmt.Sprintf("segment_%s.wav", time.Now().Format("20060102T150405.000"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("audio: create dump file: %w", err)
	}
	defer f.Close()

	if err := WriteWAV(f, pcm, SampleRate, Channels); err != nil {
		return "", err
	}
	return path, nil
}
