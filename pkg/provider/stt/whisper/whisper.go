// Package whisper provides stt.Transcriber implementations backed by
// Whisper: [Server] talks to a whisper.cpp server (or any OpenAI-compatible
// transcription endpoint) over HTTP, and [Native] (native.go) runs the model
// in-process through the whisper.cpp CGO bindings.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
)

// Compile-time assertion that Server satisfies stt.Transcriber.
var _ stt.Transcriber = (*Server)(nil)

const defaultTimeout = 30 * time.Second

// Server implements stt.Transcriber against a whisper.cpp server's
// /inference endpoint. The segment PCM is wrapped in a WAV container and
// uploaded as multipart/form-data.
type Server struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithModel sets the model hint field sent with each request. Servers that
// load a single fixed model ignore it.
func WithModel(model string) Option {
	return func(s *Server) { s.model = model }
}

// WithLanguage sets the ISO 639-1 language hint (e.g., "en", "de").
// An empty value lets the server auto-detect.
func WithLanguage(lang string) Option {
	return func(s *Server) { s.language = lang }
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.httpClient = c }
}

// New creates a Server transcriber targeting the whisper server at baseURL
// (e.g., "http://localhost:8080").
func New(baseURL string, opts ...Option) (*Server, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: baseURL must not be empty")
	}
	s := &Server{
		serverURL:  baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Transcribe implements stt.Transcriber.
func (s *Server) Transcribe(ctx context.Context, pcm []byte) (stt.Transcript, error) {
	if len(pcm) == 0 {
		return stt.Transcript{}, errors.New("whisper: empty segment")
	}

	wav := audio.EncodeWAV(pcm, audio.SampleRate, audio.Channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if s.language != "" {
		if err := mw.WriteField("language", s.language); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := s.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return stt.Transcript{
		Text:  result.Text,
		Audio: audio.Duration(pcm),
	}, nil
}
