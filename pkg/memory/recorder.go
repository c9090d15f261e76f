package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/pkg/provider/embeddings"
)

const (
	defaultRecentLimit   = 12
	defaultTopK          = 4
	defaultRecordTimeout = 10 * time.Second
)

// RecorderOption is a functional option for [Recorder].
type RecorderOption func(*Recorder)

// WithRecentLimit sets how many recent turns Context returns. Default: 12.
func WithRecentLimit(n int) RecorderOption {
	return func(r *Recorder) { r.recentLimit = n }
}

// WithTopK sets how many semantically similar turns Context returns. Default: 4.
func WithTopK(k int) RecorderOption {
	return func(r *Recorder) { r.topK = k }
}

// WithRecordTimeout bounds each background Record write. Default: 10s.
func WithRecordTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.recordTimeout = d }
}

// Recorder writes conversation turns to a Store in the background and
// assembles recent plus semantically similar history for prompting.
//
// Record is fire-and-forget: it embeds and appends on its own goroutine so
// that persistence never delays the reply path. Failures are logged and
// dropped. All methods are safe for concurrent use.
type Recorder struct {
	store     Store
	embedder  embeddings.Provider // may be nil; turns are stored without embeddings
	sessionID string

	recentLimit   int
	topK          int
	recordTimeout time.Duration

	wg sync.WaitGroup
}

// NewRecorder creates a Recorder for the given session. embedder may be nil,
// in which case turns are stored without embeddings and Context skips the
// semantic search.
func NewRecorder(store Store, embedder embeddings.Provider, sessionID string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:         store,
		embedder:      embedder,
		sessionID:     sessionID,
		recentLimit:   defaultRecentLimit,
		topK:          defaultTopK,
		recordTimeout: defaultRecordTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record stores a turn asynchronously. It returns immediately; the write
// happens on a background goroutine with its own timeout.
func (r *Recorder) Record(role, text string) {
	if text == "" {
		return
	}
	turn := Turn{Role: role, Text: text, At: time.Now()}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.recordTimeout)
		defer cancel()

		if r.embedder != nil {
			vec, err := r.embedder.Embed(ctx, text)
			if err != nil {
				slog.Warn("memory: embed turn failed, storing without embedding",
					"role", role, "error", err)
			} else {
				turn.Embedding = vec
			}
		}
		if err := r.store.AppendTurn(ctx, r.sessionID, turn); err != nil {
			slog.Warn("memory: append turn failed", "role", role, "error", err)
		}
	}()
}

// Context returns recent session turns and, when an embedder is configured,
// past turns semantically similar to query. Either slice may be empty; a
// failing store or embedder degrades to less context rather than an error
// on the reply path, so errors here are for logging only.
func (r *Recorder) Context(ctx context.Context, query string) (recent []Turn, similar []TurnResult, err error) {
	recent, err = r.store.Recent(ctx, r.sessionID, r.recentLimit)
	if err != nil {
		return nil, nil, err
	}

	if r.embedder != nil && query != "" && r.topK > 0 {
		vec, embErr := r.embedder.Embed(ctx, query)
		if embErr != nil {
			slog.Warn("memory: embed query failed, skipping semantic recall", "error", embErr)
			return recent, nil, nil
		}
		similar, err = r.store.SearchSimilar(ctx, vec, r.topK)
		if err != nil {
			slog.Warn("memory: semantic search failed", "error", err)
			return recent, nil, nil
		}
	}
	return recent, similar, nil
}

// Flush blocks until all in-flight background writes have completed.
// Intended for shutdown and tests.
func (r *Recorder) Flush() {
	r.wg.Wait()
}
