// Package mock provides an in-memory memory.Store for tests.
package mock

import (
	"context"
	"sync"

	"github.com/earshot-ai/earshot/pkg/memory"
)

// Compile-time assertion that Store satisfies memory.Store.
var _ memory.Store = (*Store)(nil)

// Store is an in-memory implementation of memory.Store. All methods are safe
// for concurrent use. Set the Err fields to inject failures.
type Store struct {
	mu    sync.Mutex
	turns map[string][]memory.Turn

	// AppendErr, if non-nil, is returned by AppendTurn.
	AppendErr error

	// RecentErr, if non-nil, is returned by Recent.
	RecentErr error

	// SearchErr, if non-nil, is returned by SearchSimilar.
	SearchErr error

	// SearchResults, if non-nil, is returned verbatim by SearchSimilar.
	SearchResults []memory.TurnResult
}

// New creates an empty Store.
func New() *Store {
	return &Store{turns: make(map[string][]memory.Turn)}
}

// AppendTurn implements memory.Store.
func (s *Store) AppendTurn(_ context.Context, sessionID string, turn memory.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

// Recent implements memory.Store.
func (s *Store) Recent(_ context.Context, sessionID string, limit int) ([]memory.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	all := s.turns[sessionID]
	if limit <= 0 || len(all) == 0 {
		return []memory.Turn{}, nil
	}
	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	out := make([]memory.Turn, len(all)-start)
	copy(out, all[start:])
	return out, nil
}

// SearchSimilar implements memory.Store. It returns SearchResults when set;
// otherwise the first topK embedded turns across all sessions, in insertion
// order with zero distance.
func (s *Store) SearchSimilar(_ context.Context, _ []float32, topK int) ([]memory.TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if s.SearchResults != nil {
		out := make([]memory.TurnResult, len(s.SearchResults))
		copy(out, s.SearchResults)
		return out, nil
	}
	var out []memory.TurnResult
	for _, turns := range s.turns {
		for _, t := range turns {
			if t.Embedding == nil {
				continue
			}
			out = append(out, memory.TurnResult{Turn: t})
			if len(out) == topK {
				return out, nil
			}
		}
	}
	return out, nil
}

// Turns returns a copy of all turns stored for the session, in order.
func (s *Store) Turns(sessionID string) []memory.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.Turn, len(s.turns[sessionID]))
	copy(out, s.turns[sessionID])
	return out
}
