package memory

import "context"

// Store is the abstraction over any turn storage backend.
//
// Implementations must be safe for concurrent use. Persistence is best-effort
// from the orchestrator's point of view: a failing Store must never gate the
// reply path, so callers typically log and drop Store errors.
type Store interface {
	// AppendTurn appends a turn to the session's history.
	AppendTurn(ctx context.Context, sessionID string, turn Turn) error

	// Recent returns up to limit turns for the session, ordered chronologically
	// (oldest first). A non-positive limit returns an empty slice.
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// SearchSimilar returns the topK stored turns whose embeddings are closest
	// (cosine distance) to the query embedding, most similar first. Turns stored
	// without an embedding are never returned.
	SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]TurnResult, error)
}
