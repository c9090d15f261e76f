// Package postgres provides a PostgreSQL-backed implementation of the
// conversation memory store using pgx and pgvector.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.AppendTurn(ctx, sessionID, turn)
//	recent, _ := store.Recent(ctx, sessionID, 12)
//	similar, _ := store.SearchSimilar(ctx, queryVec, 4)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/earshot-ai/earshot/pkg/memory"
)

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// Store is the PostgreSQL-backed conversation memory store. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the required table and extension exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [memory.Turn.Embedding] values (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// AppendTurn implements [memory.Store].
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn memory.Turn) error {
	const q = `
		INSERT INTO turns (session_id, role, text, embedding, at)
		VALUES ($1, $2, $3, $4, $5)`

	var vec any
	if turn.Embedding != nil {
		vec = pgvector.NewVector(turn.Embedding)
	}
	_, err := s.pool.Exec(ctx, q, sessionID, turn.Role, turn.Text, vec, turn.At)
	if err != nil {
		return fmt.Errorf("postgres store: append turn: %w", err)
	}
	return nil
}

// Recent implements [memory.Store]. It returns the newest limit turns for the
// session, ordered chronologically (oldest first).
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]memory.Turn, error) {
	if limit <= 0 {
		return []memory.Turn{}, nil
	}

	const q = `
		SELECT role, text, embedding, at
		FROM   (SELECT role, text, embedding, at
		        FROM   turns
		        WHERE  session_id = $1
		        ORDER  BY at DESC, id DESC
		        LIMIT  $2) newest
		ORDER  BY at, role`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	return turns, nil
}

// SearchSimilar implements [memory.Store]. It finds the topK turns whose
// embeddings are closest (cosine distance) to the query embedding, most
// similar first. Turns stored without an embedding are excluded.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]memory.TurnResult, error) {
	const q = `
		SELECT role, text, embedding, at, embedding <=> $1 AS distance
		FROM   turns
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search similar: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.TurnResult, error) {
		var (
			tr  memory.TurnResult
			vec pgvector.Vector
		)
		if err := row.Scan(&tr.Turn.Role, &tr.Turn.Text, &vec, &tr.Turn.At, &tr.Distance); err != nil {
			return memory.TurnResult{}, err
		}
		tr.Turn.Embedding = vec.Slice()
		return tr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.TurnResult{}
	}
	return results, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// collectTurns scans pgx rows into a slice of Turn values.
func collectTurns(rows pgx.Rows) ([]memory.Turn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Turn, error) {
		var (
			t   memory.Turn
			vec *pgvector.Vector
		)
		if err := row.Scan(&t.Role, &t.Text, &vec, &t.At); err != nil {
			return memory.Turn{}, err
		}
		if vec != nil {
			t.Embedding = vec.Slice()
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	return turns, nil
}
