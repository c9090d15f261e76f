package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/earshot-ai/earshot/pkg/memory"
	"github.com/earshot-ai/earshot/pkg/memory/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if EARSHOT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("EARSHOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EARSHOT_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	if _, err := cleanPool.Exec(ctx, "DROP TABLE IF EXISTS turns CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func TestAppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, text := range []string{"first", "second", "third"} {
		turn := memory.Turn{
			Role: "user",
			Text: text,
			At:   base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendTurn(ctx, "s1", turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	recent, err := store.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(recent))
	}
	// Newest two, chronological order.
	if recent[0].Text != "second" || recent[1].Text != "third" {
		t.Errorf("unexpected order: %q, %q", recent[0].Text, recent[1].Text)
	}
}

func TestRecent_OtherSessionInvisible(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AppendTurn(ctx, "a", memory.Turn{Role: "user", Text: "hi", At: time.Now()}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	recent, err := store.Recent(ctx, "b", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("expected no turns for other session, got %d", len(recent))
	}
}

func TestSearchSimilar(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	turns := []memory.Turn{
		{Role: "user", Text: "near", At: time.Now(), Embedding: []float32{1, 0, 0, 0}},
		{Role: "user", Text: "far", At: time.Now(), Embedding: []float32{0, 1, 0, 0}},
		{Role: "user", Text: "no embedding", At: time.Now()},
	}
	for _, turn := range turns {
		if err := store.AppendTurn(ctx, "s1", turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	results, err := store.SearchSimilar(ctx, []float32{0.9, 0.1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 embedded turns, got %d", len(results))
	}
	if results[0].Turn.Text != "near" {
		t.Errorf("expected 'near' first, got %q", results[0].Turn.Text)
	}
	if results[0].Distance >= results[1].Distance {
		t.Errorf("expected ascending distances, got %f then %f",
			results[0].Distance, results[1].Distance)
	}
}
