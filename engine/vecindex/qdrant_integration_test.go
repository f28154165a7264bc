//go:build integration

package vecindex

import (
	"context"
	"os"
	"testing"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		return v
	}
	return "localhost:6334"
}

func testQdrant(t *testing.T, collection string) *Qdrant {
	t.Helper()
	q, err := NewQdrant(qdrantAddr(), collection)
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	t.Cleanup(func() {
		q.DeleteCollection(context.Background())
		q.Close()
	})
	return q
}

func TestQdrant_EnsureCollection(t *testing.T) {
	q := testQdrant(t, "test_vecindex_ensure")
	ctx := context.Background()

	if err := q.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	// Calling again should be idempotent
	if err := q.EnsureCollection(ctx, 4); err != nil {
		t.Fatalf("EnsureCollection (idempotent): %v", err)
	}
	if q.Dim() != 4 {
		t.Fatalf("Dim = %d, want 4", q.Dim())
	}
}

func TestQdrant_UpsertAndSearch(t *testing.T) {
	q := testQdrant(t, "test_vecindex_search")
	ctx := context.Background()

	if err := q.EnsureCollection(ctx, 3); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	vecs := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.9, 0.1, 0},
	}
	if err := q.Upsert(ctx, 0, vecs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := q.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("Count = %d, want 3", n)
	}

	hits, err := q.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Pos != 0 {
		t.Fatalf("expected position 0 first, got %d", hits[0].Pos)
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("hits out of order: %v", hits)
	}
}

func TestQdrant_OpenReadsDimAndCount(t *testing.T) {
	q := testQdrant(t, "test_vecindex_open")
	ctx := context.Background()

	if err := q.EnsureCollection(ctx, 2); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if err := q.Upsert(ctx, 0, [][]float32{{1, 0}, {0, 1}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	reader, err := NewQdrant(qdrantAddr(), "test_vecindex_open")
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	defer reader.Close()

	if err := reader.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reader.Dim() != 2 || reader.Len() != 2 {
		t.Fatalf("Open observed Dim=%d Len=%d, want 2/2", reader.Dim(), reader.Len())
	}
}
