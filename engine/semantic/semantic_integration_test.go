//go:build integration

package semantic

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/satyawork/nlp-ui/engine/domain"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		return v
	}
	return "localhost:6334"
}

func testStore(t *testing.T, collection string) (*QdrantStore, *Manager) {
	t.Helper()
	qs, err := NewQdrant(qdrantAddr())
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	t.Cleanup(func() {
		qs.DeleteCollection(context.Background(), collection)
		qs.Close()
	})
	return qs, NewManager(qs, 4, MetricCosine, nil)
}

func TestQdrant_EnsureCollection(t *testing.T) {
	_, m := testStore(t, "test_ensure")
	ctx := context.Background()

	if err := m.Ensure(ctx, "test_ensure"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := m.Ensure(ctx, "test_ensure"); err != nil {
		t.Fatalf("Ensure (idempotent): %v", err)
	}
	dim, err := m.Dimension(ctx, "test_ensure")
	if err != nil || dim != 4 {
		t.Fatalf("expected dimension 4, got %d (%v)", dim, err)
	}
}

func TestQdrant_UpsertAndSearch(t *testing.T) {
	qs, m := testStore(t, "test_upsert_search")
	ctx := context.Background()

	if err := m.Ensure(ctx, "test_upsert_search"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	points := []Point{
		{ID: uuid.NewString(), Vector: []float32{1, 0, 0, 0}, Payload: Payload{Text: "oil change"}},
		{ID: uuid.NewString(), Vector: []float32{0, 1, 0, 0}, Payload: Payload{Text: "brake pads"}},
		{ID: uuid.NewString(), Vector: []float32{0.9, 0.1, 0, 0}, Payload: Payload{Text: "oil filter"}},
	}
	if err := qs.Upsert(ctx, "test_upsert_search", points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := qs.Search(ctx, "test_upsert_search", []float32{1, 0, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 results, got %d", len(hits))
	}
	if hits[0].Payload.Text != "oil change" {
		t.Fatalf("expected 'oil change' first, got %q", hits[0].Payload.Text)
	}
}

func TestQdrant_MissingCollection(t *testing.T) {
	qs, _ := testStore(t, "test_missing")
	_, err := qs.Search(context.Background(), "test_missing", []float32{1, 0, 0, 0}, 1)
	if !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}
