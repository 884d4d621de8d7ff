package memstore

import (
	"context"
	"testing"

	"docrag/internal/domain"
)

func entry(id, source string, vec ...float32) domain.VectorEntry {
	return domain.VectorEntry{ID: id, Vector: vec, Text: id, Metadata: domain.Metadata{Source: source}}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Upsert(ctx, []domain.VectorEntry{
		entry("a1", "a", 1, 0),
		entry("a2", "a", 0.5, 0.5),
		entry("b1", "b", 0, 1),
	}); err != nil {
		t.Fatal(err)
	}

	results, err := s.SimilaritySearch(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 || results[0].Entry.ID != "a1" {
		t.Fatalf("unexpected results %+v", results)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results out of order at %d", i)
		}
	}

	n, _ := s.DeleteBySource(ctx, "a")
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	if c, _ := s.Count(ctx); c != 1 {
		t.Errorf("expected 1 remaining, got %d", c)
	}
}

func TestMemoryStoreMovedID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Upsert(ctx, []domain.VectorEntry{entry("x", "old", 1)})
	_ = s.Upsert(ctx, []domain.VectorEntry{entry("x", "new", 1)})

	if n, _ := s.DeleteBySource(ctx, "old"); n != 0 {
		t.Errorf("moved entry still indexed under old source")
	}
	sources, _ := s.Sources(ctx)
	if sources["new"] != 1 {
		t.Errorf("expected entry under new source, got %v", sources)
	}
}

func TestMemoryStoreReplaceSource(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Upsert(ctx, []domain.VectorEntry{entry("a1", "a", 1), entry("a2", "a", 1)})
	removed, err := s.ReplaceSource(ctx, "a", []domain.VectorEntry{entry("a3", "a", 1)})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if c, _ := s.Count(ctx); c != 1 {
		t.Errorf("expected 1 entry, got %d", c)
	}
}
