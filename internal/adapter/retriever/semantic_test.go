package retriever

import (
	"context"
	"errors"
	"testing"

	"docrag/internal/adapter/analyzer"
	"docrag/internal/adapter/embedding"
	"docrag/internal/adapter/memstore"
	"docrag/internal/domain"
)

type failingEmbedder struct{ *embedding.HashEmbedder }

func (failingEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errors.New("boom")
}

func seed(t *testing.T, emb *embedding.HashEmbedder, texts map[string]string) *memstore.MemoryStore {
	t.Helper()
	ctx := context.Background()
	st := memstore.NewMemoryStore()
	for id, text := range texts {
		vec, err := emb.EmbedQuery(ctx, text)
		if err != nil {
			t.Fatal(err)
		}
		err = st.Upsert(ctx, []domain.VectorEntry{{
			ID: id, Vector: vec, Text: text, Metadata: domain.Metadata{Source: id + ".txt_x"},
		}})
		if err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestSemanticSearchRanksByMeaning(t *testing.T) {
	emb := embedding.NewHashEmbedder(256, analyzer.NewTokenizer())
	st := seed(t, emb, map[string]string{
		"sky":   "The sky is blue.",
		"grass": "Grass grows green in spring.",
	})

	r := NewSemanticRetriever(st, emb)
	results, err := r.Search(context.Background(), "What color is the sky?", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Entry.ID != "sky" {
		t.Fatalf("expected sky entry first, got %+v", results)
	}
}

func TestSemanticSearchEmptyStore(t *testing.T) {
	emb := embedding.NewHashEmbedder(64, analyzer.NewTokenizer())
	r := NewSemanticRetriever(memstore.NewMemoryStore(), emb)

	results, err := r.Search(context.Background(), "anything", 3)
	if err != nil {
		t.Fatal(err)
	}
	if results != nil {
		t.Errorf("expected nil results, got %v", results)
	}
}

func TestSemanticSearchEmbedError(t *testing.T) {
	emb := embedding.NewHashEmbedder(64, analyzer.NewTokenizer())
	r := NewSemanticRetriever(memstore.NewMemoryStore(), failingEmbedder{emb})

	_, err := r.Search(context.Background(), "q", 3)
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Errorf("expected ErrEmbeddingProvider, got %v", err)
	}
}
