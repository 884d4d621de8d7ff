package retriever

import (
	"context"
	"fmt"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// SemanticRetriever embeds the query and runs a similarity search.
type SemanticRetriever struct {
	vectorStore port.VectorStore
	embedder    port.Embedder
}

var _ port.Retriever = (*SemanticRetriever)(nil)

func NewSemanticRetriever(vectorStore port.VectorStore, embedder port.Embedder) *SemanticRetriever {
	return &SemanticRetriever{
		vectorStore: vectorStore,
		embedder:    embedder,
	}
}

func (r *SemanticRetriever) Search(ctx context.Context, query string, k int) ([]domain.ScoredEntry, error) {
	if r.vectorStore == nil || r.embedder == nil {
		return nil, fmt.Errorf("%w: semantic search not available: embeddings not configured", domain.ErrConfiguration)
	}

	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to embed query: %w", domain.ErrEmbeddingProvider, err)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: embedding returned empty result", domain.ErrEmbeddingProvider)
	}

	results, err := r.vectorStore.SimilaritySearch(ctx, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search failed: %w", domain.ErrVectorStore, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results, nil
}
