package port

import (
	"context"

	"docrag/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorStore persists embedded chunks and searches them by similarity.
type VectorStore interface {
	// Upsert adds or overwrites entries by ID.
	Upsert(ctx context.Context, entries []domain.VectorEntry) error

	// DeleteBySource removes every entry whose metadata source equals sourceKey
	// and returns how many were removed.
	DeleteBySource(ctx context.Context, sourceKey string) (int, error)

	// SimilaritySearch returns at most k entries ordered by descending score.
	SimilaritySearch(ctx context.Context, query []float32, k int) ([]domain.ScoredEntry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	Close() error
}

// SourceReplacer is implemented by stores that can swap all entries of a
// source in a single transaction.
type SourceReplacer interface {
	ReplaceSource(ctx context.Context, sourceKey string, entries []domain.VectorEntry) (int, error)
}
