package port

import (
	"context"

	"docrag/internal/domain"
)

// Retriever defines the interface for searching indexed content.
type Retriever interface {
	// Search searches for entries matching the query and returns top-k results.
	Search(ctx context.Context, query string, k int) ([]domain.ScoredEntry, error)
}
