package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docrag/internal/domain"
	"docrag/internal/observability"
	"docrag/internal/port"
)

// QueryUseCase handles search and retrieval operations.
type QueryUseCase struct {
	retriever port.Retriever
	logger    *slog.Logger
}

func NewQueryUseCase(retriever port.Retriever, logger *slog.Logger) *QueryUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryUseCase{
		retriever: retriever,
		logger:    logger,
	}
}

// Retrieve returns the k entries closest to question. An empty index yields
// nil results and a nil error; check with NoResults.
func (u *QueryUseCase) Retrieve(ctx context.Context, question string, k int) (results []domain.ScoredEntry, err error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}

	ctx, span := observability.StartRetrieveSpan(ctx, k)
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	results, err = u.retriever.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	u.logger.Debug("retrieved", "k", k, "results", len(results))

	if NoResults(results) {
		return nil, nil
	}
	return results, nil
}

// Search is the naive variant: retrieval with no generation step.
func (u *QueryUseCase) Search(ctx context.Context, question string, k int) ([]domain.ScoredEntry, error) {
	return u.Retrieve(ctx, question, k)
}

// NoResults reports whether a retrieval found nothing to answer from.
func NoResults(results []domain.ScoredEntry) bool {
	return len(results) == 0
}
