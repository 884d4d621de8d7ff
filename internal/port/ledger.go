package port

import (
	"context"

	"docrag/internal/domain"
)

// Ledger is the durable record of which sources have been embedded.
// Every operation is scoped to one namespace.
type Ledger interface {
	// EnsureSchema creates the backing storage. Safe to call on every startup.
	EnsureSchema(ctx context.Context) error

	Records(ctx context.Context, namespace string) ([]domain.LedgerRecord, error)

	Upsert(ctx context.Context, rec domain.LedgerRecord) error

	Delete(ctx context.Context, namespace, sourceKey string) error

	Close() error
}
