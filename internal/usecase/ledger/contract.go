package ledger

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// UsageStore is the persistence contract for append-only usage records.
type UsageStore interface {
	AppendUsage(ctx context.Context, rec domain.UsageRecord) error
	SumUsage(ctx context.Context, actorID string) (float64, error)
}
