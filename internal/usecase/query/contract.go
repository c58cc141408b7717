package query

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// BookIndex is the similarity search contract.
type BookIndex interface {
	SearchKNN(ctx context.Context, vector []float32, filter map[string]string, topK int) ([]domain.SearchResult, error)
}

// Cache memoizes shaped responses by deterministic key.
type Cache interface {
	Get(ctx context.Context, key string) ([]domain.SearchResult, bool)
	Put(ctx context.Context, key string, results []domain.SearchResult)
}

// Ledger guards the spending cap and bills chargeable operations.
type Ledger interface {
	Check(ctx context.Context) error
	Charge(ctx context.Context, actorID string, op domain.Operation, units int64, costUSD float64, metadata string) error
}

// Embedder vectorizes query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
