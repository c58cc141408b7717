package query

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// Service is the query pipeline: cache -> embed -> ledger -> vector index -> cache.
type Service struct {
	index  BookIndex
	cache  Cache
	ledger Ledger
	embed  Embedder
}

// New creates a query pipeline.
func New(index BookIndex, cache Cache, ledger Ledger, embed Embedder) *Service {
	return &Service{index: index, cache: cache, ledger: ledger, embed: embed}
}

// Search resolves a semantic query.
//
// A cache hit returns the memoized results unchanged, with no re-ranking and
// no charge. On a miss the embedding call is billed through the ledger; a
// ledger refusal or crossing does not invalidate results already computed,
// so the best-effort result list is returned together with the ledger's
// error. Fewer than topK hits is not an error.
func (s *Service) Search(
	ctx context.Context, actorID string, req domain.QueryRequest,
) ([]domain.SearchResult, error) {
	key := req.CacheKey()
	if cached, ok := s.cache.Get(ctx, key); ok {
		return cached, nil
	}

	// Refuse before external work once the cap is reached.
	if err := s.ledger.Check(ctx); err != nil {
		return nil, err
	}

	emb, err := s.embed.Embed(ctx, req.Text())
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	tokens := emb.TotalTokens
	if tokens == 0 {
		tokens = domain.EstimateTokens(req.Text())
	}
	chargeErr := s.ledger.Charge(
		ctx, actorID, domain.OpEmbedding, tokens, domain.EmbeddingCost(tokens), req.Text(),
	)

	results, err := s.index.SearchKNN(ctx, emb.Embedding, req.Filter(), req.TopK())
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if results == nil {
		results = []domain.SearchResult{}
	}

	s.cache.Put(ctx, key, results)

	// chargeErr is ErrBudgetExceeded when this search crossed the cap; the
	// caller gets the answer and the notice together.
	return results, chargeErr
}
