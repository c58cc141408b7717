package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/librarian/internal/domain"
)

var limiterKeyPrefix = domain.KeyPrefix + "rl:"

// store is the consumer interface for the rate limiter (ISP).
type store interface {
	IncrBy(ctx context.Context, key string, val int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Limiter is a fixed-window per-actor request limiter on the key-value store.
type Limiter struct {
	store  store
	limit  int64
	window time.Duration
}

// New creates a limiter allowing limit requests per window. A non-positive
// limit disables limiting.
func New(s store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: s, limit: int64(limit), window: window}
}

// Allow counts one request for the actor and returns domain.ErrRateLimited
// once the window's quota is spent. Store failures fail open: limiting is
// operational glue, not a correctness guarantee.
func (l *Limiter) Allow(ctx context.Context, actorID string) error {
	if l.limit <= 0 {
		return nil
	}

	key := limiterKeyPrefix + actorID
	count, err := l.store.IncrBy(ctx, key, 1)
	if err != nil {
		return nil
	}
	if count == 1 {
		// First hit in the window sets the expiry. NX guards against
		// resetting it when INCR and EXPIRE race across requests.
		_ = l.store.Expire(ctx, key, l.window, true)
	}

	if count > l.limit {
		return fmt.Errorf("actor %s over %d requests per window: %w", actorID, l.limit, domain.ErrRateLimited)
	}
	return nil
}
