package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/metrics"
)

// Service is the cost ledger: a process-lifetime spend accumulator with a
// soft budget ceiling and best-effort durable usage records.
//
// The in-memory counter is mutex-guarded, but the ceiling stays soft:
// concurrent in-flight requests that all passed Check may together overshoot
// the limit by their combined cost. A hard budget was never guaranteed.
type Service struct {
	mu    sync.Mutex
	spent float64
	limit float64

	store  UsageStore
	logger *zap.Logger
}

// New creates a cost ledger. limitUSD of 0 means unlimited.
// store may be nil (in-memory accounting only).
func New(limitUSD float64, store UsageStore, logger *zap.Logger) *Service {
	return &Service{limit: limitUSD, store: store, logger: logger}
}

// Check refuses with domain.ErrBudgetExceeded once cumulative spend has
// reached the limit. Pipelines call it before any chargeable external work.
func (s *Service) Check(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit > 0 && s.spent >= s.limit {
		return fmt.Errorf("spent %.4f of %.4f USD: %w", s.spent, s.limit, domain.ErrBudgetExceeded)
	}
	return nil
}

// Charge increments cumulative spend, then appends a usage record to durable
// storage. The record append is best-effort: a storage failure is logged and
// swallowed, never blocking the caller's primary operation.
//
// The threshold check runs after the increment, so the operation that
// crosses the limit completes and is billed; it still receives
// domain.ErrBudgetExceeded so the caller knows the cap is now reached.
func (s *Service) Charge(
	ctx context.Context, actorID string, op domain.Operation,
	units int64, costUSD float64, metadata string,
) error {
	s.mu.Lock()
	s.spent += costUSD
	over := s.limit > 0 && s.spent >= s.limit
	spent := s.spent
	s.mu.Unlock()

	metrics.LedgerSpendUSD.Set(spent)

	s.appendRecord(ctx, domain.UsageRecord{
		ActorID:   actorID,
		Operation: op,
		Units:     units,
		CostUSD:   costUSD,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})

	if over {
		metrics.LedgerChargesTotal.WithLabelValues(string(op), "over_budget").Inc()
		return fmt.Errorf("spent %.4f of %.4f USD: %w", spent, s.limit, domain.ErrBudgetExceeded)
	}
	metrics.LedgerChargesTotal.WithLabelValues(string(op), "ok").Inc()
	return nil
}

func (s *Service) appendRecord(ctx context.Context, rec domain.UsageRecord) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendUsage(ctx, rec); err != nil {
		s.logger.Warn("Failed to persist usage record",
			zap.String("actor_id", rec.ActorID),
			zap.String("operation", string(rec.Operation)),
			zap.Error(fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)),
		)
	}
}

// Stats reports spend against the limit. It prefers the durable aggregate
// (optionally filtered by actor); when storage is unreachable it falls back
// to the in-memory counter, which is process-local and under-reports across
// multiple processes.
func (s *Service) Stats(ctx context.Context, actorID string) domain.BudgetState {
	if s.store != nil {
		total, err := s.store.SumUsage(ctx, actorID)
		if err == nil {
			return domain.BudgetState{SpentUSD: total, LimitUSD: s.limit}
		}
		s.logger.Warn("Usage store unreachable, reporting process-local spend",
			zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.BudgetState{SpentUSD: s.spent, LimitUSD: s.limit}
}
