package domain

import "time"

// Operation classifies a chargeable call for usage accounting.
type Operation string

const (
	// OpEmbedding covers embedding service calls.
	OpEmbedding Operation = "embedding"
	// OpChat covers language-model completion calls.
	OpChat Operation = "chat"
)

// UsageRecord is one append-only accounting entry. Records are never mutated.
type UsageRecord struct {
	ActorID   string
	Operation Operation
	Units     int64
	CostUSD   float64
	Metadata  string
	Timestamp time.Time
}

// BudgetState is a snapshot of cumulative spend against the configured cap.
type BudgetState struct {
	SpentUSD float64 `json:"spent_usd"`
	LimitUSD float64 `json:"limit_usd"`
}

// Exceeded reports whether the cap has been reached. A zero limit means
// unlimited spend.
func (b BudgetState) Exceeded() bool {
	return b.LimitUSD > 0 && b.SpentUSD >= b.LimitUSD
}

// RemainingUSD returns the headroom left under the cap (-1 when unlimited).
func (b BudgetState) RemainingUSD() float64 {
	if b.LimitUSD <= 0 {
		return -1
	}
	if rem := b.LimitUSD - b.SpentUSD; rem > 0 {
		return rem
	}
	return 0
}
