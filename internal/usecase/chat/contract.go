package chat

import (
	"context"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// Searcher grounds answers via the semantic query pipeline.
type Searcher interface {
	Search(ctx context.Context, actorID string, req domain.QueryRequest) ([]domain.SearchResult, error)
}

// TitleIndex resolves the summary tool by exact title match.
type TitleIndex interface {
	GetByTitle(ctx context.Context, title string) (domain.SearchResult, error)
}

// Completer calls the language model.
type Completer interface {
	Complete(ctx context.Context, messages []domain.Message, tools []domain.ToolSpec) (domain.Completion, error)
}

// Ledger gates the pipeline on the spend limit and bills the
// completion round-trip.
type Ledger interface {
	Check(ctx context.Context) error
	Charge(ctx context.Context, actorID string, op domain.Operation, units int64, costUSD float64, metadata string) error
}

// HistoryStore persists sessions and conversation turns.
type HistoryStore interface {
	CreateSession(ctx context.Context, sess domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListRecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error)
	AppendTurnPair(ctx context.Context, sessionID, userContent, assistantContent string) error
}
