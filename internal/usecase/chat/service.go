package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
)

const (
	// historyWindow bounds the prior turns loaded into the prompt.
	historyWindow = 10
	// groundingTopK is how many candidates ground each answer.
	groundingTopK = 3
	// sessionTitleLen caps the generated session title.
	sessionTitleLen = 50

	summaryToolName = "get_summary_by_title"
)

// Result is one completed conversation exchange.
type Result struct {
	Reply     string
	SessionID string
	Sources   []domain.SearchResult
}

// Service is the conversational pipeline: history -> grounding search ->
// completion with at most one tool round-trip -> charge -> persist.
type Service struct {
	search  Searcher
	titles  TitleIndex
	model   Completer
	ledger  Ledger
	history HistoryStore
	logger  *zap.Logger
}

// New creates a chat pipeline.
func New(
	search Searcher, titles TitleIndex, model Completer,
	ledger Ledger, history HistoryStore, logger *zap.Logger,
) *Service {
	return &Service{
		search:  search,
		titles:  titles,
		model:   model,
		ledger:  ledger,
		history: history,
		logger:  logger,
	}
}

// Converse answers one user message within an optional session.
//
// An unknown sessionID starts a fresh conversation; a budget refusal or
// crossing anywhere on this path is terminal for the request. Turn
// persistence is best-effort: a storage failure is logged and the reply is
// still delivered.
func (s *Service) Converse(ctx context.Context, actorID, sessionID, message string) (Result, error) {
	if strings.TrimSpace(message) == "" {
		return Result{}, fmt.Errorf("%w: message is required", domain.ErrInvalidInput)
	}
	// Refuse before any external work. The grounding search checks the
	// budget too, but a cached search skips its embedding call and would
	// otherwise let an exhausted actor reach the completion step.
	if err := s.ledger.Check(ctx); err != nil {
		return Result{}, err
	}

	turns := s.loadHistory(ctx, sessionID)

	req, err := domain.NewQueryRequest(message, groundingTopK, nil)
	if err != nil {
		return Result{}, err
	}
	sources, err := s.search.Search(ctx, actorID, req)
	if err != nil {
		// Includes a budget crossing inside the grounding search: the
		// completion step would be refused anyway, so stop here.
		return Result{}, err
	}

	messages := buildMessages(sources, turns, message)

	completion, err := s.model.Complete(ctx, messages, []domain.ToolSpec{summaryTool()})
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	promptTokens := completion.PromptTokens
	completionTokens := completion.CompletionTokens

	// At most one tool round-trip. Further tool requests in the follow-up
	// reply are not honored.
	if len(completion.ToolCalls) > 0 {
		messages = append(messages, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})
		for _, call := range completion.ToolCalls {
			messages = append(messages, domain.Message{
				Role:       domain.RoleTool,
				Content:    s.resolveToolCall(ctx, actorID, call),
				ToolCallID: call.ID,
			})
		}

		completion, err = s.model.Complete(ctx, messages, nil)
		if err != nil {
			return Result{}, fmt.Errorf("chat completion after tool: %w", err)
		}
		promptTokens += completion.PromptTokens
		completionTokens += completion.CompletionTokens
	}
	reply := completion.Content

	if promptTokens == 0 {
		promptTokens = domain.EstimateTokens(message)
	}
	if completionTokens == 0 {
		completionTokens = domain.EstimateTokens(reply)
	}
	chargeErr := s.ledger.Charge(
		ctx, actorID, domain.OpChat,
		promptTokens+completionTokens,
		domain.ChatCost(promptTokens, completionTokens),
		message,
	)
	if chargeErr != nil {
		return Result{}, chargeErr
	}

	sid := s.persistTurns(ctx, actorID, sessionID, message, reply)

	return Result{Reply: reply, SessionID: sid, Sources: sources}, nil
}

// loadHistory fetches up to historyWindow prior turns. A missing session or
// an unreachable store both degrade to a fresh conversation.
func (s *Service) loadHistory(ctx context.Context, sessionID string) []domain.ConversationTurn {
	if sessionID == "" {
		return nil
	}
	turns, err := s.history.ListRecentTurns(ctx, sessionID, historyWindow)
	if err != nil {
		s.logger.Warn("history load failed, starting fresh",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return turns
}

// resolveToolCall answers a get_summary_by_title request. Resolution tries
// the exact title tag first and falls back to a nearest-neighbor lookup on
// the title text. Failures produce a textual miss, never an error: the
// model is expected to tell the user the summary is unavailable.
func (s *Service) resolveToolCall(ctx context.Context, actorID string, call domain.ToolCall) string {
	if call.Name != summaryToolName {
		return fmt.Sprintf("unknown tool %q", call.Name)
	}
	var args struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || strings.TrimSpace(args.Title) == "" {
		return "invalid arguments: expected {\"title\": \"...\"}"
	}

	hit, err := s.titles.GetByTitle(ctx, args.Title)
	if errors.Is(err, domain.ErrNotFound) {
		hit, err = s.nearestByTitle(ctx, actorID, args.Title)
	}
	if err != nil {
		s.logger.Warn("summary lookup failed",
			zap.String("title", args.Title), zap.Error(err))
		return fmt.Sprintf("no summary found for %q", args.Title)
	}

	summary := hit.Metadata["summary"]
	if summary == "" {
		return fmt.Sprintf("no summary stored for %q", hit.Title())
	}
	return fmt.Sprintf("%s: %s", hit.Title(), summary)
}

func (s *Service) nearestByTitle(ctx context.Context, actorID, title string) (domain.SearchResult, error) {
	req, err := domain.NewQueryRequest(title, 1, nil)
	if err != nil {
		return domain.SearchResult{}, err
	}
	results, err := s.search.Search(ctx, actorID, req)
	if err != nil {
		return domain.SearchResult{}, err
	}
	if len(results) == 0 {
		return domain.SearchResult{}, fmt.Errorf("title %q: %w", title, domain.ErrNotFound)
	}
	return results[0], nil
}

// persistTurns stores the exchange, creating the session on first use with
// a title derived from the message. Returns the session id the exchange
// now belongs to.
func (s *Service) persistTurns(ctx context.Context, actorID, sessionID, message, reply string) string {
	sid := sessionID
	fresh := sid == ""
	if fresh {
		sid = uuid.NewString()
	} else if _, err := s.history.GetSession(ctx, sid); errors.Is(err, domain.ErrNotFound) {
		fresh = true
	}

	if fresh {
		sess := domain.Session{ID: sid, UserID: actorID, Title: sessionTitle(message)}
		if err := s.history.CreateSession(ctx, sess); err != nil {
			s.logger.Warn("session create failed",
				zap.String("session_id", sid), zap.Error(err))
		}
	}
	if err := s.history.AppendTurnPair(ctx, sid, message, reply); err != nil {
		s.logger.Warn("turn persistence failed",
			zap.String("session_id", sid), zap.Error(err))
	}
	return sid
}

func sessionTitle(message string) string {
	r := []rune(message)
	if len(r) > sessionTitleLen {
		r = r[:sessionTitleLen]
	}
	return string(r)
}

// buildMessages assembles the completion input: system prompt with the
// grounding candidates, the loaded history, then the new user message.
func buildMessages(
	sources []domain.SearchResult, turns []domain.ConversationTurn, message string,
) []domain.Message {
	msgs := make([]domain.Message, 0, len(turns)+2)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: systemPrompt(sources)})
	for _, t := range turns {
		msgs = append(msgs, domain.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: message})
	return msgs
}

func systemPrompt(sources []domain.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("You are a knowledgeable librarian. Recommend books from the ")
	sb.WriteString("retrieved candidates below and briefly explain why each fits ")
	sb.WriteString("the request. When the user asks for a detailed summary of a ")
	sb.WriteString("specific title, call the " + summaryToolName + " tool.\n\n")
	sb.WriteString("Retrieved candidates:\n")
	if len(sources) == 0 {
		sb.WriteString("(none)\n")
		return sb.String()
	}
	for _, src := range sources {
		title := src.Title()
		if title == "" {
			title = src.ID
		}
		if authors := src.Authors(); authors != "" {
			fmt.Fprintf(&sb, "- %s by %s\n", title, authors)
		} else {
			fmt.Fprintf(&sb, "- %s\n", title)
		}
	}
	return sb.String()
}

func summaryTool() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        summaryToolName,
		Description: "Look up the stored summary of a book by its exact title.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Exact book title to summarize.",
				},
			},
			"required": []string{"title"},
		},
	}
}
