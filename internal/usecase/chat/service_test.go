package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
)

type mockSearcher struct {
	results []domain.SearchResult
	err     error
	queries []string
}

func (m *mockSearcher) Search(_ context.Context, _ string, req domain.QueryRequest) ([]domain.SearchResult, error) {
	m.queries = append(m.queries, req.Text())
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

type mockTitleIndex struct {
	byTitle map[string]domain.SearchResult
	calls   int
}

func (m *mockTitleIndex) GetByTitle(_ context.Context, title string) (domain.SearchResult, error) {
	m.calls++
	if hit, ok := m.byTitle[title]; ok {
		return hit, nil
	}
	return domain.SearchResult{}, domain.ErrNotFound
}

type mockCompleter struct {
	replies  []domain.Completion
	errs     []error
	requests [][]domain.Message
	tooled   []bool
}

func (m *mockCompleter) Complete(_ context.Context, msgs []domain.Message, tools []domain.ToolSpec) (domain.Completion, error) {
	i := len(m.requests)
	m.requests = append(m.requests, msgs)
	m.tooled = append(m.tooled, len(tools) > 0)
	if i < len(m.errs) && m.errs[i] != nil {
		return domain.Completion{}, m.errs[i]
	}
	if i >= len(m.replies) {
		return domain.Completion{}, errors.New("unexpected completion call")
	}
	return m.replies[i], nil
}

type mockChatLedger struct {
	checkErr error
	checks   int
	err      error
	charges  int
	units    int64
	cost     float64
}

func (m *mockChatLedger) Check(_ context.Context) error {
	m.checks++
	return m.checkErr
}

func (m *mockChatLedger) Charge(_ context.Context, _ string, _ domain.Operation, units int64, costUSD float64, _ string) error {
	m.charges++
	m.units = units
	m.cost = costUSD
	return m.err
}

type mockHistory struct {
	sessions  map[string]domain.Session
	turns     map[string][]domain.ConversationTurn
	listErr   error
	createErr error
	appendErr error
	pairs     int
}

func newMockHistory() *mockHistory {
	return &mockHistory{
		sessions: make(map[string]domain.Session),
		turns:    make(map[string][]domain.ConversationTurn),
	}
}

func (m *mockHistory) CreateSession(_ context.Context, sess domain.Session) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.sessions[sess.ID] = sess
	return nil
}

func (m *mockHistory) GetSession(_ context.Context, id string) (domain.Session, error) {
	sess, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return sess, nil
}

func (m *mockHistory) ListRecentTurns(_ context.Context, sessionID string, limit int) ([]domain.ConversationTurn, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	turns := m.turns[sessionID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (m *mockHistory) AppendTurnPair(_ context.Context, sessionID, userContent, assistantContent string) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.pairs++
	m.turns[sessionID] = append(m.turns[sessionID],
		domain.ConversationTurn{SessionID: sessionID, Role: domain.RoleUser, Content: userContent},
		domain.ConversationTurn{SessionID: sessionID, Role: domain.RoleAssistant, Content: assistantContent},
	)
	return nil
}

func newTestService(
	search *mockSearcher, titles *mockTitleIndex, model *mockCompleter,
	ledger *mockChatLedger, history *mockHistory,
) *Service {
	return New(search, titles, model, ledger, history, zap.NewNop())
}

func TestConverse_FreshSessionPersistsOnePair(t *testing.T) {
	search := &mockSearcher{results: []domain.SearchResult{
		{ID: "b1", Metadata: map[string]string{"title": "Gone Girl", "authors": "Gillian Flynn"}},
	}}
	model := &mockCompleter{replies: []domain.Completion{
		{Content: "Try Gone Girl.", PromptTokens: 100, CompletionTokens: 20},
	}}
	ledger := &mockChatLedger{}
	history := newMockHistory()
	svc := newTestService(search, &mockTitleIndex{}, model, ledger, history)

	res, err := svc.Converse(context.Background(), "u1", "", "recommend a mystery novel")
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if res.Reply != "Try Gone Girl." {
		t.Fatalf("unexpected reply %q", res.Reply)
	}
	if res.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
	if history.pairs != 1 {
		t.Fatalf("expected exactly one persisted turn pair, got %d", history.pairs)
	}
	sess, ok := history.sessions[res.SessionID]
	if !ok {
		t.Fatal("session was not created")
	}
	if sess.Title != "recommend a mystery novel" {
		t.Fatalf("unexpected session title %q", sess.Title)
	}
	if len(res.Sources) != 1 {
		t.Fatalf("expected grounding sources in the result, got %d", len(res.Sources))
	}
}

func TestConverse_SessionTitleTruncatedAtFiftyChars(t *testing.T) {
	search := &mockSearcher{}
	model := &mockCompleter{replies: []domain.Completion{{Content: "ok"}}}
	history := newMockHistory()
	svc := newTestService(search, &mockTitleIndex{}, model, &mockChatLedger{}, history)

	long := strings.Repeat("a", 80)
	res, err := svc.Converse(context.Background(), "u1", "", long)
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if got := history.sessions[res.SessionID].Title; len([]rune(got)) != 50 {
		t.Fatalf("expected 50-rune title, got %d", len([]rune(got)))
	}
}

func TestConverse_HistoryAndPromptOrder(t *testing.T) {
	search := &mockSearcher{results: []domain.SearchResult{
		{ID: "b1", Metadata: map[string]string{"title": "Dune", "authors": "Frank Herbert"}},
	}}
	model := &mockCompleter{replies: []domain.Completion{{Content: "Dune again."}}}
	history := newMockHistory()
	history.sessions["s1"] = domain.Session{ID: "s1", UserID: "u1"}
	history.turns["s1"] = []domain.ConversationTurn{
		{SessionID: "s1", Role: domain.RoleUser, Content: "sci-fi please"},
		{SessionID: "s1", Role: domain.RoleAssistant, Content: "Dune."},
	}
	svc := newTestService(search, &mockTitleIndex{}, model, &mockChatLedger{}, history)

	if _, err := svc.Converse(context.Background(), "u1", "s1", "more like that"); err != nil {
		t.Fatalf("Converse: %v", err)
	}

	msgs := model.requests[0]
	if len(msgs) != 4 {
		t.Fatalf("expected system+2 history+user, got %d messages", len(msgs))
	}
	if msgs[0].Role != domain.RoleSystem || !strings.Contains(msgs[0].Content, "Dune by Frank Herbert") {
		t.Fatalf("system prompt missing grounding candidate: %q", msgs[0].Content)
	}
	if msgs[1].Content != "sci-fi please" || msgs[2].Content != "Dune." {
		t.Fatal("history not in oldest-first order")
	}
	if msgs[3].Role != domain.RoleUser || msgs[3].Content != "more like that" {
		t.Fatal("user message must come last")
	}
}

func TestConverse_HistoryWindowIsTenTurns(t *testing.T) {
	search := &mockSearcher{}
	model := &mockCompleter{replies: []domain.Completion{{Content: "ok"}}}
	history := newMockHistory()
	history.sessions["s1"] = domain.Session{ID: "s1", UserID: "u1"}
	for i := 0; i < 14; i++ {
		history.turns["s1"] = append(history.turns["s1"],
			domain.ConversationTurn{SessionID: "s1", Role: domain.RoleUser, Content: "old"})
	}
	svc := newTestService(search, &mockTitleIndex{}, model, &mockChatLedger{}, history)

	if _, err := svc.Converse(context.Background(), "u1", "s1", "hi"); err != nil {
		t.Fatalf("Converse: %v", err)
	}
	// system + 10 history + user
	if got := len(model.requests[0]); got != 12 {
		t.Fatalf("expected 12 messages, got %d", got)
	}
}

func TestConverse_HistoryLoadFailureDegradesToFresh(t *testing.T) {
	search := &mockSearcher{}
	model := &mockCompleter{replies: []domain.Completion{{Content: "ok"}}}
	history := newMockHistory()
	history.sessions["s1"] = domain.Session{ID: "s1", UserID: "u1"}
	history.listErr = errors.New("database locked")
	svc := newTestService(search, &mockTitleIndex{}, model, &mockChatLedger{}, history)

	if _, err := svc.Converse(context.Background(), "u1", "s1", "hi"); err != nil {
		t.Fatalf("history failure must degrade, not fail: %v", err)
	}
	// system + user only, no history.
	if got := len(model.requests[0]); got != 2 {
		t.Fatalf("expected 2 messages without history, got %d", got)
	}
}

func TestConverse_UnknownSessionStartsFresh(t *testing.T) {
	search := &mockSearcher{}
	model := &mockCompleter{replies: []domain.Completion{{Content: "ok"}}}
	history := newMockHistory()
	svc := newTestService(search, &mockTitleIndex{}, model, &mockChatLedger{}, history)

	res, err := svc.Converse(context.Background(), "u1", "no-such-session", "hello")
	if err != nil {
		t.Fatalf("unknown session must not error: %v", err)
	}
	if res.SessionID != "no-such-session" {
		t.Fatalf("caller-chosen session id should be kept, got %q", res.SessionID)
	}
	if _, ok := history.sessions["no-such-session"]; !ok {
		t.Fatal("missing session should be created before persisting turns")
	}
}

func TestConverse_OneToolRoundTrip(t *testing.T) {
	search := &mockSearcher{}
	titles := &mockTitleIndex{byTitle: map[string]domain.SearchResult{
		"1984": {ID: "b1", Metadata: map[string]string{"title": "1984", "summary": "Surveillance state."}},
	}}
	model := &mockCompleter{replies: []domain.Completion{
		{
			ToolCalls:    []domain.ToolCall{{ID: "c1", Name: "get_summary_by_title", Arguments: `{"title":"1984"}`}},
			PromptTokens: 50, CompletionTokens: 10,
		},
		{Content: "1984 is about a surveillance state.", PromptTokens: 80, CompletionTokens: 30},
	}}
	ledger := &mockChatLedger{}
	svc := newTestService(search, titles, model, ledger, newMockHistory())

	res, err := svc.Converse(context.Background(), "u1", "", "summarize 1984")
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if res.Reply != "1984 is about a surveillance state." {
		t.Fatalf("unexpected reply %q", res.Reply)
	}
	if len(model.requests) != 2 {
		t.Fatalf("expected exactly two completion calls, got %d", len(model.requests))
	}
	if model.tooled[1] {
		t.Fatal("follow-up completion must not offer tools again")
	}

	second := model.requests[1]
	toolMsg := second[len(second)-1]
	if toolMsg.Role != domain.RoleTool || toolMsg.ToolCallID != "c1" {
		t.Fatalf("expected trailing tool message for c1, got %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, "Surveillance state.") {
		t.Fatalf("tool message missing summary: %q", toolMsg.Content)
	}

	// Both round-trips billed together.
	if ledger.charges != 1 || ledger.units != 170 {
		t.Fatalf("expected one combined charge of 170 tokens, got charges=%d units=%d",
			ledger.charges, ledger.units)
	}
}

func TestConverse_ToolFallsBackToNearestNeighbor(t *testing.T) {
	search := &mockSearcher{results: []domain.SearchResult{
		{ID: "b2", Metadata: map[string]string{"title": "Nineteen Eighty-Four", "summary": "Big Brother."}},
	}}
	titles := &mockTitleIndex{}
	model := &mockCompleter{replies: []domain.Completion{
		{ToolCalls: []domain.ToolCall{{ID: "c1", Name: "get_summary_by_title", Arguments: `{"title":"1984"}`}}},
		{Content: "done"},
	}}
	svc := newTestService(search, titles, model, &mockChatLedger{}, newMockHistory())

	if _, err := svc.Converse(context.Background(), "u1", "", "summarize 1984"); err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if titles.calls != 1 {
		t.Fatalf("exact lookup should run once, got %d", titles.calls)
	}
	// First search grounds the message, second resolves the fallback.
	if len(search.queries) != 2 || search.queries[1] != "1984" {
		t.Fatalf("expected nearest-neighbor fallback on the title, got %v", search.queries)
	}
	second := model.requests[1]
	if !strings.Contains(second[len(second)-1].Content, "Big Brother.") {
		t.Fatalf("fallback summary missing from tool message: %q", second[len(second)-1].Content)
	}
}

func TestConverse_BudgetExceededIsTerminal(t *testing.T) {
	search := &mockSearcher{}
	model := &mockCompleter{replies: []domain.Completion{
		{Content: "a reply", PromptTokens: 10, CompletionTokens: 10},
	}}
	ledger := &mockChatLedger{err: domain.ErrBudgetExceeded}
	history := newMockHistory()
	svc := newTestService(search, &mockTitleIndex{}, model, ledger, history)

	_, err := svc.Converse(context.Background(), "u1", "", "hello")
	if !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if history.pairs != 0 {
		t.Fatal("a refused exchange must not be persisted")
	}
}

func TestConverse_ExhaustedBudgetRefusedBeforeAnyWork(t *testing.T) {
	// The grounding search may answer from its cache without touching the
	// ledger, so the exhausted state must be caught up front.
	search := &mockSearcher{results: []domain.SearchResult{
		{ID: "b1", Metadata: map[string]string{"title": "Dune"}},
	}}
	model := &mockCompleter{replies: []domain.Completion{{Content: "a reply"}}}
	ledger := &mockChatLedger{checkErr: domain.ErrBudgetExceeded}
	history := newMockHistory()
	svc := newTestService(search, &mockTitleIndex{}, model, ledger, history)

	_, err := svc.Converse(context.Background(), "u1", "", "hello")
	if !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if len(search.queries) != 0 {
		t.Fatal("grounding search must not run for an exhausted actor")
	}
	if len(model.requests) != 0 {
		t.Fatal("completion must not run for an exhausted actor")
	}
	if ledger.charges != 0 || history.pairs != 0 {
		t.Fatal("a refused request must not bill or persist anything")
	}
}

func TestConverse_GroundingSearchBudgetErrorStopsPipeline(t *testing.T) {
	search := &mockSearcher{err: domain.ErrBudgetExceeded}
	model := &mockCompleter{}
	svc := newTestService(search, &mockTitleIndex{}, model, &mockChatLedger{}, newMockHistory())

	_, err := svc.Converse(context.Background(), "u1", "", "hello")
	if !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if len(model.requests) != 0 {
		t.Fatal("completion must not run once the cap is reached")
	}
}

func TestConverse_PersistenceFailureStillReturnsReply(t *testing.T) {
	search := &mockSearcher{}
	model := &mockCompleter{replies: []domain.Completion{{Content: "a reply"}}}
	history := newMockHistory()
	history.appendErr = errors.New("disk full")
	svc := newTestService(search, &mockTitleIndex{}, model, &mockChatLedger{}, history)

	res, err := svc.Converse(context.Background(), "u1", "", "hello")
	if err != nil {
		t.Fatalf("persistence failure must be swallowed: %v", err)
	}
	if res.Reply != "a reply" {
		t.Fatalf("unexpected reply %q", res.Reply)
	}
}

func TestConverse_EmptyMessageRejected(t *testing.T) {
	svc := newTestService(&mockSearcher{}, &mockTitleIndex{}, &mockCompleter{}, &mockChatLedger{}, newMockHistory())

	_, err := svc.Converse(context.Background(), "u1", "", "   ")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConverse_EstimatesTokensWhenUsageMissing(t *testing.T) {
	search := &mockSearcher{}
	model := &mockCompleter{replies: []domain.Completion{{Content: "a reply with some words"}}}
	ledger := &mockChatLedger{}
	svc := newTestService(search, &mockTitleIndex{}, model, ledger, newMockHistory())

	msg := "recommend something"
	if _, err := svc.Converse(context.Background(), "u1", "", msg); err != nil {
		t.Fatalf("Converse: %v", err)
	}
	want := domain.EstimateTokens(msg) + domain.EstimateTokens("a reply with some words")
	if ledger.units != want {
		t.Fatalf("expected estimated units %d, got %d", want, ledger.units)
	}
	if ledger.cost <= 0 {
		t.Fatalf("expected positive cost, got %f", ledger.cost)
	}
}
