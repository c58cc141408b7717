package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	chatuc "github.com/kailas-cloud/librarian/internal/usecase/chat"
	healthuc "github.com/kailas-cloud/librarian/internal/usecase/health"
)

const defaultTopK = 5

// QueryService is the semantic search pipeline.
type QueryService interface {
	Search(ctx context.Context, actorID string, req domain.QueryRequest) ([]domain.SearchResult, error)
}

// ChatService is the conversational pipeline.
type ChatService interface {
	Converse(ctx context.Context, actorID, sessionID, message string) (chatuc.Result, error)
}

// AccountService registers users and issues tokens.
type AccountService interface {
	Register(ctx context.Context, email, password string) (domain.User, error)
	Login(ctx context.Context, email, password string) (string, error)
}

// FavoritesService manages users' saved books.
type FavoritesService interface {
	Add(ctx context.Context, userID, bookID, title string) (domain.Favorite, error)
	List(ctx context.Context, userID string) ([]domain.Favorite, error)
	Remove(ctx context.Context, userID, bookID string) error
}

// LedgerReader exposes spend aggregates.
type LedgerReader interface {
	Stats(ctx context.Context, actorID string) domain.BudgetState
}

// UsageCounter counts recorded usage entries.
type UsageCounter interface {
	CountUsage(ctx context.Context, actorID string) (int64, error)
}

// HealthService aggregates dependency checks.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API.
type Server struct {
	query         QueryService
	chat          ChatService
	accounts      AccountService
	favorites     FavoritesService
	ledger        LedgerReader
	usage         UsageCounter
	health        HealthService
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	query QueryService,
	chat ChatService,
	accounts AccountService,
	favorites FavoritesService,
	ledger LedgerReader,
	usage UsageCounter,
	health HealthService,
	logger *zap.Logger,
) *Server {
	s := &Server{
		query:     query,
		chat:      chat,
		accounts:  accounts,
		favorites: favorites,
		ledger:    ledger,
		usage:     usage,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, "validation_failed"),
		sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, "not_found"),
		sentinelHandler(domain.ErrAlreadyExists, http.StatusConflict, "already_exists"),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"),
		sentinelHandler(domain.ErrBudgetExceeded, http.StatusPaymentRequired, "budget_exceeded"),
		sentinelHandler(domain.ErrCollectionNotFound, http.StatusInternalServerError, "collection_not_found"),
		sentinelHandler(domain.ErrUpstreamUnavailable, http.StatusBadGateway, "upstream_error"),
	}
	return s
}

// Register attaches all routes to the router.
func (s *Server) Register(r chi.Router) {
	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/query", s.handleQuery)
	r.Post("/chat", s.handleChat)
	r.Get("/user/stats", s.handleUserStats)
	r.Post("/user/favorites", s.handleAddFavorite)
	r.Get("/user/favorites", s.handleListFavorites)
	r.Delete("/user/favorites", s.handleRemoveFavorite)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// handleRegister handles POST /auth/register.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	u, err := s.accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{ID: u.ID, Email: u.Email})
}

type loginResponse struct {
	Token string `json:"token"`
}

// handleLogin handles POST /auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	token, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

type queryRequest struct {
	Text  string            `json:"text"`
	K     int               `json:"k"`
	Where map[string]string `json:"where"`
}

type queryResponse struct {
	Query          string                `json:"query"`
	Results        []domain.SearchResult `json:"results"`
	BudgetExceeded bool                  `json:"budgetExceeded,omitempty"`
}

// handleQuery handles POST /query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "text is required")
		return
	}
	if req.K == 0 {
		req.K = defaultTopK
	}

	qr, err := domain.NewQueryRequest(req.Text, req.K, req.Where)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	results, err := s.query.Search(r.Context(), ActorID(r.Context()), qr)
	if err != nil {
		// A charge that crossed the cap still produced a valid answer.
		if !errors.Is(err, domain.ErrBudgetExceeded) || results == nil {
			s.handleDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Query:          req.Text,
		Results:        results,
		BudgetExceeded: err != nil,
	})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type budgetStatus struct {
	SpentUSD     float64 `json:"spentUsd"`
	LimitUSD     float64 `json:"limitUsd"`
	RemainingUSD float64 `json:"remainingUsd"`
}

func toBudgetStatus(b domain.BudgetState) budgetStatus {
	return budgetStatus{
		SpentUSD:     b.SpentUSD,
		LimitUSD:     b.LimitUSD,
		RemainingUSD: b.RemainingUSD(),
	}
}

type chatResponse struct {
	Message       string                `json:"message"`
	SessionID     string                `json:"sessionId"`
	SearchResults []domain.SearchResult `json:"searchResults"`
	Budget        budgetStatus          `json:"budget"`
}

// handleChat handles POST /chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "message is required")
		return
	}

	actorID := ActorID(r.Context())
	res, err := s.chat.Converse(r.Context(), actorID, req.SessionID, req.Message)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	state := s.ledger.Stats(r.Context(), "")
	writeJSON(w, http.StatusOK, chatResponse{
		Message:       res.Reply,
		SessionID:     res.SessionID,
		SearchResults: res.Sources,
		Budget:        toBudgetStatus(state),
	})
}

type userStatsResponse struct {
	Records      int64        `json:"records"`
	TotalCostUSD float64      `json:"totalCostUsd"`
	Budget       budgetStatus `json:"budget"`
}

// handleUserStats handles GET /user/stats.
func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	actorID := ActorID(r.Context())
	if actorID == "" {
		s.handleDomainError(w, domain.ErrUnauthorized)
		return
	}

	count, err := s.usage.CountUsage(r.Context(), actorID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	actorState := s.ledger.Stats(r.Context(), actorID)
	globalState := s.ledger.Stats(r.Context(), "")

	writeJSON(w, http.StatusOK, userStatsResponse{
		Records:      count,
		TotalCostUSD: actorState.SpentUSD,
		Budget:       toBudgetStatus(globalState),
	})
}

type favoriteRequest struct {
	BookID string `json:"bookId"`
	Title  string `json:"title"`
}

type favoriteResponse struct {
	BookID string `json:"bookId"`
	Title  string `json:"title"`
}

type favoritesListResponse struct {
	Favorites []favoriteResponse `json:"favorites"`
}

// handleAddFavorite handles POST /user/favorites.
func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	actorID := ActorID(r.Context())
	if actorID == "" {
		s.handleDomainError(w, domain.ErrUnauthorized)
		return
	}

	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	fav, err := s.favorites.Add(r.Context(), actorID, req.BookID, req.Title)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, favoriteResponse{BookID: fav.BookID, Title: fav.Title})
}

// handleListFavorites handles GET /user/favorites.
func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	actorID := ActorID(r.Context())
	if actorID == "" {
		s.handleDomainError(w, domain.ErrUnauthorized)
		return
	}

	favs, err := s.favorites.List(r.Context(), actorID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	out := make([]favoriteResponse, 0, len(favs))
	for _, f := range favs {
		out = append(out, favoriteResponse{BookID: f.BookID, Title: f.Title})
	}
	writeJSON(w, http.StatusOK, favoritesListResponse{Favorites: out})
}

// handleRemoveFavorite handles DELETE /user/favorites. The book id comes in
// as a query parameter because OpenLibrary keys contain slashes.
func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	actorID := ActorID(r.Context())
	if actorID == "" {
		s.handleDomainError(w, domain.ErrUnauthorized)
		return
	}

	bookID := r.URL.Query().Get("bookId")
	if err := s.favorites.Remove(r.Context(), actorID, bookID); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	OK       bool              `json:"ok"`
	Services map[string]string `json:"services"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	services := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		services[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{
		OK:       report.Status == healthuc.Healthy,
		Services: services,
	})
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidInput,
		domain.ErrUnauthorized,
		domain.ErrNotFound,
		domain.ErrAlreadyExists,
		domain.ErrRateLimited,
		domain.ErrBudgetExceeded,
		domain.ErrCollectionNotFound,
		domain.ErrUpstreamUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
