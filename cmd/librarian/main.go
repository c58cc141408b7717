package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/config"
	dbRedis "github.com/kailas-cloud/librarian/internal/db/redis"
	logpkg "github.com/kailas-cloud/librarian/internal/logger"
	"github.com/kailas-cloud/librarian/internal/metrics"
	booksrepo "github.com/kailas-cloud/librarian/internal/repository/books"
	"github.com/kailas-cloud/librarian/internal/repository/chatstore"
	"github.com/kailas-cloud/librarian/internal/repository/ratelimit"
	"github.com/kailas-cloud/librarian/internal/repository/respcache"
	chiTransport "github.com/kailas-cloud/librarian/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/librarian/internal/transport/openai"
	authuc "github.com/kailas-cloud/librarian/internal/usecase/auth"
	chatuc "github.com/kailas-cloud/librarian/internal/usecase/chat"
	favuc "github.com/kailas-cloud/librarian/internal/usecase/favorites"
	healthuc "github.com/kailas-cloud/librarian/internal/usecase/health"
	ledgeruc "github.com/kailas-cloud/librarian/internal/usecase/ledger"
	queryuc "github.com/kailas-cloud/librarian/internal/usecase/query"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting librarian API server",
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("sqlite_path", cfg.Storage.SQLitePath),
		zap.Float64("budget_limit_usd", cfg.Budget.LimitUSD),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	chats, err := chatstore.Open(cfg.Storage.SQLitePath)
	if err != nil {
		logger.Fatal("Failed to open chat store", zap.Error(err))
	}
	defer chats.Close()

	metrics.RegisterPipelineMetrics()

	// External provider clients
	providerCfg := &openaiTransport.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		ChatModel:      cfg.OpenAI.ChatModel,
		Dimensions:     cfg.OpenAI.Dimensions,
	}
	embedder := openaiTransport.NewEmbedder(providerCfg, logger)
	completer := openaiTransport.NewCompleter(providerCfg, logger)

	// Repositories
	books := booksrepo.New(store, cfg.OpenAI.Dimensions)
	if err := books.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure book index", zap.Error(err))
	}
	cache := respcache.New(store, time.Duration(cfg.Cache.TTLSec)*time.Second, metrics.QueryCacheTotal, logger)
	limiter := ratelimit.New(store, cfg.RateLimit.PerMinute, time.Minute)

	// Use case services
	ledgerSvc := ledgeruc.New(cfg.Budget.LimitUSD, chats, logger)
	querySvc := queryuc.New(books, cache, ledgerSvc, embedder)
	chatSvc := chatuc.New(querySvc, books, completer, ledgerSvc, chats, logger)
	authSvc := authuc.New(chats)
	favSvc := favuc.New(chats)
	healthSvc := healthuc.New(store, chats, embedder)

	server := chiTransport.NewServer(querySvc, chatSvc, authSvc, favSvc, ledgerSvc, chats, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(authSvc))
	r.Use(chiTransport.RateLimitMiddleware(limiter))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
