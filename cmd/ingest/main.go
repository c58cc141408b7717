package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/config"
	dbRedis "github.com/kailas-cloud/librarian/internal/db/redis"
	"github.com/kailas-cloud/librarian/internal/ingest"
	logpkg "github.com/kailas-cloud/librarian/internal/logger"
	"github.com/kailas-cloud/librarian/internal/metrics"
	booksrepo "github.com/kailas-cloud/librarian/internal/repository/books"
	openaiTransport "github.com/kailas-cloud/librarian/internal/transport/openai"
)

func main() {
	var (
		dumpPath   = flag.String("dump", "", "path to the OpenLibrary works dump (overrides config)")
		maxRecords = flag.Int("max-records", 0, "max records to ingest (overrides config)")
	)
	flag.Parse()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if *dumpPath != "" {
		cfg.Ingest.DumpPath = *dumpPath
	}
	if *maxRecords > 0 {
		cfg.Ingest.MaxRecords = *maxRecords
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting OpenLibrary ingestion",
		zap.String("env", env),
		zap.String("dump_path", cfg.Ingest.DumpPath),
		zap.Int("batch_size", cfg.Ingest.BatchSize),
		zap.Int("max_records", cfg.Ingest.MaxRecords),
		zap.String("model", cfg.OpenAI.EmbeddingModel),
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

	metrics.RegisterPipelineMetrics()

	embedder := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		Dimensions:     cfg.OpenAI.Dimensions,
	}, logger)
	books := booksrepo.New(store, cfg.OpenAI.Dimensions)

	reader, err := ingest.Open(cfg.Ingest.DumpPath)
	if err != nil {
		logger.Fatal("Failed to open dump", zap.Error(err))
	}
	defer reader.Close()

	ing := ingest.New(embedder, books, logger)
	stats, err := ing.Run(ctx, reader, ingest.Options{
		BatchSize:    cfg.Ingest.BatchSize,
		MaxRecords:   cfg.Ingest.MaxRecords,
		MaxDescChars: cfg.Ingest.MaxDescChars,
	})
	if err != nil {
		logger.Fatal("Ingestion failed", zap.Error(err))
	}

	logger.Info("Done",
		zap.Int("ingested", stats.Ingested),
		zap.Int("skipped", stats.Skipped),
		zap.Int("batches", stats.Batches),
		zap.Int("failed_batches", stats.FailedBatches),
		zap.Float64("est_cost_usd", stats.EstCostUSD),
	)
}
