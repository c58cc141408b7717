package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
)

// BookIndex receives the embedded records.
type BookIndex interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, recs []domain.BookRecord) error
}

// Options tune one ingestion run.
type Options struct {
	BatchSize    int
	MaxRecords   int
	MaxDescChars int
}

// Stats summarizes a completed run.
type Stats struct {
	Ingested      int
	Skipped       int
	Tokens        int64
	EstCostUSD    float64
	Batches       int
	FailedBatches int
}

// Ingester streams dump records through the batch embedder into the index.
type Ingester struct {
	embedder domain.BatchEmbedder
	index    BookIndex
	logger   *zap.Logger
}

// New creates an ingester.
func New(embedder domain.BatchEmbedder, index BookIndex, logger *zap.Logger) *Ingester {
	return &Ingester{embedder: embedder, index: index, logger: logger}
}

// Run reads records until MaxRecords or the dump ends, embedding and
// upserting in batches. A failing batch is logged and skipped so one bad
// batch does not abort a long run.
func (ing *Ingester) Run(ctx context.Context, r *Reader, opts Options) (Stats, error) {
	if opts.BatchSize <= 0 {
		return Stats{}, fmt.Errorf("%w: batch size must be positive", domain.ErrInvalidInput)
	}

	if err := ing.index.EnsureIndex(ctx); err != nil {
		return Stats{}, fmt.Errorf("ensure index: %w", err)
	}

	var stats Stats
	read := 0
	batch := make([]domain.BookRecord, 0, opts.BatchSize)

	for opts.MaxRecords <= 0 || read < opts.MaxRecords {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}

		batch = append(batch, rec.ToBook(opts.MaxDescChars))
		read++
		if len(batch) >= opts.BatchSize {
			ing.flush(ctx, batch, &stats)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		ing.flush(ctx, batch, &stats)
	}

	stats.Skipped = r.Skipped()
	ing.logger.Info("ingestion finished",
		zap.Int("ingested", stats.Ingested),
		zap.Int("skipped", stats.Skipped),
		zap.Int64("tokens", stats.Tokens),
		zap.Float64("est_cost_usd", stats.EstCostUSD),
		zap.Int("failed_batches", stats.FailedBatches),
	)
	return stats, nil
}

func (ing *Ingester) flush(ctx context.Context, batch []domain.BookRecord, stats *Stats) {
	stats.Batches++

	texts := make([]string, len(batch))
	for i, b := range batch {
		texts[i] = b.Text
	}

	vecs, tokens, err := ing.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		stats.FailedBatches++
		ing.logger.Warn("batch embedding failed, skipping batch",
			zap.Int("size", len(batch)), zap.Error(err))
		return
	}
	for i := range batch {
		batch[i].Vector = vecs[i]
	}

	if err := ing.index.Upsert(ctx, batch); err != nil {
		stats.FailedBatches++
		ing.logger.Warn("batch upsert failed, skipping batch",
			zap.Int("size", len(batch)), zap.Error(err))
		return
	}

	cost := domain.EmbeddingCost(tokens)
	stats.Ingested += len(batch)
	stats.Tokens += tokens
	stats.EstCostUSD += cost
	ing.logger.Info("batch upserted",
		zap.Int("size", len(batch)),
		zap.Int64("tokens", tokens),
		zap.Float64("est_cost_usd", cost),
		zap.Int("total", stats.Ingested),
	)
}
