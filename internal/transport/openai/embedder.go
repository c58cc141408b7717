package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/metrics"
)

const opEmbedding = "embedding"

// Embedder is an embedding provider using the OpenAI-compatible API.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	logger     *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding provider.
func NewEmbedder(cfg *Config, logger *zap.Logger) *Embedder {
	return &Embedder{
		client:     newClient(cfg),
		model:      openai.EmbeddingModel(cfg.EmbeddingModel),
		dimensions: cfg.Dimensions,
		logger:     logger,
	}
}

// Embed vectorizes a single text, returning the vector and the request's token usage.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	vecs, usage, err := e.embed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    vecs[0],
		PromptTokens: usage.PromptTokens,
		TotalTokens:  usage.TotalTokens,
	}, nil
}

// EmbedBatch vectorizes several texts in one request. Used by ingestion.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, int64, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}
	vecs, usage, err := e.embed(ctx, texts)
	if err != nil {
		return nil, 0, err
	}
	return vecs, usage.TotalTokens, nil
}

type embedUsage struct {
	PromptTokens int64
	TotalTokens  int64
}

func (e *Embedder) embed(ctx context.Context, input []string) ([][]float32, embedUsage, error) {
	req := openai.EmbeddingRequest{
		Input:          input,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()

	resp, err := e.client.CreateEmbeddings(ctx, req)

	duration := time.Since(start)

	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(opEmbedding, string(e.model), "error").Inc()
		return nil, embedUsage{}, parseAPIError(opEmbedding, err)
	}

	if len(resp.Data) != len(input) {
		metrics.ProviderRequestsTotal.WithLabelValues(opEmbedding, string(e.model), "error").Inc()
		return nil, embedUsage{}, fmt.Errorf(
			"embedding response has %d vectors for %d inputs: %w",
			len(resp.Data), len(input), domain.ErrUpstreamUnavailable)
	}

	metrics.ProviderRequestsTotal.WithLabelValues(opEmbedding, string(e.model), "success").Inc()
	metrics.ProviderRequestDuration.WithLabelValues(opEmbedding, string(e.model)).Observe(duration.Seconds())

	usage := embedUsage{
		PromptTokens: int64(resp.Usage.PromptTokens),
		TotalTokens:  int64(resp.Usage.TotalTokens),
	}
	if usage.TotalTokens > 0 {
		metrics.ProviderTokensTotal.WithLabelValues(opEmbedding, string(e.model), "prompt").
			Add(float64(usage.PromptTokens))
		metrics.ProviderTokensTotal.WithLabelValues(opEmbedding, string(e.model), "total").
			Add(float64(usage.TotalTokens))
	}

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, usage, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
