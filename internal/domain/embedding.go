package domain

import "context"

// EmbeddingResult is the embedding provider's reply for a single text.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int64
	TotalTokens  int64
}

// BatchEmbedder vectorizes several texts in one provider round-trip.
// Returns one vector per input plus the request's total token usage.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, int64, error)
}
