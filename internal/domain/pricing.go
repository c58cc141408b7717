package domain

// Pricing constants for the cost heuristic. Roughly four characters per
// token; per-million-token prices track the provider's published rates for
// text-embedding-3-small and gpt-4o-mini.
const (
	charsPerToken = 4

	embeddingUSDPerMTok  = 0.02
	chatInputUSDPerMTok  = 0.15
	chatOutputUSDPerMTok = 0.60
)

// EstimateTokens approximates token count for text the provider never
// reported usage for. The estimate is a heuristic, not token-exact; no
// correctness property depends on the specific estimator.
func EstimateTokens(text string) int64 {
	return int64(len(text)/charsPerToken) + 1
}

// EmbeddingCost prices embedding token usage in USD.
func EmbeddingCost(tokens int64) float64 {
	return float64(tokens) * embeddingUSDPerMTok / 1e6
}

// ChatCost prices a completion round-trip in USD from token usage.
func ChatCost(promptTokens, completionTokens int64) float64 {
	return float64(promptTokens)*chatInputUSDPerMTok/1e6 +
		float64(completionTokens)*chatOutputUSDPerMTok/1e6
}
