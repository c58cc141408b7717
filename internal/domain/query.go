package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// QueryRequest is an immutable semantic search request.
// Construct via NewQueryRequest; zero value is invalid.
type QueryRequest struct {
	text   string
	topK   int
	filter map[string]string
}

// NewQueryRequest validates and builds a QueryRequest.
// The filter map is copied so later mutation by the caller has no effect.
func NewQueryRequest(text string, topK int, filter map[string]string) (QueryRequest, error) {
	if strings.TrimSpace(text) == "" {
		return QueryRequest{}, fmt.Errorf("%w: query text is required", ErrInvalidInput)
	}
	if topK <= 0 {
		return QueryRequest{}, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidInput, topK)
	}

	var f map[string]string
	if len(filter) > 0 {
		f = make(map[string]string, len(filter))
		for k, v := range filter {
			f[k] = v
		}
	}
	return QueryRequest{text: text, topK: topK, filter: f}, nil
}

// Text returns the raw query text.
func (q QueryRequest) Text() string { return q.text }

// TopK returns the requested result count.
func (q QueryRequest) TopK() int { return q.topK }

// Filter returns the metadata predicate as a copy (nil when unset).
func (q QueryRequest) Filter() map[string]string {
	if q.filter == nil {
		return nil
	}
	f := make(map[string]string, len(q.filter))
	for k, v := range q.filter {
		f[k] = v
	}
	return f
}

// CacheKey derives a deterministic cache key from (text, topK, filter).
// Filter keys are sorted so equivalent maps produce identical keys.
func (q QueryRequest) CacheKey() string {
	var sb strings.Builder
	sb.WriteString(q.text)
	fmt.Fprintf(&sb, "\x00%d", q.topK)

	keys := make([]string, 0, len(q.filter))
	for k := range q.filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "\x00%s=%s", k, q.filter[k])
	}

	h := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(h[:])
}
