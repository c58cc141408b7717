package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
)

func newTestCompleter(url string) *Completer {
	return NewCompleter(&Config{
		APIKey:    "test-key",
		BaseURL:   url,
		ChatModel: "test-chat-model",
	}, zap.NewNop())
}

func TestCompleter_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Tools []struct {
				Type     string `json:"type"`
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tools"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-chat-model" {
			t.Errorf("unexpected model %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "get_summary_by_title" {
			t.Errorf("tool declaration missing: %+v", req.Tools)
		}

		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck
		w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":"Try Dune."}}],
			"usage":{"prompt_tokens":42,"completion_tokens":7,"total_tokens":49}
		}`))
	}))
	defer server.Close()

	tools := []domain.ToolSpec{{
		Name:        "get_summary_by_title",
		Description: "Look up a summary",
		Parameters:  map[string]any{"type": "object"},
	}}
	msgs := []domain.Message{
		{Role: domain.RoleSystem, Content: "You are a librarian."},
		{Role: domain.RoleUser, Content: "recommend sci-fi"},
	}

	got, err := newTestCompleter(server.URL).Complete(context.Background(), msgs, tools)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got.Content != "Try Dune." {
		t.Errorf("unexpected content %q", got.Content)
	}
	if got.PromptTokens != 42 || got.CompletionTokens != 7 {
		t.Errorf("usage not mapped: %+v", got)
	}
}

func TestCompleter_MapsToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck
		w.Write([]byte(`{
			"choices":[{"message":{
				"role":"assistant",
				"tool_calls":[{"id":"call_1","type":"function",
					"function":{"name":"get_summary_by_title","arguments":"{\"title\":\"Dune\"}"}}]
			}}],
			"usage":{"prompt_tokens":30,"completion_tokens":12,"total_tokens":42}
		}`))
	}))
	defer server.Close()

	got, err := newTestCompleter(server.URL).Complete(context.Background(),
		[]domain.Message{{Role: domain.RoleUser, Content: "summarize Dune"}}, nil)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if len(got.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(got.ToolCalls))
	}
	call := got.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "get_summary_by_title" || call.Arguments != `{"title":"Dune"}` {
		t.Errorf("tool call not mapped: %+v", call)
	}
}

func TestCompleter_APIErrorWrapsUpstream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`)) //nolint:errcheck
	}))
	defer server.Close()

	_, err := newTestCompleter(server.URL).Complete(context.Background(),
		[]domain.Message{{Role: domain.RoleUser, Content: "hi"}}, nil)
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestCompleter_EmptyChoicesIsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`)) //nolint:errcheck
	}))
	defer server.Close()

	_, err := newTestCompleter(server.URL).Complete(context.Background(),
		[]domain.Message{{Role: domain.RoleUser, Content: "hi"}}, nil)
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}
