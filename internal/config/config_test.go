package config

import (
	"strings"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected default read timeout 10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.OpenAI.EmbeddingModel != "text-embedding-3-small" {
		t.Errorf("unexpected default embedding model %q", cfg.OpenAI.EmbeddingModel)
	}
	if cfg.Cache.TTLSec != 300 {
		t.Errorf("expected default cache TTL 300, got %d", cfg.Cache.TTLSec)
	}
	if cfg.Ingest.BatchSize != 500 {
		t.Errorf("expected default ingest batch size 500, got %d", cfg.Ingest.BatchSize)
	}
}

func TestValidate_RequiresPort(t *testing.T) {
	cfg := Config{}
	cfg.Database.Addrs = []string{"localhost:6379"}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing port")
	}
}

func TestValidate_RequiresDatabaseAddrs(t *testing.T) {
	cfg := Config{}
	cfg.HTTP.Port = 8080
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "database.addrs") {
		t.Fatalf("expected database.addrs error, got %v", err)
	}
}

func TestValidate_RejectsNegativeBudget(t *testing.T) {
	cfg := Config{}
	cfg.HTTP.Port = 8080
	cfg.Database.Addrs = []string{"localhost:6379"}
	cfg.Budget.LimitUSD = -1
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative budget limit")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("LIBRARIAN_TEST_KEY", "sk-123")

	in := []byte("api_key: ${LIBRARIAN_TEST_KEY}\nmodel: ${LIBRARIAN_TEST_MISSING:-fallback}\n")
	out := string(expandEnvVars(in))

	if !strings.Contains(out, "api_key: sk-123") {
		t.Errorf("env variable not expanded: %s", out)
	}
	if !strings.Contains(out, "model: fallback") {
		t.Errorf("default value not applied: %s", out)
	}
}
