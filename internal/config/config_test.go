package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "LLM_PROVIDER", "SESSION_STORE", "SESSION_TTL", "NOTIFY_EMAIL_RECIPIENTS", "LLM_STRUCTURED_OUTPUT"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.LLMProvider != "bedrock" {
		t.Fatalf("expected bedrock provider default, got %s", cfg.LLMProvider)
	}
	if cfg.SessionStore != "memory" {
		t.Fatalf("expected memory session store default, got %s", cfg.SessionStore)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("expected 24h session ttl, got %s", cfg.SessionTTL)
	}
	if !cfg.LLMStructuredOutput {
		t.Fatalf("expected structured output enabled by default")
	}
	if cfg.NotifyEmailRecipients != nil {
		t.Fatalf("expected no recipients, got %v", cfg.NotifyEmailRecipients)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LLM_PROVIDER", " Gemini ")
	t.Setenv("LLM_FALLBACK_PROVIDER", "anthropic")
	t.Setenv("LLM_TIMEOUT", "20s")
	t.Setenv("SESSION_STORE", "dynamodb")
	t.Setenv("NOTIFY_EMAIL_RECIPIENTS", "a@example.com, ,b@example.com")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://site.example")
	t.Setenv("CHAT_RATE_LIMIT_RPS", "2.5")
	t.Setenv("HISTORY_TOKEN_BUDGET", "not-a-number")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.LLMProvider != "gemini" {
		t.Fatalf("expected normalized provider, got %q", cfg.LLMProvider)
	}
	if cfg.LLMFallbackProvider != "anthropic" {
		t.Fatalf("expected fallback override, got %q", cfg.LLMFallbackProvider)
	}
	if cfg.LLMTimeout != 20*time.Second {
		t.Fatalf("expected timeout override, got %s", cfg.LLMTimeout)
	}
	if cfg.SessionStore != "dynamodb" {
		t.Fatalf("expected dynamodb store, got %s", cfg.SessionStore)
	}
	if len(cfg.NotifyEmailRecipients) != 2 || cfg.NotifyEmailRecipients[1] != "b@example.com" {
		t.Fatalf("unexpected recipients %v", cfg.NotifyEmailRecipients)
	}
	if len(cfg.CORSAllowedOrigins) != 1 {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.ChatRateLimitRPS != 2.5 {
		t.Fatalf("expected rps override, got %v", cfg.ChatRateLimitRPS)
	}
	if cfg.HistoryTokenBudget != 6000 {
		t.Fatalf("expected invalid int to fall back to default, got %d", cfg.HistoryTokenBudget)
	}
}
