package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LangGraph.DeploymentURL != "http://localhost:80/api/agents" {
		t.Fatalf("unexpected deployment url %q", cfg.LangGraph.DeploymentURL)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model %q", cfg.OpenAI.Model)
	}
	if cfg.OpenAI.APIKey != "" {
		t.Fatal("missing OpenAI key must not fail startup")
	}
	if cfg.ChatSessionIdle != 30*time.Minute {
		t.Fatalf("unexpected chat session idle %v", cfg.ChatSessionIdle)
	}
}

func TestValidateRejectsZeroSessionIdle(t *testing.T) {
	t.Setenv("CHAT_SESSION_IDLE", "0s")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero chat session idle")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("RATE_LIMIT_RPS", "0.5")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("THREAD_TTL", "2h")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FRONTEND_URL", "https://app.example.com/, https://admin.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "9000" || cfg.RateLimit.RPS != 0.5 || cfg.RateLimit.Burst != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.ThreadTTL != 2*time.Hour {
		t.Fatalf("unexpected ttl %v", cfg.ThreadTTL)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected log level %v", cfg.LogLevel)
	}
	if cfg.IsDevelopment() {
		t.Fatal("expected production mode")
	}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[0] != "https://app.example.com" {
		t.Fatalf("unexpected origins %v", origins)
	}
}

func TestValidateRejectsBadLimits(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero burst")
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("FLAG", "yes")
	if !getEnvBool("FLAG", false) {
		t.Fatal("expected true")
	}
	t.Setenv("FLAG", "garbage")
	if getEnvBool("FLAG", false) {
		t.Fatal("expected fallback")
	}
}

func TestLoadStreamAndTranscriptSettings(t *testing.T) {
	t.Setenv("SSE_KEEPALIVE_INTERVAL", "3s")
	t.Setenv("CONVERSATION_LOG_ENABLED", "true")
	t.Setenv("CONVERSATION_LOG_DIR", "/tmp/convos")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Proxy.KeepaliveInterval != 3*time.Second {
		t.Fatalf("unexpected keepalive %v", cfg.Proxy.KeepaliveInterval)
	}
	if !cfg.Transcript.Enabled || cfg.Transcript.Dir != "/tmp/convos" || cfg.Transcript.QueueSize != 256 {
		t.Fatalf("unexpected transcript config: %+v", cfg.Transcript)
	}
}

func TestValidateRejectsEmptyTranscriptDir(t *testing.T) {
	t.Setenv("CONVERSATION_LOG_ENABLED", "true")
	t.Setenv("CONVERSATION_LOG_DIR", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for empty transcript dir")
	}
}
