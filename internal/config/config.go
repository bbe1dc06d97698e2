// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	AgentsFile  string
	LogLevel    slog.Level
	ThreadTTL   time.Duration
	// ChatSessionIdle is how long an unused chat session stays in memory.
	ChatSessionIdle time.Duration
	// ShowStateDebug adds the raw agent state JSON to the chat view.
	ShowStateDebug bool

	// CopilotCloudPublicAPIKey is the optional public key handed to chat clients.
	CopilotCloudPublicAPIKey string

	OpenAI     OpenAIConfig
	LangGraph  LangGraphConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Proxy      ProxyConfig
	Transcript TranscriptConfig
}

// OpenAIConfig configures the LLM provider used for additional features.
type OpenAIConfig struct {
	// APIKey is checked per request; an empty key fails requests, not startup.
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries int
}

// LangGraphConfig locates the agent deployment.
type LangGraphConfig struct {
	DeploymentURL string
	// APIKey is the LangSmith key, forwarded as X-Api-Key when set.
	APIKey string
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	// JWTSecret enables HMAC verification of bearer tokens when set.
	JWTSecret string
}

// RateLimitConfig bounds chat requests per identity.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// ProxyConfig bounds proxied chat requests.
type ProxyConfig struct {
	MaxRequestBodyBytes int64
	// KeepaliveInterval is how often an idle event stream gets a comment line.
	KeepaliveInterval time.Duration
}

// TranscriptConfig controls per-thread conversation logs.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                     getEnv("PORT", "8080"),
		FrontendURL:              getEnv("FRONTEND_URL", ""),
		DBPath:                   getEnv("DB_PATH", "./data/threads.db"),
		AgentsFile:               getEnv("AGENTS_FILE", "./agents.yaml"),
		LogLevel:                 getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		ThreadTTL:                getEnvDuration("THREAD_TTL", 7*24*time.Hour),
		ChatSessionIdle:          getEnvDuration("CHAT_SESSION_IDLE", 30*time.Minute),
		ShowStateDebug:           getEnvBool("CHAT_DEBUG_STATE", true),
		CopilotCloudPublicAPIKey: getEnv("COPILOT_CLOUD_PUBLIC_API_KEY", ""),
		OpenAI: OpenAIConfig{
			APIKey:     getEnv("OPENAI_API_KEY", ""),
			Model:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:    getEnv("OPENAI_BASE_URL", ""),
			MaxRetries: getEnvInt("OPENAI_MAX_RETRIES", 2),
		},
		LangGraph: LangGraphConfig{
			DeploymentURL: getEnv("LANGGRAPH_DEPLOYMENT_URL", "http://localhost:80/api/agents"),
			APIKey:        getEnv("LANGSMITH_API_KEY", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 2),
			Burst: getEnvInt("RATE_LIMIT_BURST", 10),
		},
		Proxy: ProxyConfig{
			MaxRequestBodyBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
			KeepaliveInterval:   getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/conversations"),
			QueueSize: getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 256),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LangGraph.DeploymentURL == "" {
		return fmt.Errorf("LANGGRAPH_DEPLOYMENT_URL cannot be empty")
	}
	if c.RateLimit.RPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be > 0")
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be > 0")
	}
	if c.Proxy.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.Proxy.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty when logging is enabled")
	}
	if c.ThreadTTL <= 0 {
		return fmt.Errorf("THREAD_TTL must be > 0")
	}
	if c.ChatSessionIdle <= 0 {
		return fmt.Errorf("CHAT_SESSION_IDLE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"http://localhost:3000", "http://localhost:" + c.Port}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, strings.TrimRight(o, "/"))
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
