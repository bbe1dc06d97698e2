// Copilot Bridge - chat backend for LangGraph agents
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/copilot-bridge/internal/agentstate"
	"github.com/ashureev/copilot-bridge/internal/api"
	"github.com/ashureev/copilot-bridge/internal/chat"
	"github.com/ashureev/copilot-bridge/internal/config"
	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/ashureev/copilot-bridge/internal/identity"
	"github.com/ashureev/copilot-bridge/internal/middleware"
	"github.com/ashureev/copilot-bridge/internal/proxy"
	"github.com/ashureev/copilot-bridge/internal/runtime"
	"github.com/ashureev/copilot-bridge/internal/store"
	"github.com/ashureev/copilot-bridge/internal/suggest"
	"github.com/ashureev/copilot-bridge/internal/telemetry"
	"github.com/ashureev/copilot-bridge/internal/toolrender"
	"github.com/ashureev/copilot-bridge/internal/transcript"
	"github.com/ashureev/copilot-bridge/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	// .env.local wins over .env; godotenv never overrides variables already set.
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err == nil {
			slog.Info("Loaded environment file", "file", f)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"deployment_url", cfg.LangGraph.DeploymentURL,
		"openai_key_present", cfg.OpenAI.APIKey != "",
		"langsmith_key_present", cfg.LangGraph.APIKey != "",
	)
	if cfg.OpenAI.APIKey == "" {
		slog.Warn("OPENAI_API_KEY is not set; chat requests will fail until it is configured")
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	agents, err := runtime.LoadRegistry(cfg.AgentsFile)
	if err != nil {
		slog.Error("Failed to load agent registry", "error", err)
		os.Exit(1)
	}
	slog.Info("Agent registry loaded", "default", agents.Default().Name, "agents", len(agents.Agents()))

	tools := toolrender.Default()
	hub := agentstate.NewHub()
	tracer := telemetry.Tracer()
	newBackend := proxy.LangGraphBackend(cfg.LangGraph.DeploymentURL, cfg.LangGraph.APIKey, nil)

	var suggester proxy.Suggester
	if cfg.OpenAI.APIKey != "" {
		svc, err := suggest.New(suggest.Options{
			APIKey:     cfg.OpenAI.APIKey,
			Model:      cfg.OpenAI.Model,
			BaseURL:    cfg.OpenAI.BaseURL,
			MaxRetries: cfg.OpenAI.MaxRetries,
			Logger:     logger,
		})
		if err != nil {
			slog.Error("Failed to initialize suggestions", "error", err)
			os.Exit(1)
		}
		suggester = svc
		slog.Info("Suggestions enabled", "model", svc.Model())
	}

	conversations, err := transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := conversations.Close(); err != nil {
			slog.Error("Failed to flush conversation log", "error", err)
		}
	}()

	// Server-rendered chat pages run turns over a shared client.
	chatBackend, err := newBackend("")
	if err != nil {
		slog.Error("Failed to initialize agent client", "error", err)
		os.Exit(1)
	}
	chatRuntime, err := runtime.New(runtime.Options{
		Agents:   agents,
		Backend:  chatBackend,
		Renderer: tools,
		Hub:      hub,
		Logger:   logger,
		Tracer:   tracer,
	})
	if err != nil {
		slog.Error("Failed to initialize runtime", "error", err)
		os.Exit(1)
	}
	recorder := store.NewRecorder(repo, hub)
	sessions := chat.NewManager(chat.Options{
		Agent:           agents.Default().Name,
		Transport:       chatRuntime,
		Hub:             hub,
		Tools:           tools,
		Logger:          logger,
		StreamSubgraphs: agents.Default().StreamSubgraphs,
		ShowStateDebug:  cfg.ShowStateDebug,
		Recorder:        recorder,
	}, repo)
	defer sessions.Close()

	forgetThread := func(t *domain.Thread) {
		hub.Forget(t.AgentName, t.ThreadID)
		sessions.Forget(t.ThreadID)
	}

	// Initialize handlers.
	proxyHandler, err := proxy.New(proxy.Options{
		OpenAIAPIKey:      cfg.OpenAI.APIKey,
		DeploymentURL:     cfg.LangGraph.DeploymentURL,
		LangSmithAPIKey:   cfg.LangGraph.APIKey,
		PublicAPIKey:      cfg.CopilotCloudPublicAPIKey,
		MaxBodyBytes:      cfg.Proxy.MaxRequestBodyBytes,
		KeepaliveInterval: cfg.Proxy.KeepaliveInterval,
		Agents:            agents,
		Renderer:          tools,
		Hub:               hub,
		Store:             repo,
		Suggester:         suggester,
		Transcript:        conversations,
		NewBackend:        newBackend,
		Tracer:            tracer,
		Logger:            logger,
	})
	if err != nil {
		slog.Error("Failed to initialize proxy", "error", err)
		os.Exit(1)
	}
	pages, err := web.NewPages(web.PagesOptions{
		Sessions:     sessions,
		OpenAIAPIKey: cfg.OpenAI.APIKey,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to initialize chat pages", "error", err)
		os.Exit(1)
	}

	var wsOrigins []string
	if !cfg.IsDevelopment() {
		wsOrigins = originHosts(cfg.AllowedOrigins())
	}
	healthHandler := api.NewHealthHandler(repo)
	threadHandler := api.NewThreadHandler(repo, forgetThread)
	stateHandler := api.NewStateHandler(hub, repo, wsOrigins)
	toolsHandler := api.NewToolsHandler(tools)
	sessionHandler := api.NewSessionHandler(agents, api.ClientConfig{
		ShowStateDebug:     cfg.ShowStateDebug,
		SuggestionsEnabled: suggester != nil,
		PublicAPIKey:       cfg.CopilotCloudPublicAPIKey,
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	rateLimit := middleware.RateLimit(limiter, func(r *http.Request) string {
		if id := identity.UserIDFromContext(r.Context()); id != "" {
			return id
		}
		return identity.IPFromRequest(r)
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(identity.Options{IsDev: cfg.IsDevelopment(), JWTSecret: cfg.Auth.JWTSecret}))

	// Public routes.
	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	toolsHandler.RegisterRoutes(r)
	threadHandler.RegisterRoutes(r)
	stateHandler.RegisterRoutes(r)

	// Chat routes are rate limited per identity.
	r.Group(func(r chi.Router) {
		r.Use(rateLimit)
		proxyHandler.RegisterRoutes(r)
		pages.RegisterRoutes(r)
	})

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background workers.
	store.StartTTLWorker(ctx, repo, store.DefaultSweepInterval, cfg.ThreadTTL, forgetThread)
	slog.Info("TTL worker started", "thread_ttl", cfg.ThreadTTL)
	limiter.StartEviction(time.Minute, ctx.Done())
	sessions.StartSweeper(ctx, chat.DefaultSweepInterval, cfg.ChatSessionIdle)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// originHosts converts allowed origins to WebSocket origin patterns.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			hosts = append(hosts, o)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
