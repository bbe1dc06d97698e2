// Package proxy implements the chat protocol endpoint that forwards agent
// turns to the LangGraph deployment and streams the translated events back
// to the browser as server-sent events.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/copilot-bridge/internal/agentstate"
	"github.com/ashureev/copilot-bridge/internal/langgraph"
	"github.com/ashureev/copilot-bridge/internal/runtime"
	"github.com/ashureev/copilot-bridge/internal/store"
	"github.com/ashureev/copilot-bridge/internal/suggest"
	"github.com/ashureev/copilot-bridge/internal/transcript"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxBodyBytes bounds a chat request body.
const DefaultMaxBodyBytes = 1 << 20

// DefaultKeepaliveInterval is how often an idle stream gets a ping comment.
const DefaultKeepaliveInterval = 10 * time.Second

// BackendFactory builds the remote client for one request. authorization is
// the caller's Authorization header, empty when absent.
type BackendFactory func(authorization string) (runtime.Backend, error)

// LangGraphBackend returns a factory creating one LangGraph client per
// request, bound to baseURL and forwarding the caller's Authorization
// header. apiKey, when set, is sent as X-Api-Key.
func LangGraphBackend(baseURL, apiKey string, client *http.Client) BackendFactory {
	return func(authorization string) (runtime.Backend, error) {
		headers := map[string]string{}
		if authorization != "" {
			headers["Authorization"] = authorization
		}
		c, err := langgraph.New(langgraph.Options{
			BaseURL:        baseURL,
			APIKey:         apiKey,
			DefaultHeaders: headers,
			HTTPClient:     client,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Suggester produces follow-up prompts.
type Suggester interface {
	Suggest(ctx context.Context, history []suggest.Message, count int) ([]string, error)
}

// Options configures a Handler.
type Options struct {
	// OpenAIAPIKey is the credential the agent deployment needs. Every
	// request is refused while it is empty.
	OpenAIAPIKey    string
	DeploymentURL   string
	LangSmithAPIKey string
	PublicAPIKey    string
	MaxBodyBytes    int64
	// KeepaliveInterval spaces SSE ping comments while the agent is quiet.
	KeepaliveInterval time.Duration

	Agents     *runtime.Registry
	Renderer   runtime.Renderer
	Hub        *agentstate.Hub
	Store      store.Repository
	Suggester  Suggester
	Transcript transcript.Logger
	NewBackend BackendFactory
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Handler serves the chat protocol endpoint.
type Handler struct {
	opts     Options
	locks    *threadLocks
	recorder *store.Recorder
	logger   *slog.Logger
}

// New creates a proxy handler. Agents defaults to runtime.DefaultRegistry,
// Hub to a private hub and NewBackend to LangGraphBackend over the
// deployment URL.
func New(opts Options) (*Handler, error) {
	if opts.Agents == nil {
		opts.Agents = runtime.DefaultRegistry()
	}
	if opts.Hub == nil {
		opts.Hub = agentstate.NewHub()
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.Transcript == nil {
		opts.Transcript = transcript.Nop{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.DeploymentURL == "" {
		opts.DeploymentURL = langgraph.DefaultDeploymentURL
	}
	if opts.NewBackend == nil {
		opts.NewBackend = LangGraphBackend(opts.DeploymentURL, opts.LangSmithAPIKey, nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		return nil, errors.New("proxy: store is required")
	}
	return &Handler{
		opts:     opts,
		locks:    newThreadLocks(),
		recorder: store.NewRecorder(opts.Store, opts.Hub),
		logger:   opts.Logger,
	}, nil
}

// RegisterRoutes registers the chat protocol routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/copilotkit", func(r chi.Router) {
		r.Post("/", h.Run)
		r.Get("/info", h.Info)
		r.Post("/suggestions", h.Suggestions)
	})
}

// credentialsMissing writes the misconfiguration response when the OpenAI
// credential is absent and reports whether it did.
func (h *Handler) credentialsMissing(w http.ResponseWriter) bool {
	if h.opts.OpenAIAPIKey != "" {
		return false
	}
	h.logger.Error("OPENAI_API_KEY is not set; add it to .env.local or the server environment and restart")
	writeError(w, http.StatusInternalServerError, "OPENAI_API_KEY is not configured on the server")
	return true
}
