package api

import (
	"net/http"

	"github.com/ashureev/copilot-bridge/internal/identity"
	"github.com/ashureev/copilot-bridge/internal/runtime"
	"github.com/go-chi/chi/v5"
)

// ClientConfig is the frontend-visible server configuration.
type ClientConfig struct {
	ShowStateDebug     bool            `json:"show_state_debug"`
	SuggestionsEnabled bool            `json:"suggestions_enabled"`
	PublicAPIKey       string          `json:"public_api_key,omitempty"`
	DefaultAgent       string          `json:"default_agent"`
	Agents             []runtime.Agent `json:"agents"`
}

// SessionHandler serves caller identity and client configuration.
type SessionHandler struct {
	cfg ClientConfig
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(agents *runtime.Registry, cfg ClientConfig) *SessionHandler {
	cfg.DefaultAgent = agents.Default().Name
	cfg.Agents = agents.Agents()
	return &SessionHandler{cfg: cfg}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
	})
}

// GetMe returns the current caller's identity.
func (h *SessionHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    userID,
		"session_id": identity.SessionIDFromContext(r.Context()),
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *SessionHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.cfg)
}
