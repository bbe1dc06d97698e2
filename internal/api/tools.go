package api

import (
	"net/http"

	"github.com/ashureev/copilot-bridge/internal/toolrender"
	"github.com/go-chi/chi/v5"
)

// ToolsHandler lists render-only tool definitions.
type ToolsHandler struct {
	registry *toolrender.Registry
}

// NewToolsHandler creates a tools handler.
func NewToolsHandler(registry *toolrender.Registry) *ToolsHandler {
	return &ToolsHandler{registry: registry}
}

// RegisterRoutes registers the tools route.
func (h *ToolsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/tools", h.List)
}

// List returns every registered definition with its parameter schema.
func (h *ToolsHandler) List(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"tools": h.registry.Definitions()})
}
