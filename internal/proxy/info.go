package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/copilot-bridge/internal/api"
	"github.com/ashureev/copilot-bridge/internal/runtime"
	"github.com/ashureev/copilot-bridge/internal/suggest"
)

type agentInfo struct {
	Name        string `json:"name"`
	GraphID     string `json:"graphId"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// Info lists the registered agents.
func (h *Handler) Info(w http.ResponseWriter, _ *http.Request) {
	def := h.opts.Agents.Default().Name
	agents := make([]agentInfo, 0)
	for _, a := range h.opts.Agents.Agents() {
		agents = append(agents, agentInfo{
			Name:        a.Name,
			GraphID:     a.GraphID,
			Description: a.Description,
			Default:     a.Name == def,
		})
	}
	api.JSON(w, http.StatusOK, map[string]interface{}{
		"agents":                 agents,
		"publicApiKeyConfigured": h.opts.PublicAPIKey != "",
	})
}

type suggestionsRequest struct {
	ThreadID string                 `json:"threadId,omitempty"`
	Messages []runtime.InputMessage `json:"messages"`
	Count    int                    `json:"count,omitempty"`
}

// Suggestions returns follow-up prompts for a conversation.
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	if h.credentialsMissing(w) {
		return
	}
	if h.opts.Suggester == nil {
		writeError(w, http.StatusServiceUnavailable, "suggestions are not enabled")
		return
	}

	var req suggestionsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	history := make([]suggest.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		history = append(history, suggest.Message{Role: m.Role, Content: m.Content})
	}

	out, err := h.opts.Suggester.Suggest(r.Context(), history, req.Count)
	if err != nil {
		h.logger.Error("suggestions failed", "thread_id", req.ThreadID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to generate suggestions")
		return
	}
	if out == nil {
		out = []string{}
	}
	api.JSON(w, http.StatusOK, map[string]interface{}{"suggestions": out})
}

func writeError(w http.ResponseWriter, status int, message string) {
	api.Error(w, status, message)
}
