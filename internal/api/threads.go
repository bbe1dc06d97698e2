package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/copilot-bridge/internal/agentstate"
	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/ashureev/copilot-bridge/internal/identity"
	"github.com/ashureev/copilot-bridge/internal/store"
	"github.com/go-chi/chi/v5"
)

// ThreadDeletedFunc is called after a thread record is removed.
type ThreadDeletedFunc func(thread *domain.Thread)

// ThreadHandler serves the caller's thread index.
type ThreadHandler struct {
	repo      store.Repository
	onDeleted ThreadDeletedFunc
}

// NewThreadHandler creates a thread handler. onDeleted may be nil.
func NewThreadHandler(repo store.Repository, onDeleted ThreadDeletedFunc) *ThreadHandler {
	return &ThreadHandler{repo: repo, onDeleted: onDeleted}
}

// RegisterRoutes registers thread routes.
func (h *ThreadHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/threads", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{thread}", h.Get)
		r.Delete("/{thread}", h.Delete)
	})
}

type threadView struct {
	*domain.Thread
	State agentstate.State `json:"state,omitempty"`
}

func newThreadView(t *domain.Thread) threadView {
	v := threadView{Thread: t}
	if t.HasState() {
		if err := json.Unmarshal([]byte(t.StateJSON), &v.State); err != nil {
			slog.Warn("stored thread state is not valid JSON", "thread_id", t.ThreadID, "error", err)
		}
	}
	return v
}

// List returns the caller's threads, newest first.
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	threads, err := h.repo.ListThreads(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list threads", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list threads")
		return
	}

	if threads == nil {
		threads = []*domain.Thread{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"threads": threads})
}

// Get returns one of the caller's threads with its last recorded state.
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.owned(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, newThreadView(t))
}

// Delete forgets one of the caller's threads locally. The remote thread is kept.
func (h *ThreadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	t, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteThread(r.Context(), t.ThreadID); err != nil {
		slog.Error("Failed to delete thread", "thread_id", t.ThreadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete thread")
		return
	}
	if h.onDeleted != nil {
		h.onDeleted(t)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ThreadHandler) owned(w http.ResponseWriter, r *http.Request) (*domain.Thread, bool) {
	userID := identity.UserIDFromContext(r.Context())
	threadID := chi.URLParam(r, "thread")

	t, err := h.repo.GetThread(r.Context(), threadID)
	if err != nil {
		slog.Error("Failed to load thread", "thread_id", threadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load thread")
		return nil, false
	}
	if t == nil || t.OwnerID != userID {
		Error(w, http.StatusNotFound, "thread not found")
		return nil, false
	}
	return t, true
}
