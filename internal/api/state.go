package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/copilot-bridge/internal/agentstate"
	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/ashureev/copilot-bridge/internal/identity"
	"github.com/ashureev/copilot-bridge/internal/store"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// StateHandler exposes the observed state of agent threads.
type StateHandler struct {
	hub            *agentstate.Hub
	repo           store.Repository
	originPatterns []string
}

// NewStateHandler creates a state handler. repo decides who may read a
// thread. originPatterns restrict WebSocket origins; empty allows any.
func NewStateHandler(hub *agentstate.Hub, repo store.Repository, originPatterns []string) *StateHandler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &StateHandler{hub: hub, repo: repo, originPatterns: originPatterns}
}

// RegisterRoutes registers state routes.
func (h *StateHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/agents/{agent}/threads/{thread}/state", h.Get)
	r.Get("/api/agents/{agent}/threads/{thread}/state/ws", h.Watch)
}

// thread loads the caller's thread for the route. Unknown threads, threads
// of another agent and threads owned by someone else are all 404.
func (h *StateHandler) thread(w http.ResponseWriter, r *http.Request) (*domain.Thread, bool) {
	agent, threadID := chi.URLParam(r, "agent"), chi.URLParam(r, "thread")
	userID := identity.UserIDFromContext(r.Context())

	t, err := h.repo.GetThread(r.Context(), threadID)
	if err != nil {
		slog.Error("Failed to load thread for state", "thread_id", threadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load thread")
		return nil, false
	}
	if t == nil || t.AgentName != agent || t.OwnerID != userID {
		Error(w, http.StatusNotFound, "thread not found")
		return nil, false
	}
	return t, true
}

// snapshot returns the live snapshot once anything has been observed,
// otherwise the last recorded one.
func (h *StateHandler) snapshot(t *domain.Thread) agentstate.Snapshot {
	if tr, ok := h.hub.Lookup(t.AgentName, t.ThreadID); ok {
		if snap := tr.Snapshot(); !snap.IsZero() {
			return snap
		}
	}
	snap := agentstate.Snapshot{NodeName: t.NodeName}
	if t.HasState() {
		if err := json.Unmarshal([]byte(t.StateJSON), &snap.State); err != nil {
			slog.Warn("stored thread state is not valid JSON", "thread_id", t.ThreadID, "error", err)
		}
	}
	return snap
}

// Get returns the current snapshot of an agent thread.
func (h *StateHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.thread(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, h.snapshot(t))
}

// Watch streams every snapshot change over a WebSocket.
func (h *StateHandler) Watch(w http.ResponseWriter, r *http.Request) {
	t, ok := h.thread(w, r)
	if !ok {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "thread_id", t.ThreadID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "watch ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "thread_id", t.ThreadID)
		}
	}()

	// The client never sends; CloseRead cancels ctx when it goes away.
	ctx := ws.CloseRead(r.Context())

	updates, unsubscribe := h.hub.Watch(t.AgentName, t.ThreadID)
	defer unsubscribe()

	if err := writeJSON(ctx, ws, h.snapshot(t)); err != nil {
		return
	}
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, snap); err != nil {
				slog.Debug("State watcher write failed", "error", err, "thread_id", t.ThreadID)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
