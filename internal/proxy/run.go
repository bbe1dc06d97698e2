package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/copilot-bridge/internal/identity"
	"github.com/ashureev/copilot-bridge/internal/runtime"
	"github.com/ashureev/copilot-bridge/internal/telemetry"
	"github.com/tidwall/gjson"
)

// threadIDPaths are searched in order for a thread id in a chat request body.
var threadIDPaths = []string{"threadId", "variables.data.threadId"}

// threadIDFromBody returns the first thread id found in a JSON body. Malformed
// JSON yields "".
func threadIDFromBody(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range threadIDPaths {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// Run handles POST /api/copilotkit.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	if h.credentialsMissing(w) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		authorization = identity.AuthorizationFromContext(r.Context())
	}

	var bodyThreadID string
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		bodyThreadID = threadIDFromBody(body)
	}

	var in runtime.RunInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat request body")
		return
	}
	if in.ThreadID == "" {
		in.ThreadID = bodyThreadID
	}

	agent, err := h.opts.Agents.Resolve(in.Agent)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	in.Agent = agent.Name
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("chat request",
		"openai_key_present", true,
		"authorization_present", authorization != "",
		"thread_id", in.ThreadID,
		"deployment_url", h.opts.DeploymentURL,
		"agent", agent.Name,
	)

	if in.ThreadID != "" {
		rec, err := h.opts.Store.GetThread(r.Context(), in.ThreadID)
		if err != nil {
			h.logger.Error("failed to load thread", "thread_id", in.ThreadID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load thread")
			return
		}
		if owner := identity.UserIDFromContext(r.Context()); rec != nil && rec.OwnerID != "" && rec.OwnerID != owner {
			h.logger.Warn("run on foreign thread refused", "thread_id", in.ThreadID, "user_id", owner)
			writeError(w, http.StatusNotFound, "thread not found")
			return
		}

		unlock, ok := h.locks.tryLock(in.ThreadID)
		if !ok {
			h.logger.Warn("run already in progress", "thread_id", in.ThreadID)
			writeError(w, http.StatusConflict, "run_in_progress")
			return
		}
		defer unlock()
	}

	backend, err := h.opts.NewBackend(authorization)
	if err != nil {
		h.logger.Error("failed to create agent client", "error", err, "deployment_url", h.opts.DeploymentURL)
		writeError(w, http.StatusInternalServerError, "failed to reach agent service")
		return
	}
	rt, err := runtime.New(runtime.Options{
		Agents:   h.opts.Agents,
		Backend:  backend,
		Renderer: h.opts.Renderer,
		Hub:      h.opts.Hub,
		Logger:   h.logger,
		Tracer:   h.opts.Tracer,
	})
	if err != nil {
		h.logger.Error("failed to create runtime", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ctx, span := telemetry.Start(r.Context(), h.opts.Tracer, "proxy.Run",
		telemetry.KeyAgent.String(agent.Name),
		telemetry.KeyThreadID.String(in.ThreadID),
	)
	threadID, streamErr := h.stream(ctx, w, rt, in)
	telemetry.End(span, streamErr)

	if threadID != "" {
		h.persist(r.Context(), agent.Name, threadID)
	}
}

type runItem struct {
	event runtime.Event
	err   error
}

// stream writes the run as SSE and returns the thread the run used. While
// the agent is quiet, ping comments keep intermediaries from closing the
// connection.
func (h *Handler) stream(ctx context.Context, w http.ResponseWriter, rt *runtime.Runtime, in runtime.RunInput) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	items := make(chan runItem)
	go func() {
		defer close(items)
		for e, err := range rt.Run(ctx, in) {
			select {
			case items <- runItem{e, err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		cancel()
		for range items {
		}
	}()

	rec := newTurnRecorder(h.opts.Transcript, identity.UserIDFromContext(ctx), in.Agent)
	rec.input(in)

	keepalive := time.NewTicker(h.opts.KeepaliveInterval)
	defer keepalive.Stop()

	sse := newEventWriter(w)
	threadID := in.ThreadID
	for {
		select {
		case item, ok := <-items:
			if !ok {
				h.logger.Debug("chat stream finished", "thread_id", threadID, "events", sse.written)
				return threadID, nil
			}
			e, err := item.event, item.err
			if e.ThreadID != "" {
				threadID = e.ThreadID
			}
			rec.observe(e)
			if e.Type == runtime.EventRunStarted {
				// Claim the thread before the client learns its id.
				h.persist(ctx, in.Agent, threadID)
			}
			if err != nil && !sse.started {
				h.logger.Error("agent run failed before streaming", "error", err, "thread_id", threadID, "agent", in.Agent)
				writeError(w, http.StatusInternalServerError, err.Error())
				return "", err
			}
			if werr := sse.write(e); werr != nil {
				h.logger.Warn("client stream closed", "error", werr, "thread_id", threadID, "events", sse.written)
				return threadID, werr
			}
			if err != nil {
				h.logger.Error("agent run failed", "error", err, "thread_id", threadID, "agent", in.Agent)
				return threadID, err
			}
		case <-keepalive.C:
			if !sse.started {
				continue
			}
			if err := sse.ping(); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "thread_id", threadID)
				return threadID, err
			}
		}
	}
}

// persist records the thread with its current state, owned by the caller.
// Failures are logged only.
func (h *Handler) persist(ctx context.Context, agentName, threadID string) {
	if err := h.recorder.Record(ctx, agentName, threadID, identity.UserIDFromContext(ctx)); err != nil {
		h.logger.Error("failed to record thread", "thread_id", threadID, "error", err)
	}
}
