// Package runtime adapts the remote LangGraph run stream to the local chat
// protocol. A Runtime resolves the agent, makes sure a remote thread exists,
// starts a streamed run and translates every stream part into chat events
// while feeding the agent state hub.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/ashureev/copilot-bridge/internal/agentstate"
	"github.com/ashureev/copilot-bridge/internal/langgraph"
	"github.com/ashureev/copilot-bridge/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Backend is the remote agent service.
type Backend interface {
	CreateThread(ctx context.Context, req langgraph.CreateThreadRequest) (*langgraph.Thread, error)
	StreamRun(ctx context.Context, threadID string, run langgraph.RunRequest) iter.Seq2[langgraph.StreamPart, error]
}

// DefaultStreamModes are requested for every run.
var DefaultStreamModes = []string{
	langgraph.StreamValues,
	langgraph.StreamUpdates,
	langgraph.StreamMessagesTuple,
	langgraph.StreamCustom,
}

// Options configures a Runtime.
type Options struct {
	Agents   *Registry
	Backend  Backend
	Renderer Renderer
	Hub      *agentstate.Hub
	Logger   *slog.Logger
	Tracer   trace.Tracer
	// Now is used for event timestamps; defaults to time.Now.
	Now func() time.Time
}

// Runtime runs agent turns. It is safe for concurrent use.
type Runtime struct {
	agents   *Registry
	backend  Backend
	renderer Renderer
	hub      *agentstate.Hub
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates a Runtime. A nil registry uses DefaultRegistry and a nil hub
// gets a private one.
func New(opts Options) (*Runtime, error) {
	if opts.Backend == nil {
		return nil, errors.New("runtime: backend is required")
	}
	r := &Runtime{
		agents:   opts.Agents,
		backend:  opts.Backend,
		renderer: opts.Renderer,
		hub:      opts.Hub,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		now:      opts.Now,
	}
	if r.agents == nil {
		r.agents = DefaultRegistry()
	}
	if r.hub == nil {
		r.hub = agentstate.NewHub()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Agents returns the agent registry.
func (r *Runtime) Agents() *Registry {
	return r.agents
}

// Hub returns the agent state hub fed by this runtime.
func (r *Runtime) Hub() *agentstate.Hub {
	return r.hub
}

// Run executes one turn. Every failure is reported as a RUN_ERROR event
// paired with a non-nil error, after which the sequence ends. Failures
// before RUN_STARTED mean nothing was streamed.
func (r *Runtime) Run(ctx context.Context, in RunInput) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		agent, err := r.agents.Resolve(in.Agent)
		if err != nil {
			yield(r.errorEvent(in.ThreadID, in.RunID, "", err), err)
			return
		}
		if err := in.Validate(); err != nil {
			yield(r.errorEvent(in.ThreadID, in.RunID, agent.Name, err), err)
			return
		}

		ctx, span := telemetry.Start(ctx, r.tracer, "runtime.Run", telemetry.KeyAgent.String(agent.Name))
		var runErr error
		defer func() { telemetry.End(span, runErr) }()

		threadID := in.ThreadID
		if threadID == "" {
			th, err := r.backend.CreateThread(ctx, langgraph.CreateThreadRequest{
				Metadata: map[string]any{"graph_id": agent.GraphID},
			})
			if err != nil {
				runErr = fmt.Errorf("create thread: %w", err)
				yield(r.errorEvent("", in.RunID, agent.Name, runErr), runErr)
				return
			}
			threadID = th.ThreadID
		}
		runID := in.RunID
		if runID == "" {
			runID = uuid.NewString()
		}
		span.SetAttributes(telemetry.KeyThreadID.String(threadID), telemetry.KeyRunID.String(runID))

		tracker := r.hub.Tracker(agent.Name, threadID)
		tracker.SetRunning(true)
		defer tracker.SetRunning(false)

		emit := func(e Event) bool {
			e.Timestamp = r.now().UnixMilli()
			if e.ThreadID == "" {
				e.ThreadID = threadID
			}
			if e.RunID == "" {
				e.RunID = runID
			}
			if e.Type == EventStateSnapshot || e.Type == EventStateDelta {
				tracker.Apply(e.State, e.NodeName)
			}
			return yield(e, nil)
		}

		if !emit(Event{Type: EventRunStarted, AgentName: agent.Name}) {
			return
		}

		tr := newTranslator(r.renderer, r.logger)
		req := r.runRequest(agent, in)
		r.logger.Info("starting agent run",
			"agent", agent.Name,
			"graph_id", agent.GraphID,
			"thread_id", threadID,
			"run_id", runID,
			"resume", in.Resume != nil,
			"stream_subgraphs", req.StreamSubgraphs,
		)

		for part, err := range r.backend.StreamRun(ctx, threadID, req) {
			if err != nil {
				runErr = err
				for _, e := range tr.finish() {
					if !emit(e) {
						return
					}
				}
				e := r.errorEvent(threadID, runID, agent.Name, err)
				e.Timestamp = r.now().UnixMilli()
				yield(e, err)
				return
			}
			for _, e := range tr.handle(part) {
				if e.Type == EventRunError {
					runErr = errors.New(e.Message)
					for _, fe := range tr.finish() {
						if !emit(fe) {
							return
						}
					}
					e.AgentName = agent.Name
					e.ThreadID, e.RunID = threadID, runID
					e.Timestamp = r.now().UnixMilli()
					yield(e, fmt.Errorf("agent run failed: %w", runErr))
					return
				}
				if !emit(e) {
					return
				}
			}
		}

		for _, e := range tr.finish() {
			if !emit(e) {
				return
			}
		}
		if tr.remoteRunID != "" {
			r.logger.Debug("agent run finished", "thread_id", threadID, "run_id", runID, "remote_run_id", tr.remoteRunID)
		}
		emit(Event{Type: EventRunFinished, AgentName: agent.Name})
	}
}

func (r *Runtime) runRequest(agent Agent, in RunInput) langgraph.RunRequest {
	req := langgraph.RunRequest{
		AssistantID:     agent.GraphID,
		StreamMode:      DefaultStreamModes,
		StreamSubgraphs: agent.StreamSubgraphs,
		Config:          in.Config,
		IfNotExists:     "create",
	}
	if in.StreamSubgraphs != nil {
		req.StreamSubgraphs = *in.StreamSubgraphs
	}

	if in.Resume != nil {
		req.Command = &langgraph.Command{Resume: in.Resume}
		return req
	}

	input := make(map[string]any, len(in.State)+1)
	for k, v := range in.State {
		input[k] = v
	}
	input["messages"] = pendingMessages(in.Messages)
	req.Input = input
	return req
}

func (r *Runtime) errorEvent(threadID, runID, agentName string, err error) Event {
	return Event{
		Type:      EventRunError,
		Timestamp: r.now().UnixMilli(),
		ThreadID:  threadID,
		RunID:     runID,
		AgentName: agentName,
		Message:   err.Error(),
	}
}
