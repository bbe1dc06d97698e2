// Package chat implements the server-side chat surface: one Session per
// thread keeps the input buffer and the conversation, runs agent turns
// through a Transport and composes the View the web pages render.
package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/copilot-bridge/internal/agentstate"
	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/ashureev/copilot-bridge/internal/runtime"
	"github.com/ashureev/copilot-bridge/internal/toolrender"
	"github.com/google/uuid"
)

// DefaultMaxMessages caps the messages kept per session.
const DefaultMaxMessages = 200

// Transport runs agent turns. It must feed state events into the hub the
// session observes; *runtime.Runtime does.
type Transport interface {
	Run(ctx context.Context, in runtime.RunInput) iter.Seq2[runtime.Event, error]
}

// ThreadRecorder writes a thread and its observed state to the thread
// index. *store.Recorder implements it.
type ThreadRecorder interface {
	Record(ctx context.Context, agent, threadID, ownerID string) error
}

// Options configures a Session.
type Options struct {
	ThreadID  string
	Agent     string
	OwnerID   string
	Transport Transport
	Hub       *agentstate.Hub
	Tools     *toolrender.Registry
	Logger    *slog.Logger
	// Recorder, when set, records the thread after every turn.
	Recorder ThreadRecorder

	// StreamSubgraphs asks the agent service to include sub-graph events.
	StreamSubgraphs bool
	ShowStateDebug  bool
	MaxMessages     int
	Now             func() time.Time
}

// Session is the chat state of one thread. It is safe for concurrent use.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	threadID  string
	input     string
	messages  []*domain.Message
	streaming bool
	interrupt any
	lastErr   string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSession creates a session. Hub and Tools get defaults when nil.
func NewSession(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("chat: transport is required")
	}
	if opts.Agent == "" {
		opts.Agent = runtime.DefaultAgentName
	}
	if opts.Hub == nil {
		opts.Hub = agentstate.NewHub()
	}
	if opts.Tools == nil {
		opts.Tools = toolrender.Default()
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		opts:     opts,
		logger:   logger.With("thread_id", opts.ThreadID, "agent", opts.Agent),
		threadID: opts.ThreadID,
	}, nil
}

// OwnerID returns the identity the session belongs to.
func (s *Session) OwnerID() string {
	return s.opts.OwnerID
}

// ThreadID returns the remote thread id, which may be assigned by the
// first turn.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// SetInput replaces the input buffer.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = text
}

// Input returns the input buffer.
func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// Streaming reports whether a turn is in flight.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Messages returns a copy of the conversation.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, copyMessage(m))
	}
	return out
}

// Submit sends the input buffer as a user message. A blank buffer or an
// in-flight turn makes it a no-op returning false, with the buffer left as
// is. A pending interrupt is answered with the buffer text.
func (s *Session) Submit(ctx context.Context) bool {
	s.mu.Lock()
	text := s.input
	if strings.TrimSpace(text) == "" || s.streaming {
		s.mu.Unlock()
		return false
	}
	s.input = ""

	in := runtime.RunInput{ThreadID: s.threadID, Agent: s.opts.Agent}
	if s.opts.StreamSubgraphs {
		in.StreamSubgraphs = &s.opts.StreamSubgraphs
	}
	if s.interrupt != nil {
		in.Resume = text
		s.interrupt = nil
	}
	s.appendLocked(&domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: s.opts.Now(),
	})
	if in.Resume == nil {
		in.Messages = s.inputMessagesLocked()
	}
	s.startLocked(ctx, in)
	s.mu.Unlock()
	return true
}

// Resume answers a pending interrupt with value. It returns false when no
// interrupt is pending or a turn is streaming.
func (s *Session) Resume(ctx context.Context, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interrupt == nil || s.streaming || value == nil {
		return false
	}
	s.interrupt = nil
	in := runtime.RunInput{ThreadID: s.threadID, Agent: s.opts.Agent, Resume: value}
	s.startLocked(ctx, in)
	return true
}

// Stop cancels the in-flight turn, if any.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the in-flight turn ends or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) inputMessagesLocked() []runtime.InputMessage {
	out := make([]runtime.InputMessage, 0, len(s.messages))
	for _, m := range s.messages {
		if !m.Role.Visible() || m.Content == "" {
			continue
		}
		out = append(out, runtime.InputMessage{ID: m.ID, Role: string(m.Role), Content: m.Content})
	}
	return out
}

// startLocked launches the turn goroutine. The turn outlives the request
// that started it; only Stop or Manager.Close cancel it.
func (s *Session) startLocked(parent context.Context, in runtime.RunInput) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	done := make(chan struct{})
	s.streaming = true
	s.lastErr = ""
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		defer cancel()
		s.consume(ctx, in)
	}()
}

func (s *Session) consume(ctx context.Context, in runtime.RunInput) {
	defer func() {
		s.mu.Lock()
		s.streaming = false
		s.cancel = nil
		threadID := s.threadID
		s.mu.Unlock()
		s.record(ctx, threadID)
	}()

	for e, err := range s.opts.Transport.Run(ctx, in) {
		s.mu.Lock()
		s.applyLocked(e)
		s.mu.Unlock()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				s.logger.Info("chat turn stopped")
			} else {
				s.logger.Error("chat turn failed", "error", err)
			}
			return
		}
	}
}

func (s *Session) record(ctx context.Context, threadID string) {
	if s.opts.Recorder == nil || threadID == "" {
		return
	}
	if err := s.opts.Recorder.Record(ctx, s.opts.Agent, threadID, s.opts.OwnerID); err != nil {
		s.logger.Error("failed to record chat thread", "error", err)
	}
}

func (s *Session) applyLocked(e runtime.Event) {
	if e.ThreadID != "" && s.threadID == "" {
		s.threadID = e.ThreadID
	}
	switch e.Type {
	case runtime.EventTextMessageStart:
		s.assistantLocked(e.MessageID)
	case runtime.EventTextMessageContent:
		m := s.assistantLocked(e.MessageID)
		m.Content += e.Delta
	case runtime.EventToolCallStart:
		m := s.assistantLocked(e.ParentMessageID)
		if m.ToolCall(e.ToolCallID) == nil {
			m.ToolCalls = append(m.ToolCalls, domain.NewToolCall(e.ToolCallID, e.ToolCallName))
		}
	case runtime.EventToolCallArgs:
		if tc := s.toolCallLocked(e.ToolCallID); tc != nil {
			tc.AppendArgs(e.Delta)
		}
	case runtime.EventToolCallEnd:
		if tc := s.toolCallLocked(e.ToolCallID); tc != nil && !tc.Status.Final() {
			tc.Status = domain.ToolStatusExecuting
		}
	case runtime.EventToolCallResult:
		if tc := s.toolCallLocked(e.ToolCallID); tc != nil {
			tc.Finish(e.Content, e.Failed)
		}
	case runtime.EventInterrupt:
		s.interrupt = e.Interrupt
	case runtime.EventRunError:
		s.lastErr = e.Message
	}
}

// assistantLocked returns the assistant message with id, appending it when
// missing. An empty id reuses the trailing assistant message.
func (s *Session) assistantLocked(id string) *domain.Message {
	if id == "" {
		if n := len(s.messages); n > 0 && s.messages[n-1].Role == domain.RoleAssistant {
			return s.messages[n-1]
		}
		id = uuid.NewString()
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return s.messages[i]
		}
	}
	m := &domain.Message{ID: id, Role: domain.RoleAssistant, CreatedAt: s.opts.Now()}
	s.appendLocked(m)
	return m
}

func (s *Session) toolCallLocked(id string) *domain.ToolCall {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if tc := s.messages[i].ToolCall(id); tc != nil {
			return tc
		}
	}
	return nil
}

func (s *Session) appendLocked(m *domain.Message) {
	s.messages = append(s.messages, m)
	if over := len(s.messages) - s.opts.MaxMessages; over > 0 {
		s.messages = append([]*domain.Message(nil), s.messages[over:]...)
	}
}

func (s *Session) snapshot() agentstate.Snapshot {
	threadID := s.ThreadID()
	if threadID == "" {
		return agentstate.Snapshot{}
	}
	if t, ok := s.opts.Hub.Lookup(s.opts.Agent, threadID); ok {
		return t.Snapshot()
	}
	return agentstate.Snapshot{}
}

func copyMessage(m *domain.Message) domain.Message {
	out := *m
	out.ToolCalls = make([]*domain.ToolCall, 0, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		c := *tc
		out.ToolCalls = append(out.ToolCalls, &c)
	}
	return out
}
