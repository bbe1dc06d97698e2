package langgraph

import (
	"encoding/json"
	"time"
)

// Stream modes accepted by runs/stream.
const (
	StreamValues        = "values"
	StreamUpdates       = "updates"
	StreamMessagesTuple = "messages-tuple"
	StreamCustom        = "custom"
)

// Stream event names emitted by runs/stream. Subgraph events carry a
// "|<namespace>" suffix.
const (
	EventMetadata = "metadata"
	EventValues   = "values"
	EventUpdates  = "updates"
	EventMessages = "messages"
	EventCustom   = "custom"
	EventError    = "error"
	EventEnd      = "end"
)

// InterruptKey is the update key the server uses to report a paused graph.
const InterruptKey = "__interrupt__"

// Thread is a remote conversation thread.
type Thread struct {
	ThreadID  string         `json:"thread_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Status    string         `json:"status,omitempty"`
	Values    map[string]any `json:"values,omitempty"`
}

// CreateThreadRequest is the body of POST /threads.
type CreateThreadRequest struct {
	ThreadID string         `json:"thread_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	IfExists string         `json:"if_exists,omitempty"`
}

// Interrupt is a pending human-in-the-loop request.
type Interrupt struct {
	ID    string `json:"id,omitempty"`
	Value any    `json:"value"`
}

// Task is a pending node execution in a thread state.
type Task struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Interrupts []Interrupt `json:"interrupts,omitempty"`
}

// ThreadState is the latest checkpoint of a thread.
type ThreadState struct {
	Values    map[string]any `json:"values"`
	Next      []string       `json:"next"`
	Tasks     []Task         `json:"tasks,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

// Interrupts returns every interrupt pending on the state's tasks.
func (s *ThreadState) Interrupts() []Interrupt {
	var out []Interrupt
	for _, t := range s.Tasks {
		out = append(out, t.Interrupts...)
	}
	return out
}

// Command resumes or redirects a paused graph.
type Command struct {
	Resume any            `json:"resume,omitempty"`
	Update map[string]any `json:"update,omitempty"`
	Goto   any            `json:"goto,omitempty"`
}

// RunRequest is the body of POST /threads/{id}/runs/stream.
type RunRequest struct {
	AssistantID     string         `json:"assistant_id"`
	Input           any            `json:"input,omitempty"`
	Command         *Command       `json:"command,omitempty"`
	StreamMode      []string       `json:"stream_mode,omitempty"`
	StreamSubgraphs bool           `json:"stream_subgraphs,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	IfNotExists     string         `json:"if_not_exists,omitempty"`
	OnDisconnect    string         `json:"on_disconnect,omitempty"`
}

// StreamPart is one server-sent event from a run stream.
type StreamPart struct {
	Event string
	Data  json.RawMessage
}

// Mode returns the event name without its subgraph namespace.
func (p StreamPart) Mode() string {
	mode, _ := splitEvent(p.Event)
	return mode
}

// Namespace returns the subgraph namespace of the event, or "" for the root graph.
func (p StreamPart) Namespace() string {
	_, ns := splitEvent(p.Event)
	return ns
}

func splitEvent(event string) (string, string) {
	for i := 0; i < len(event); i++ {
		if event[i] == '|' {
			return event[:i], event[i+1:]
		}
	}
	return event, ""
}

// RunMetadata is the payload of the metadata event.
type RunMetadata struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ErrorPayload is the payload of the error event.
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e ErrorPayload) String() string {
	switch {
	case e.Error != "" && e.Message != "":
		return e.Error + ": " + e.Message
	case e.Message != "":
		return e.Message
	default:
		return e.Error
	}
}
