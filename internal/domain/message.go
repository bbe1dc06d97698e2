package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Role tags the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Visible reports whether messages with this role are shown in the conversation.
func (r Role) Visible() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// ToolStatus is the lifecycle tag of a streamed tool call.
type ToolStatus string

const (
	ToolStatusInProgress ToolStatus = "inProgress"
	ToolStatusExecuting  ToolStatus = "executing"
	ToolStatusComplete   ToolStatus = "complete"
	ToolStatusError      ToolStatus = "error"
)

// ParseToolStatus normalizes the spellings used by different chat clients.
// Unknown values are returned unchanged.
func ParseToolStatus(s string) ToolStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inprogress", "in-progress", "in_progress":
		return ToolStatusInProgress
	case "executing":
		return ToolStatusExecuting
	case "complete", "completed", "success":
		return ToolStatusComplete
	case "error", "failed":
		return ToolStatusError
	default:
		return ToolStatus(s)
	}
}

// Final reports whether the status ends the tool call lifecycle.
func (s ToolStatus) Final() bool {
	return s == ToolStatusComplete || s == ToolStatusError
}

// ToolCall is a structured function invocation surfaced by the agent mid-stream.
type ToolCall struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args,omitempty"`
	ArgsText string         `json:"-"`
	Status   ToolStatus     `json:"status"`
	Result   any            `json:"result,omitempty"`
}

// NewToolCall creates an in-progress tool call record.
func NewToolCall(id, name string) *ToolCall {
	return &ToolCall{ID: id, Name: name, Status: ToolStatusInProgress}
}

// AppendArgs accumulates a streamed argument fragment. Args is only replaced
// once the accumulated text parses as a JSON object, so partial input keeps
// the previous (possibly empty) argument set.
func (c *ToolCall) AppendArgs(delta string) {
	if c.Status.Final() {
		return
	}
	c.ArgsText += delta
	var args map[string]any
	if err := json.Unmarshal([]byte(c.ArgsText), &args); err == nil && args != nil {
		c.Args = args
	}
}

// Finish finalizes the call with its result.
func (c *ToolCall) Finish(result any, failed bool) {
	c.Result = result
	if failed {
		c.Status = ToolStatusError
		return
	}
	c.Status = ToolStatusComplete
}

// Message is a single conversation entry.
type Message struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	ToolCalls []*ToolCall `json:"tool_calls,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// ToolCall returns the tool call with the given id, or nil.
func (m *Message) ToolCall(id string) *ToolCall {
	for _, tc := range m.ToolCalls {
		if tc.ID == id {
			return tc
		}
	}
	return nil
}
