package runtime

import (
	"github.com/ashureev/copilot-bridge/internal/agentstate"
	"github.com/ashureev/copilot-bridge/internal/toolrender"
)

// EventType names a chat protocol event.
type EventType string

const (
	EventRunStarted         EventType = "RUN_STARTED"
	EventRunFinished        EventType = "RUN_FINISHED"
	EventRunError           EventType = "RUN_ERROR"
	EventTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventToolCallStart      EventType = "TOOL_CALL_START"
	EventToolCallArgs       EventType = "TOOL_CALL_ARGS"
	EventToolCallEnd        EventType = "TOOL_CALL_END"
	EventToolCallResult     EventType = "TOOL_CALL_RESULT"
	EventToolCallRender     EventType = "TOOL_CALL_RENDER"
	EventStateSnapshot      EventType = "STATE_SNAPSHOT"
	EventStateDelta         EventType = "STATE_DELTA"
	EventInterrupt          EventType = "INTERRUPT"
	EventCustom             EventType = "CUSTOM"
)

// Event is one chat protocol event. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp,omitempty"`

	ThreadID  string `json:"threadId,omitempty"`
	RunID     string `json:"runId,omitempty"`
	AgentName string `json:"agentName,omitempty"`

	MessageID string `json:"messageId,omitempty"`
	Role      string `json:"role,omitempty"`
	Delta     string `json:"delta,omitempty"`

	ToolCallID      string               `json:"toolCallId,omitempty"`
	ToolCallName    string               `json:"toolCallName,omitempty"`
	ParentMessageID string               `json:"parentMessageId,omitempty"`
	Content         any                  `json:"content,omitempty"`
	Failed          bool                 `json:"failed,omitempty"`
	Fragment        *toolrender.Fragment `json:"fragment,omitempty"`

	State     agentstate.State `json:"state,omitempty"`
	NodeName  string           `json:"nodeName,omitempty"`
	Interrupt any              `json:"interrupt,omitempty"`

	Name  string `json:"name,omitempty"`
	Value any    `json:"value,omitempty"`

	Message string `json:"message,omitempty"`
}
