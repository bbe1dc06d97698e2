package runtime

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/ashureev/copilot-bridge/internal/agentstate"
	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/ashureev/copilot-bridge/internal/langgraph"
	"github.com/ashureev/copilot-bridge/internal/toolrender"
)

// Renderer produces display fragments for tool calls.
type Renderer interface {
	Render(call toolrender.Call) toolrender.Fragment
}

// remoteMessage is a LangChain message as serialized by the run stream.
type remoteMessage struct {
	ID             string           `json:"id"`
	Type           string           `json:"type"`
	Name           string           `json:"name"`
	Content        json.RawMessage  `json:"content"`
	ToolCalls      []remoteToolCall `json:"tool_calls"`
	ToolCallChunks []toolCallChunk  `json:"tool_call_chunks"`
	ToolCallID     string           `json:"tool_call_id"`
	Status         string           `json:"status"`
}

type remoteToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type toolCallChunk struct {
	ID    *string `json:"id"`
	Name  *string `json:"name"`
	Args  *string `json:"args"`
	Index *int    `json:"index"`
}

type trackedCall struct {
	record *domain.ToolCall
	ended  bool
}

// translator converts run stream parts into chat protocol events for one run.
type translator struct {
	renderer Renderer
	logger   *slog.Logger

	openText  string
	seenAI    map[string]bool
	calls     map[string]*trackedCall
	callOrder []string
	chunkIDs  map[string]string

	remoteRunID string
	err         string
}

func newTranslator(renderer Renderer, logger *slog.Logger) *translator {
	return &translator{
		renderer: renderer,
		logger:   logger,
		seenAI:   make(map[string]bool),
		calls:    make(map[string]*trackedCall),
		chunkIDs: make(map[string]string),
	}
}

// handle translates one stream part.
func (t *translator) handle(part langgraph.StreamPart) []Event {
	switch part.Mode() {
	case langgraph.EventMetadata:
		var meta langgraph.RunMetadata
		if err := json.Unmarshal(part.Data, &meta); err == nil {
			t.remoteRunID = meta.RunID
		}
		return nil
	case langgraph.EventValues:
		return t.handleValues(part.Data)
	case langgraph.EventUpdates:
		return t.handleUpdates(part.Data)
	case langgraph.EventMessages:
		return t.handleMessage(part.Data)
	case langgraph.EventCustom:
		var v any
		if err := json.Unmarshal(part.Data, &v); err != nil {
			v = string(part.Data)
		}
		return []Event{{Type: EventCustom, Name: part.Event, Value: v}}
	case langgraph.EventError:
		var payload langgraph.ErrorPayload
		if err := json.Unmarshal(part.Data, &payload); err != nil || payload.String() == "" {
			payload.Message = strings.TrimSpace(string(part.Data))
		}
		t.err = payload.String()
		return []Event{{Type: EventRunError, Message: t.err}}
	case langgraph.EventEnd:
		return nil
	default:
		t.logger.Debug("ignoring run stream event", "event", part.Event)
		return nil
	}
}

func (t *translator) handleValues(data json.RawMessage) []Event {
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil || values == nil {
		return nil
	}
	// Interrupts also arrive on the updates channel, which reports them.
	state := agentstate.State(values).Without("messages", langgraph.InterruptKey)
	return []Event{{Type: EventStateSnapshot, State: state}}
}

func (t *translator) handleUpdates(data json.RawMessage) []Event {
	var updates map[string]json.RawMessage
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil
	}
	nodes := make([]string, 0, len(updates))
	for node := range updates {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	var events []Event
	for _, node := range nodes {
		raw := updates[node]
		if node == langgraph.InterruptKey {
			var intr any
			if err := json.Unmarshal(raw, &intr); err == nil {
				if v, ok := interruptValue(intr); ok {
					events = append(events, Event{Type: EventInterrupt, Interrupt: v})
				}
			}
			continue
		}
		var delta map[string]any
		if err := json.Unmarshal(raw, &delta); err != nil {
			// Nodes may return null or a non-object; only the node name is known.
			delta = nil
		}
		events = append(events, Event{
			Type:     EventStateDelta,
			State:    agentstate.State(delta).Without("messages"),
			NodeName: node,
		})
	}
	return events
}

// interruptValue extracts the payload of the first interrupt.
func interruptValue(v any) (any, bool) {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, false
		}
		v = list[0]
	}
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["value"]; ok {
			return inner, true
		}
	}
	return v, v != nil
}

func (t *translator) handleMessage(data json.RawMessage) []Event {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil || len(tuple) == 0 {
		return nil
	}
	var msg remoteMessage
	if err := json.Unmarshal(tuple[0], &msg); err != nil {
		t.logger.Debug("ignoring undecodable message", "error", err)
		return nil
	}

	switch msg.Type {
	case "AIMessageChunk":
		t.seenAI[msg.ID] = true
		return t.aiChunk(msg)
	case "ai":
		if t.seenAI[msg.ID] {
			return nil
		}
		t.seenAI[msg.ID] = true
		return t.aiMessage(msg)
	case "tool":
		return t.toolMessage(msg)
	default:
		return nil
	}
}

func (t *translator) aiChunk(msg remoteMessage) []Event {
	var events []Event
	if text := contentText(msg.Content); text != "" {
		events = append(events, t.text(msg.ID, text)...)
	}
	for _, chunk := range msg.ToolCallChunks {
		events = append(events, t.toolChunk(msg.ID, chunk)...)
	}
	return events
}

func (t *translator) aiMessage(msg remoteMessage) []Event {
	var events []Event
	if text := contentText(msg.Content); text != "" {
		events = append(events, t.text(msg.ID, text)...)
		events = append(events, t.closeText()...)
	}
	for _, tc := range msg.ToolCalls {
		if tc.ID == "" {
			continue
		}
		events = append(events, t.startCall(tc.ID, tc.Name, msg.ID)...)
		args, err := json.Marshal(tc.Args)
		if err == nil && len(tc.Args) > 0 {
			events = append(events, t.appendArgs(tc.ID, string(args))...)
		}
		events = append(events, t.endCall(tc.ID)...)
	}
	return events
}

func (t *translator) text(messageID, delta string) []Event {
	var events []Event
	if t.openText != messageID {
		events = append(events, t.closeText()...)
		t.openText = messageID
		events = append(events, Event{Type: EventTextMessageStart, MessageID: messageID, Role: string(domain.RoleAssistant)})
	}
	return append(events, Event{Type: EventTextMessageContent, MessageID: messageID, Delta: delta})
}

func (t *translator) closeText() []Event {
	if t.openText == "" {
		return nil
	}
	id := t.openText
	t.openText = ""
	return []Event{{Type: EventTextMessageEnd, MessageID: id}}
}

func (t *translator) toolChunk(messageID string, chunk toolCallChunk) []Event {
	key := messageID + "#"
	if chunk.Index != nil {
		key += strconv.Itoa(*chunk.Index)
	}

	id := t.chunkIDs[key]
	if chunk.ID != nil && *chunk.ID != "" {
		id = *chunk.ID
		t.chunkIDs[key] = id
	}
	if id == "" {
		return nil
	}

	var events []Event
	if _, ok := t.calls[id]; !ok {
		name := ""
		if chunk.Name != nil {
			name = *chunk.Name
		}
		events = append(events, t.startCall(id, name, messageID)...)
	}
	if chunk.Args != nil && *chunk.Args != "" {
		events = append(events, t.appendArgs(id, *chunk.Args)...)
	}
	return events
}

func (t *translator) startCall(id, name, parentID string) []Event {
	if _, ok := t.calls[id]; ok {
		return nil
	}
	tc := &trackedCall{record: domain.NewToolCall(id, name)}
	t.calls[id] = tc
	t.callOrder = append(t.callOrder, id)
	return t.withRender(tc, Event{Type: EventToolCallStart, ToolCallID: id, ToolCallName: name, ParentMessageID: parentID})
}

func (t *translator) appendArgs(id, delta string) []Event {
	tc, ok := t.calls[id]
	if !ok || tc.ended {
		return nil
	}
	tc.record.AppendArgs(delta)
	return t.withRender(tc, Event{Type: EventToolCallArgs, ToolCallID: id, Delta: delta})
}

func (t *translator) endCall(id string) []Event {
	tc, ok := t.calls[id]
	if !ok || tc.ended {
		return nil
	}
	tc.ended = true
	return []Event{{Type: EventToolCallEnd, ToolCallID: id}}
}

func (t *translator) toolMessage(msg remoteMessage) []Event {
	if msg.ToolCallID == "" {
		return nil
	}
	var events []Event
	if _, ok := t.calls[msg.ToolCallID]; !ok {
		events = append(events, t.startCall(msg.ToolCallID, msg.Name, "")...)
	}
	events = append(events, t.endCall(msg.ToolCallID)...)

	tc := t.calls[msg.ToolCallID]
	result := contentValue(msg.Content)
	failed := msg.Status == "error"
	tc.record.Finish(result, failed)

	return append(events, t.withRender(tc, Event{
		Type:       EventToolCallResult,
		ToolCallID: msg.ToolCallID,
		MessageID:  msg.ID,
		Content:    result,
		Failed:     failed,
	})...)
}

func (t *translator) withRender(tc *trackedCall, e Event) []Event {
	events := []Event{e}
	if t.renderer == nil {
		return events
	}
	frag := t.renderer.Render(toolrender.CallFrom(tc.record))
	return append(events, Event{Type: EventToolCallRender, ToolCallID: tc.record.ID, ToolCallName: tc.record.Name, Fragment: &frag})
}

// finish closes every message and tool call still open.
func (t *translator) finish() []Event {
	events := t.closeText()
	for _, id := range t.callOrder {
		events = append(events, t.endCall(id)...)
	}
	return events
}

// contentText flattens message content, which is either a string or a list
// of content blocks.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" || blk.Type == "" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// contentValue decodes tool message content, keeping strings as strings.
func contentValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
