package proxy

import (
	"strings"

	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/ashureev/copilot-bridge/internal/runtime"
	"github.com/ashureev/copilot-bridge/internal/toolrender"
	"github.com/ashureev/copilot-bridge/internal/transcript"
)

// turnRecorder turns one run's events into transcript lines. Assistant text
// is written once per message, when it ends.
type turnRecorder struct {
	log     transcript.Logger
	base    transcript.Event
	text    map[string]*strings.Builder
	pending []transcript.Event
}

func newTurnRecorder(log transcript.Logger, ownerID, agent string) *turnRecorder {
	return &turnRecorder{
		log:  log,
		base: transcript.Event{OwnerID: ownerID, Agent: agent},
		text: make(map[string]*strings.Builder),
	}
}

func (t *turnRecorder) event(direction, eventType, content string) transcript.Event {
	e := t.base
	e.Direction = direction
	e.EventType = eventType
	e.Content = content
	return e
}

// input records the pending user turn, or the resume value.
func (t *turnRecorder) input(in runtime.RunInput) {
	if in.Resume != nil {
		e := t.event(transcript.DirectionInbound, transcript.EventUserMessage, toolrender.OutputText(in.Resume))
		e.Meta = map[string]any{"resume": true}
		t.pending = append(t.pending, e)
		return
	}
	for i := len(in.Messages) - 1; i >= 0; i-- {
		m := in.Messages[i]
		if domain.Role(m.Role) == domain.RoleAssistant {
			break
		}
		if domain.Role(m.Role) == domain.RoleUser {
			t.pending = append([]transcript.Event{t.event(transcript.DirectionInbound, transcript.EventUserMessage, m.Content)}, t.pending...)
		}
	}
}

func (t *turnRecorder) observe(e runtime.Event) {
	switch e.Type {
	case runtime.EventRunStarted:
		t.base.ThreadID, t.base.RunID = e.ThreadID, e.RunID
		for _, p := range t.pending {
			p.ThreadID, p.RunID = e.ThreadID, e.RunID
			t.log.Log(p)
		}
		t.pending = nil
	case runtime.EventTextMessageContent:
		b, ok := t.text[e.MessageID]
		if !ok {
			b = &strings.Builder{}
			t.text[e.MessageID] = b
		}
		b.WriteString(e.Delta)
	case runtime.EventTextMessageEnd:
		if b, ok := t.text[e.MessageID]; ok {
			t.log.Log(t.event(transcript.DirectionOutbound, transcript.EventAssistantMessage, b.String()))
			delete(t.text, e.MessageID)
		}
	case runtime.EventToolCallResult:
		ev := t.event(transcript.DirectionOutbound, transcript.EventToolCall, toolrender.OutputText(e.Content))
		ev.Meta = map[string]any{"tool_call_id": e.ToolCallID, "failed": e.Failed}
		t.log.Log(ev)
	case runtime.EventRunError:
		t.log.Log(t.event(transcript.DirectionOutbound, transcript.EventRunError, e.Message))
	}
}
