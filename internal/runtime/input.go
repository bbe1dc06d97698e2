package runtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/copilot-bridge/internal/domain"
)

// ErrInvalidInput marks a malformed run request.
var ErrInvalidInput = errors.New("invalid run input")

// InputMessage is a chat message sent by the client.
type InputMessage struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RunInput is the body of a chat request.
type RunInput struct {
	ThreadID        string         `json:"threadId,omitempty"`
	RunID           string         `json:"runId,omitempty"`
	Agent           string         `json:"agent,omitempty"`
	Messages        []InputMessage `json:"messages,omitempty"`
	State           map[string]any `json:"state,omitempty"`
	Resume          any            `json:"resume,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	StreamSubgraphs *bool          `json:"streamSubgraphs,omitempty"`
}

// Validate checks that the input can start or resume a run. A request
// naming only an existing thread re-runs it without new messages.
func (in RunInput) Validate() error {
	if len(in.Messages) == 0 && in.Resume == nil && in.ThreadID == "" && len(in.State) == 0 {
		return fmt.Errorf("%w: messages, resume or thread id is required", ErrInvalidInput)
	}
	for i, m := range in.Messages {
		switch domain.Role(m.Role) {
		case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem, domain.RoleTool:
		default:
			return fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidInput, i, m.Role)
		}
	}
	return nil
}

// pendingMessages returns the trailing messages after the last assistant
// turn. The remote thread already holds everything before it.
func pendingMessages(msgs []InputMessage) []map[string]any {
	start := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if domain.Role(msgs[i].Role) == domain.RoleAssistant {
			start = i + 1
			break
		}
	}

	out := make([]map[string]any, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		msg := map[string]any{"role": m.Role, "content": m.Content}
		if m.ID != "" {
			msg["id"] = m.ID
		}
		out = append(out, msg)
	}
	return out
}
