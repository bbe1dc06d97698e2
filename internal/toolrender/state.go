// Package toolrender turns streamed tool-call records into display
// fragments. Renderers are pure functions of a Call; tools registered here
// are render-only and are never executed by the bridge.
package toolrender

import (
	"encoding/json"
	"fmt"

	"github.com/ashureev/copilot-bridge/internal/domain"
)

// VisualState is the display phase of a tool call.
type VisualState string

const (
	StateInputStreaming  VisualState = "input-streaming"
	StateInputAvailable  VisualState = "input-available"
	StateOutputAvailable VisualState = "output-available"
)

// StateFor maps a tool call status and its current arguments to a visual state.
func StateFor(status domain.ToolStatus, args map[string]any) VisualState {
	switch status {
	case domain.ToolStatusInProgress:
		if len(args) > 0 {
			return StateInputAvailable
		}
		return StateInputStreaming
	case domain.ToolStatusComplete:
		return StateOutputAvailable
	default:
		return StateInputAvailable
	}
}

// OutputText renders a tool result for display: strings pass through,
// anything else is pretty-printed JSON with two-space indentation.
func OutputText(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Sprint(result)
	}
	return string(b)
}
