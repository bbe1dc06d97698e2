package toolrender

import (
	"encoding/json"
	"testing"

	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestStateFor(t *testing.T) {
	tests := []struct {
		name   string
		status domain.ToolStatus
		args   map[string]any
		want   VisualState
	}{
		{"in progress with args", domain.ToolStatusInProgress, map[string]any{"q": "x"}, StateInputAvailable},
		{"in progress empty args", domain.ToolStatusInProgress, map[string]any{}, StateInputStreaming},
		{"in progress nil args", domain.ToolStatusInProgress, nil, StateInputStreaming},
		{"complete", domain.ToolStatusComplete, nil, StateOutputAvailable},
		{"executing", domain.ToolStatusExecuting, nil, StateInputAvailable},
		{"error", domain.ToolStatusError, map[string]any{"q": "x"}, StateInputAvailable},
		{"unknown", domain.ToolStatus("weird"), nil, StateInputAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateFor(tt.status, tt.args); got != tt.want {
				t.Fatalf("StateFor(%q) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestOutputTextPrettyPrintsStructuredResults(t *testing.T) {
	got := OutputText(map[string]any{"a": 1})
	want := "{\n  \"a\": 1\n}"
	if got != want {
		t.Fatalf("OutputText = %q, want %q", got, want)
	}
	if got := OutputText(nil); got != "" {
		t.Fatalf("OutputText(nil) = %q, want empty", got)
	}
}

func TestOutputTextProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("string results pass through unchanged", prop.ForAll(
		func(s string) bool {
			return OutputText(s) == s
		},
		gen.AnyString(),
	))

	properties.Property("structured results are indented JSON", prop.ForAll(
		func(m map[string]int) bool {
			want, err := json.MarshalIndent(m, "", "  ")
			if err != nil {
				return false
			}
			return OutputText(m) == string(want)
		},
		gen.MapOf(gen.AlphaString(), gen.Int()),
	))

	properties.Property("non-empty args while in progress are input-available", prop.ForAll(
		func(k string, v int) bool {
			return StateFor(domain.ToolStatusInProgress, map[string]any{k: v}) == StateInputAvailable
		},
		gen.AlphaString(),
		gen.Int(),
	))

	properties.TestingRun(t)
}
