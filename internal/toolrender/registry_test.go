package toolrender

import (
	"strings"
	"testing"

	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterForcesRenderOnly(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		Name:      "custom",
		Available: "enabled",
		Render:    func(Call) Fragment { return Fragment{Title: "custom"} },
	}))
	def, ok := r.Lookup("custom")
	require.True(t, ok)
	assert.Equal(t, AvailabilityDisabled, def.Available)

	assert.Error(t, r.Register(Definition{Render: renderDefault}))
	assert.Error(t, r.Register(Definition{Name: "x"}))
}

func TestRenderUnknownToolUsesCatchAll(t *testing.T) {
	r := Default()
	f := r.Render(Call{ID: "c1", Name: "get_weather", Args: map[string]any{"city": "Lima"}, Status: domain.ToolStatusComplete, Result: "sunny"})

	assert.Equal(t, "c1", f.ToolCallID)
	assert.Equal(t, "tool-get_weather", f.Type)
	assert.Equal(t, "get_weather", f.Title)
	assert.Equal(t, StateOutputAvailable, f.State)
	assert.True(t, f.HasOutput)
	assert.Equal(t, "sunny", f.Output)
	assert.Equal(t, map[string]any{"city": "Lima"}, f.Input)
}

func TestRenderThinkingTool(t *testing.T) {
	r := Default()
	args := map[string]any{"title": "Plan", "thought": "Look at metrics", "action": "search"}

	streaming := r.Render(Call{Name: ToolThinking, Args: args, Status: domain.ToolStatusInProgress})
	assert.Equal(t, "Thinking...", streaming.Title)
	assert.Equal(t, KindReasoning, streaming.Kind)
	assert.Equal(t, "**Plan**\n\nLook at metrics\n\n**Next action:** search", streaming.Content)
	assert.False(t, streaming.HasOutput)

	done := r.Render(Call{Name: ToolThinking, Args: args, Status: domain.ToolStatusComplete, Result: "ok"})
	assert.Equal(t, "Thought: Plan", done.Title)
	assert.True(t, strings.HasSuffix(done.Content, "\n\n_Confidence: 80%_"))

	args["confidence"] = 0.93
	done = r.Render(Call{Name: ToolThinking, Args: args, Status: domain.ToolStatusComplete})
	assert.True(t, strings.HasSuffix(done.Content, "_Confidence: 93%_"))
}

func TestRenderAnalyzeToolAcceptsBothSpellings(t *testing.T) {
	r := Default()
	for _, key := range []string{"analysis_result", "analisis_result"} {
		f := r.Render(Call{
			Name:   ToolAnalyze,
			Args:   map[string]any{"title": "Churn", key: "high", "analysis": "details", "next_action": "report"},
			Status: domain.ToolStatusComplete,
		})
		assert.Equal(t, "Analysis: Churn", f.Title)
		assert.Equal(t,
			"**Churn**\n\n**Result:**\nhigh\n\n**Analysis:**\ndetails\n\n**Next action:** report\n\n_Confidence: 80%_",
			f.Content, key)
	}
}

func TestRenderSearchParsesJSONStringResult(t *testing.T) {
	r := Default()
	result := `{"query":"go sse","results":[{"title":"Go","url":"https://www.go.dev/doc","content":"docs","score":0.9},{"title":"Bad","url":"not a url"}]}`

	f := r.Render(Call{Name: ToolSearch, Args: map[string]any{"query": "go sse"}, Status: domain.ToolStatusComplete, Result: result})
	assert.Equal(t, "Search:", f.Title)
	assert.Equal(t, "go sse", f.Subtitle)
	require.Len(t, f.Links, 2)
	assert.Equal(t, "go.dev", f.Links[0].Hostname)
	assert.Equal(t, "https://www.google.com/s2/favicons?domain=go.dev&sz=32", f.Links[0].FaviconURL)
	assert.Equal(t, "not a url", f.Links[1].Hostname)
}

func TestRenderSearchTreatsBadResultAsAbsent(t *testing.T) {
	r := Default()
	for _, result := range []any{"plain text error", "{not json}"} {
		f := r.Render(Call{Name: ToolSearch, Args: map[string]any{"query": "q"}, Status: domain.ToolStatusComplete, Result: result})
		assert.Empty(t, f.Links)
		assert.Zero(t, f.Placeholders)
	}

	loading := r.Render(Call{Name: ToolSearch, Args: map[string]any{"query": "q"}, Status: domain.ToolStatusInProgress})
	assert.Equal(t, "Searching", loading.Title)
	assert.Equal(t, 3, loading.Placeholders)
}

func TestRenderExtractCountsPages(t *testing.T) {
	r := Default()
	f := r.Render(Call{Name: ToolExtract, Args: map[string]any{"urls": []any{"https://www.example.com/a"}}, Status: domain.ToolStatusInProgress})
	assert.Equal(t, "Reading most relevant pages:", f.Title)
	assert.Equal(t, "1 page", f.Subtitle)
	require.Len(t, f.Links, 1)
	assert.Equal(t, "example.com", f.Links[0].Hostname)

	f = r.Render(Call{Name: ToolExtract, Args: map[string]any{"urls": []any{"https://a.io", "https://b.io"}}, Status: domain.ToolStatusComplete})
	assert.Equal(t, "Reading complete:", f.Title)
	assert.Equal(t, "2 pages", f.Subtitle)
}

func TestDefinitionsCarrySchemas(t *testing.T) {
	defs := Default().Definitions()
	require.Len(t, defs, 4)
	assert.Equal(t, ToolAnalyze, defs[0].Name)
	for _, d := range defs {
		require.NotNil(t, d.Parameters, d.Name)
		assert.Equal(t, AvailabilityDisabled, d.Available)
	}
	thinking, ok := Default().Lookup(ToolThinking)
	require.True(t, ok)
	assert.Contains(t, thinking.Parameters.Required, "title")
	assert.Contains(t, thinking.Parameters.Required, "thought")
}
