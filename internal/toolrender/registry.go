package toolrender

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/invopop/jsonschema"
)

// Fragment kinds.
const (
	KindTool      = "tool"
	KindReasoning = "reasoning"
	KindSearch    = "search"
	KindExtract   = "extract"
)

// AvailabilityDisabled marks a tool as render-only.
const AvailabilityDisabled = "disabled"

// Call is the renderer input.
type Call struct {
	ID     string
	Name   string
	Args   map[string]any
	Status domain.ToolStatus
	Result any
}

// CallFrom copies a tool call record into a renderer input.
func CallFrom(tc *domain.ToolCall) Call {
	return Call{ID: tc.ID, Name: tc.Name, Args: tc.Args, Status: tc.Status, Result: tc.Result}
}

// Streaming reports whether the call is still receiving arguments.
func (c Call) Streaming() bool {
	return c.Status == domain.ToolStatusInProgress
}

// Link is a web reference shown as a chip.
type Link struct {
	Title      string  `json:"title,omitempty"`
	URL        string  `json:"url"`
	Hostname   string  `json:"hostname"`
	FaviconURL string  `json:"favicon_url"`
	Snippet    string  `json:"snippet,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// Fragment is the display unit produced for one tool call.
type Fragment struct {
	ToolCallID   string      `json:"tool_call_id"`
	Tool         string      `json:"tool"`
	Kind         string      `json:"kind"`
	Type         string      `json:"type"`
	Title        string      `json:"title"`
	Subtitle     string      `json:"subtitle,omitempty"`
	State        VisualState `json:"state"`
	Streaming    bool        `json:"streaming"`
	Input        any         `json:"input,omitempty"`
	Output       string      `json:"output,omitempty"`
	HasOutput    bool        `json:"has_output"`
	Content      string      `json:"content,omitempty"`
	Links        []Link      `json:"links,omitempty"`
	Placeholders int         `json:"placeholders,omitempty"`
}

// Renderer produces a fragment from a call. It must not have side effects.
type Renderer func(Call) Fragment

// Definition describes a render-only tool.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
	Available   string             `json:"available"`
	Render      Renderer           `json:"-"`
}

// Registry dispatches tool calls to renderers by tool name.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	fallback Renderer
}

// NewRegistry creates a registry whose unknown tools use the catch-all renderer.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition), fallback: renderDefault}
}

// Register adds or replaces a definition. The definition is always stored
// as render-only.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return errors.New("register tool renderer: name is required")
	}
	if def.Render == nil {
		return fmt.Errorf("register tool renderer %q: render func is required", def.Name)
	}
	def.Available = AvailabilityDisabled

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Definitions returns every registered definition sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Render produces the fragment for call. Fields common to every tool
// (identity, visual state, output text) are filled after the renderer runs.
func (r *Registry) Render(call Call) Fragment {
	render := r.fallback
	if def, ok := r.Lookup(call.Name); ok {
		render = def.Render
	}

	f := render(call)
	f.ToolCallID = call.ID
	f.Tool = call.Name
	f.State = StateFor(call.Status, call.Args)
	f.Streaming = call.Streaming()
	if f.Type == "" {
		f.Type = "tool-" + call.Name
	}
	if f.Kind == "" {
		f.Kind = KindTool
	}
	if f.Input == nil && len(call.Args) > 0 {
		f.Input = call.Args
	}
	if f.State == StateOutputAvailable {
		f.Output = OutputText(call.Result)
		f.HasOutput = true
	}
	return f
}

// RenderToolCall is Render for a domain record.
func (r *Registry) RenderToolCall(tc *domain.ToolCall) Fragment {
	return r.Render(CallFrom(tc))
}

func renderDefault(call Call) Fragment {
	return Fragment{
		Kind:  KindTool,
		Type:  "tool-" + call.Name,
		Title: call.Name,
	}
}
