package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultAgentName is the agent used when a request names none.
const DefaultAgentName = "prodmentor_workflow"

// ErrUnknownAgent is returned when a request names an unregistered agent.
var ErrUnknownAgent = errors.New("unknown agent")

// Agent is a remote graph exposed to chat clients.
type Agent struct {
	Name            string `yaml:"name" json:"name"`
	GraphID         string `yaml:"graph_id" json:"graph_id"`
	Description     string `yaml:"description,omitempty" json:"description,omitempty"`
	StreamSubgraphs bool   `yaml:"stream_subgraphs,omitempty" json:"stream_subgraphs,omitempty"`
}

// registryFile is the top-level structure of agents.yaml.
type registryFile struct {
	Default string  `yaml:"default"`
	Agents  []Agent `yaml:"agents"`
}

// Registry maps agent names to remote graphs. It is read-only after construction.
type Registry struct {
	agents   map[string]Agent
	order    []string
	fallback string
}

// NewRegistry builds a registry. The first agent is the default unless
// defaultName is set.
func NewRegistry(defaultName string, agents ...Agent) (*Registry, error) {
	if len(agents) == 0 {
		return nil, errors.New("agent registry: at least one agent is required")
	}
	r := &Registry{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		if a.Name == "" {
			return nil, errors.New("agent registry: agent name is required")
		}
		if _, dup := r.agents[a.Name]; dup {
			return nil, fmt.Errorf("agent registry: duplicate agent %q", a.Name)
		}
		if a.GraphID == "" {
			a.GraphID = a.Name
		}
		r.agents[a.Name] = a
		r.order = append(r.order, a.Name)
	}

	r.fallback = defaultName
	if r.fallback == "" {
		r.fallback = r.order[0]
	}
	if _, ok := r.agents[r.fallback]; !ok {
		return nil, fmt.Errorf("agent registry: default %q: %w", r.fallback, ErrUnknownAgent)
	}
	return r, nil
}

// DefaultRegistry holds the single prodmentor workflow agent.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(DefaultAgentName, Agent{
		Name:            DefaultAgentName,
		GraphID:         DefaultAgentName,
		Description:     "Product mentoring workflow",
		StreamSubgraphs: true,
	})
	return r
}

// LoadRegistry reads agents.yaml. A missing file yields DefaultRegistry.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("agents file not found, using default registry", "path", path, "agent", DefaultAgentName)
		return DefaultRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}
	r, err := NewRegistry(f.Default, f.Agents...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return r, nil
}

// Resolve returns the agent registered under name; "" resolves to the default.
func (r *Registry) Resolve(name string) (Agent, error) {
	if name == "" {
		name = r.fallback
	}
	a, ok := r.agents[name]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return a, nil
}

// Default returns the default agent.
func (r *Registry) Default() Agent {
	return r.agents[r.fallback]
}

// Agents returns the registered agents in declaration order.
func (r *Registry) Agents() []Agent {
	out := make([]Agent, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name])
	}
	return out
}
