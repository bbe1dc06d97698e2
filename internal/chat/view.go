package chat

import (
	"encoding/json"
	"sort"
	"unicode/utf8"

	"github.com/ashureev/copilot-bridge/internal/agentstate"
	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/ashureev/copilot-bridge/internal/toolrender"
)

const (
	previewIdeas     = 2
	previewIdeaRunes = 100
	previewCitations = 3
	detailIDRunes    = 16
)

// Starter is a canned prompt offered on an empty conversation.
type Starter struct {
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

// DefaultStarters are the prompts shown by the welcome content.
var DefaultStarters = []Starter{
	{Label: "Analyze SaaS", Prompt: "Analyze my project management SaaS app"},
	{Label: "E-commerce feedback", Prompt: "Give me feedback on my handmade goods e-commerce store"},
	{Label: "Improve app", Prompt: "I need ideas to improve my mobile app"},
}

// Welcome is shown instead of messages until the first one exists.
type Welcome struct {
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Starters []Starter `json:"starters"`
}

// Header is the status line above the conversation.
type Header struct {
	Title       string   `json:"title"`
	Running     bool     `json:"running"`
	Progress    *float64 `json:"progress,omitempty"`
	CurrentStep string   `json:"currentStep,omitempty"`
	NodeName    string   `json:"nodeName,omitempty"`
	Phase       string   `json:"phase,omitempty"`
}

// MessageView is one visible message with its tool fragments.
type MessageView struct {
	ID        string                `json:"id"`
	Role      domain.Role           `json:"role"`
	Content   string                `json:"content"`
	Fragments []toolrender.Fragment `json:"fragments,omitempty"`
}

// InterruptView is a pending human-in-the-loop request.
type InterruptView struct {
	Prompt string `json:"prompt"`
	Value  any    `json:"value,omitempty"`
}

// ResearchEntry is the panel preview of one research result.
type ResearchEntry struct {
	ID        string   `json:"id"`
	AgentName string   `json:"agentName"`
	Ideas     []string `json:"ideas,omitempty"`
	MoreIdeas int      `json:"moreIdeas,omitempty"`
	Hosts     []string `json:"hosts,omitempty"`
}

// ResearchGroup holds the entries of one research kind.
type ResearchGroup struct {
	Kind    string          `json:"kind"`
	Title   string          `json:"title"`
	Entries []ResearchEntry `json:"entries"`
}

// ThoughtStep is one chain-of-thought line. The last step is active.
type ThoughtStep struct {
	Text     string `json:"text"`
	Active   bool   `json:"active"`
	Complete bool   `json:"complete"`
}

// View is everything the chat page renders.
type View struct {
	ThreadID        string                      `json:"threadId,omitempty"`
	Agent           string                      `json:"agent"`
	Header          Header                      `json:"header"`
	Welcome         *Welcome                    `json:"welcome,omitempty"`
	Messages        []MessageView               `json:"messages"`
	Interrupt       *InterruptView              `json:"interrupt,omitempty"`
	Thinking        bool                        `json:"thinking"`
	Error           string                      `json:"error,omitempty"`
	Input           string                      `json:"input"`
	CanSubmit       bool                        `json:"canSubmit"`
	Research        []ResearchGroup             `json:"research,omitempty"`
	ChainOfThought  []ThoughtStep               `json:"chainOfThought,omitempty"`
	Insights        []string                    `json:"insights,omitempty"`
	Recommendations []agentstate.Recommendation `json:"recommendations,omitempty"`
	DebugState      string                      `json:"debugState,omitempty"`
}

// ResearchDetail is the full record shown by the research modal.
type ResearchDetail struct {
	Kind         string   `json:"kind"`
	Title        string   `json:"title"`
	ID           string   `json:"id"`
	ShortID      string   `json:"shortId"`
	AgentName    string   `json:"agentName"`
	TypeResearch string   `json:"typeResearch,omitempty"`
	Ideas        []string `json:"ideas,omitempty"`
	Content      string   `json:"content,omitempty"`
	Citations    []string `json:"citations,omitempty"`
}

// View composes the current page model.
func (s *Session) View() View {
	snap := s.snapshot()
	state := agentstate.DecodeProdMentor(snap.State)

	s.mu.Lock()
	v := View{
		ThreadID: s.threadID,
		Agent:    s.opts.Agent,
		Input:    s.input,
		Error:    s.lastErr,
	}
	streaming := s.streaming
	interrupt := s.interrupt
	msgs := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Role.Visible() {
			msgs = append(msgs, copyMessage(m))
		}
	}
	s.mu.Unlock()

	v.CanSubmit = !streaming
	v.Header = Header{
		Title:       "ProdMentor",
		Running:     snap.Running || streaming,
		Progress:    state.Progress,
		CurrentStep: state.CurrentStep,
		NodeName:    snap.NodeName,
		Phase:       state.JumpTo,
	}

	if len(msgs) == 0 {
		v.Welcome = &Welcome{
			Title:    "Welcome to ProdMentor!",
			Body:     "Tell me about your product and I will help you improve it with expert analysis and actionable recommendations.",
			Starters: DefaultStarters,
		}
	}
	v.Messages = make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		mv := MessageView{ID: m.ID, Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			mv.Fragments = append(mv.Fragments, s.opts.Tools.RenderToolCall(tc))
		}
		v.Messages = append(v.Messages, mv)
	}

	if interrupt != nil {
		v.Interrupt = &InterruptView{Prompt: interruptPrompt(interrupt), Value: interrupt}
	}
	v.Thinking = streaming && interrupt == nil

	v.Research = researchGroups(state)
	v.ChainOfThought = chainOfThought(state.Thinking)
	v.Insights = state.Insights
	v.Recommendations = state.Recommendations

	if s.opts.ShowStateDebug && snap.State != nil {
		if data, err := json.MarshalIndent(snap.State, "", "  "); err == nil {
			v.DebugState = string(data)
		}
	}
	return v
}

// Detail returns the full research result of the given kind and id.
func (s *Session) Detail(kind, id string) (ResearchDetail, bool) {
	state := agentstate.DecodeProdMentor(s.snapshot().State)
	r, ok := state.Research(kind)[id]
	if !ok {
		return ResearchDetail{}, false
	}
	return ResearchDetail{
		Kind:         kind,
		Title:        researchTitle(kind),
		ID:           id,
		ShortID:      truncate(id, detailIDRunes),
		AgentName:    r.AgentName,
		TypeResearch: r.TypeResearch,
		Ideas:        r.MainIdeas,
		Content:      r.ResearchContent,
		Citations:    r.Citations,
	}, true
}

func researchTitle(kind string) string {
	if kind == agentstate.ResearchWeb {
		return "Web Research"
	}
	return "Knowledge Research"
}

func researchGroups(state agentstate.ProdMentorState) []ResearchGroup {
	if !state.HasResearch() {
		return nil
	}
	var groups []ResearchGroup
	for _, kind := range []string{agentstate.ResearchWeb, agentstate.ResearchKnowledge} {
		results := state.Research(kind)
		if len(results) == 0 {
			continue
		}
		ids := make([]string, 0, len(results))
		for id := range results {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		g := ResearchGroup{Kind: kind, Title: researchTitle(kind)}
		for _, id := range ids {
			g.Entries = append(g.Entries, previewEntry(id, results[id]))
		}
		groups = append(groups, g)
	}
	return groups
}

func previewEntry(id string, r agentstate.ResearchResult) ResearchEntry {
	e := ResearchEntry{ID: id, AgentName: r.AgentName}
	for i, idea := range r.MainIdeas {
		if i == previewIdeas {
			e.MoreIdeas = len(r.MainIdeas) - previewIdeas
			break
		}
		e.Ideas = append(e.Ideas, truncate(idea, previewIdeaRunes))
	}
	for i, c := range r.Citations {
		if i == previewCitations {
			break
		}
		e.Hosts = append(e.Hosts, toolrender.Hostname(c))
	}
	return e
}

func chainOfThought(thinking []string) []ThoughtStep {
	if len(thinking) == 0 {
		return nil
	}
	steps := make([]ThoughtStep, len(thinking))
	for i, t := range thinking {
		last := i == len(thinking)-1
		steps[i] = ThoughtStep{Text: t, Active: last, Complete: !last}
	}
	return steps
}

func interruptPrompt(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, key := range []string{"question", "message", "prompt"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return toolrender.OutputText(v)
}

// truncate cuts s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
