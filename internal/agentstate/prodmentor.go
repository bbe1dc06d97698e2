package agentstate

import (
	"log/slog"
)

// Research kinds used as keys of the research panels.
const (
	ResearchWeb       = "web"
	ResearchKnowledge = "knowledge"
)

// ResearchResult is a structured record produced by a research tool call.
type ResearchResult struct {
	AgentName       string   `json:"agent_name"`
	TypeResearch    string   `json:"type_research"`
	ResearchContent string   `json:"research_content"`
	Citations       []string `json:"citations"`
	MainIdeas       []string `json:"main_ideas"`
}

// Recommendation is one actionable suggestion from the agent.
type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// ProdMentorState is the typed view of the prodmentor workflow state.
type ProdMentorState struct {
	Progress        *float64         `json:"progress,omitempty"`
	CurrentStep     string           `json:"currentStep,omitempty"`
	CurrentNode     string           `json:"currentNode,omitempty"`
	Analysis        string           `json:"analysis,omitempty"`
	Reasoning       string           `json:"reasoning,omitempty"`
	Thinking        []string         `json:"thinking,omitempty"`
	Insights        []string         `json:"insights,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	JumpTo          string           `json:"jump_to,omitempty"`
	Error           string           `json:"error,omitempty"`

	WebResearchResults       map[string]ResearchResult `json:"web_research_results,omitempty"`
	KnowledgeResearchResults map[string]ResearchResult `json:"knowledge_research_results,omitempty"`
}

// DecodeProdMentor reads the typed view from s. The remote payload is not
// validated; fields with an unexpected shape are left zero.
func DecodeProdMentor(s State) ProdMentorState {
	v, err := Decode[ProdMentorState](s)
	if err != nil {
		slog.Debug("agent state does not match expected shape", "error", err)
	}
	return v
}

// HasResearch reports whether any research results are present.
func (p ProdMentorState) HasResearch() bool {
	return len(p.WebResearchResults) > 0 || len(p.KnowledgeResearchResults) > 0
}

// Research returns the results of the given kind.
func (p ProdMentorState) Research(kind string) map[string]ResearchResult {
	switch kind {
	case ResearchWeb:
		return p.WebResearchResults
	case ResearchKnowledge:
		return p.KnowledgeResearchResults
	default:
		return nil
	}
}
