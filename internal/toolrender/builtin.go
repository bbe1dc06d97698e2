package toolrender

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"

	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/invopop/jsonschema"
)

// Built-in tool names.
const (
	ToolThinking = "thinking_tool"
	ToolAnalyze  = "analyze_tool"
	ToolSearch   = "tavily_search"
	ToolExtract  = "tavily_extract"
)

// DefaultConfidence is shown when a reasoning tool omits its confidence.
const DefaultConfidence = 0.8

// searchPlaceholders is the number of loading chips shown while a search has no results.
const searchPlaceholders = 3

type thinkingArgs struct {
	Title      string  `json:"title" jsonschema:"description=Title of the thought"`
	Thought    string  `json:"thought" jsonschema:"description=The complete thought"`
	Action     string  `json:"action,omitempty" jsonschema:"description=Next action"`
	Confidence float64 `json:"confidence,omitempty" jsonschema:"description=Confidence level (0-1),minimum=0,maximum=1"`
}

type analyzeArgs struct {
	Title          string  `json:"title" jsonschema:"description=Title of the analysis"`
	AnalysisResult string  `json:"analysis_result,omitempty" jsonschema:"description=Analyzed result"`
	Analysis       string  `json:"analysis" jsonschema:"description=The detailed analysis"`
	NextAction     string  `json:"next_action,omitempty" jsonschema:"description=Next action"`
	Confidence     float64 `json:"confidence,omitempty" jsonschema:"description=Confidence level (0-1),minimum=0,maximum=1"`
}

type searchArgs struct {
	Query      string `json:"query" jsonschema:"description=Web search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of results"`
	Topic      string `json:"topic,omitempty" jsonschema:"enum=general,enum=news,enum=finance"`
}

type extractArgs struct {
	URLs []string `json:"urls" jsonschema:"description=Pages to read,minItems=1"`
}

var schemaReflector = jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
}

func schemaOf(v any) *jsonschema.Schema {
	return schemaReflector.Reflect(v)
}

// Default returns a registry holding the built-in reasoning and research renderers.
func Default() *Registry {
	r := NewRegistry()
	for _, def := range []Definition{
		{
			Name:        ToolThinking,
			Description: "Renders the agent's thoughts in the chat",
			Parameters:  schemaOf(&thinkingArgs{}),
			Render:      renderThinking,
		},
		{
			Name:        ToolAnalyze,
			Description: "Renders the agent's analyses in the chat",
			Parameters:  schemaOf(&analyzeArgs{}),
			Render:      renderAnalyze,
		},
		{
			Name:        ToolSearch,
			Description: "Renders web search results",
			Parameters:  schemaOf(&searchArgs{}),
			Render:      renderSearch,
		},
		{
			Name:        ToolExtract,
			Description: "Renders the pages being read",
			Parameters:  schemaOf(&extractArgs{}),
			Render:      renderExtract,
		},
	} {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

func renderThinking(call Call) Fragment {
	title := argString(call.Args, "title")

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n\n%s", title, argString(call.Args, "thought"))
	if action := argString(call.Args, "action"); action != "" {
		fmt.Fprintf(&b, "\n\n**Next action:** %s", action)
	}
	if call.Status == domain.ToolStatusComplete {
		b.WriteString("\n\n")
		b.WriteString(confidenceLine(call.Args))
	}

	label := "Thought: " + title
	if call.Streaming() {
		label = "Thinking..."
	}
	return Fragment{Kind: KindReasoning, Title: label, Content: b.String()}
}

func renderAnalyze(call Call) Fragment {
	title := argString(call.Args, "title")

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n\n", title)
	result := argString(call.Args, "analysis_result")
	if result == "" {
		result = argString(call.Args, "analisis_result")
	}
	if result != "" {
		fmt.Fprintf(&b, "**Result:**\n%s\n\n", result)
	}
	if analysis := argString(call.Args, "analysis"); analysis != "" {
		fmt.Fprintf(&b, "**Analysis:**\n%s\n\n", analysis)
	}
	if next := argString(call.Args, "next_action"); next != "" {
		fmt.Fprintf(&b, "**Next action:** %s\n\n", next)
	}
	if call.Status == domain.ToolStatusComplete {
		b.WriteString(confidenceLine(call.Args))
	}

	label := "Analysis: " + title
	if call.Streaming() {
		label = "Analyzing..."
	}
	return Fragment{Kind: KindReasoning, Title: label, Content: b.String()}
}

func confidenceLine(args map[string]any) string {
	c := argFloat(args, "confidence")
	if c == 0 {
		c = DefaultConfidence
	}
	return fmt.Sprintf("_Confidence: %d%%_", int(math.Round(c*100)))
}

// SearchResult is one entry of a web search response.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchResponse is the structured result of a web search tool.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// ParseSearchResult decodes a search tool result. Strings are only decoded
// when they look like a JSON object or array; anything that cannot be
// decoded is logged and reported as absent.
func ParseSearchResult(result any) *SearchResponse {
	var raw []byte
	switch v := result.(type) {
	case nil:
		return nil
	case string:
		trimmed := strings.TrimSpace(v)
		if !looksLikeJSON(trimmed) {
			return nil
		}
		raw = []byte(trimmed)
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			slog.Warn("failed to encode search result", "error", err)
			return nil
		}
		raw = b
	}

	var resp SearchResponse
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		if err := json.Unmarshal(raw, &resp.Results); err != nil {
			slog.Warn("failed to parse search result as JSON", "error", err)
			return nil
		}
		return &resp
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		slog.Warn("failed to parse search result as JSON", "error", err)
		return nil
	}
	return &resp
}

func looksLikeJSON(s string) bool {
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}

func renderSearch(call Call) Fragment {
	f := Fragment{
		Kind:     KindSearch,
		Title:    "Search:",
		Subtitle: argString(call.Args, "query"),
	}
	if call.Streaming() {
		f.Title = "Searching"
	}

	if resp := ParseSearchResult(call.Result); resp != nil {
		for _, r := range resp.Results {
			l := NewLink(r.URL)
			l.Title = r.Title
			l.Snippet = r.Content
			l.Score = r.Score
			f.Links = append(f.Links, l)
		}
	}
	if len(f.Links) == 0 && call.Streaming() {
		f.Placeholders = searchPlaceholders
	}
	return f
}

func renderExtract(call Call) Fragment {
	urls := argStrings(call.Args, "urls")
	f := Fragment{
		Kind:     KindExtract,
		Title:    "Reading complete:",
		Subtitle: pages(len(urls)),
	}
	if call.Streaming() {
		f.Title = "Reading most relevant pages:"
	}
	for _, u := range urls {
		f.Links = append(f.Links, NewLink(u))
	}
	return f
}

func pages(n int) string {
	if n == 1 {
		return "1 page"
	}
	return fmt.Sprintf("%d pages", n)
}

// NewLink builds a link chip for rawURL.
func NewLink(rawURL string) Link {
	host := Hostname(rawURL)
	return Link{URL: rawURL, Hostname: host, FaviconURL: FaviconURL(host)}
}

// Hostname returns the host of rawURL without a leading "www.". URLs that
// do not parse as absolute are returned unchanged.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// FaviconURL returns the favicon service URL for host.
func FaviconURL(host string) string {
	return "https://www.google.com/s2/favicons?domain=" + url.QueryEscape(host) + "&sz=32"
}

func argString(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func argFloat(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

func argStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
