// Package suggest generates follow-up prompt suggestions with OpenAI.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"
	// DefaultCount is the number of suggestions returned when the caller asks for none.
	DefaultCount = 3
	maxCount     = 10
	// historyWindow bounds how many trailing messages are sent as context.
	historyWindow = 12
)

// ErrMissingAPIKey is returned when no OpenAI credential is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")

const systemPrompt = `You suggest follow-up prompts for a product mentoring assistant.
Reply with one short prompt per line, written from the user's point of view.
Do not number the lines or add any other text.`

// Message is one chat turn used as context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options configures a Service.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	Logger     *slog.Logger
}

// Service asks the LLM for suggestions.
type Service struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// New creates a Service. The API key is required.
func New(opts Options) (*Service, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: openai.NewClient(reqOpts...), model: model, logger: logger}, nil
}

// Model returns the configured model name.
func (s *Service) Model() string {
	return s.model
}

// Suggest returns up to count follow-up prompts for the conversation.
func (s *Service) Suggest(ctx context.Context, history []Message, count int) ([]string, error) {
	if count <= 0 {
		count = DefaultCount
	}
	count = min(count, maxCount)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(history, count)),
		},
		Temperature: openai.Float(0.7),
	}

	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat completion: no choices returned")
	}

	suggestions := ParseSuggestions(resp.Choices[0].Message.Content, count)
	s.logger.Debug("generated suggestions", "model", s.model, "count", len(suggestions))
	return suggestions, nil
}

func buildPrompt(history []Message, count int) string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest %d follow-up prompts for this conversation.\n\n", count)
	if len(history) == 0 {
		b.WriteString("The conversation has not started yet; suggest good opening questions.\n")
		return b.String()
	}
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
	}
	return b.String()
}

// ParseSuggestions splits LLM output into at most count clean prompts.
// Bullets, numbering and wrapping quotes are stripped; duplicates dropped.
func ParseSuggestions(text string, count int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(text, "\n") {
		s := cleanLine(line)
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
		if len(out) == count {
			break
		}
	}
	return out
}

func cleanLine(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "-*•· \t")

	// Numbering such as "1." or "2)".
	digits := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	if digits > 0 && digits < len(s) && (s[digits] == '.' || s[digits] == ')') {
		s = s[digits+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'“”`)
	return strings.TrimSpace(s)
}
