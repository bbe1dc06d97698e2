package suggest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSuggestions(t *testing.T) {
	text := "1. How do I measure retention?\n- \"What should I build next?\"\n\n* 3) Prioritize my backlog\nhow do i measure retention?\nExtra"
	got := ParseSuggestions(text, 3)
	assert.Equal(t, []string{
		"How do I measure retention?",
		"What should I build next?",
		"Prioritize my backlog",
	}, got)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestSuggestCallsChatCompletions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultModel, body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "Define my ICP\nDraft a roadmap"}
			}]
		}`))
	}))
	defer srv.Close()

	svc, err := New(Options{APIKey: "sk-test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	got, err := svc.Suggest(context.Background(), []Message{{Role: "user", Content: "I run a SaaS startup"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Define my ICP", "Draft a roadmap"}, got)
}

func TestSuggestReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	svc, err := New(Options{APIKey: "sk-bad", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	_, err = svc.Suggest(context.Background(), nil, 2)
	assert.Error(t, err)
}
