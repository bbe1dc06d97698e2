package langgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThreadSendsDefaultHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/agents/threads", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "ls-key", r.Header.Get("X-Api-Key"))

		var body CreateThreadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "prodmentor_workflow", body.Metadata["graph_id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"thread_id":"t-new","status":"idle"}`))
	}))
	defer srv.Close()

	c, err := New(Options{
		BaseURL:        srv.URL + "/api/agents/",
		APIKey:         "ls-key",
		DefaultHeaders: map[string]string{"Authorization": "Bearer tok", "X-Empty": ""},
	})
	require.NoError(t, err)

	th, err := c.CreateThread(context.Background(), CreateThreadRequest{Metadata: map[string]any{"graph_id": "prodmentor_workflow"}})
	require.NoError(t, err)
	assert.Equal(t, "t-new", th.ThreadID)
}

func TestStatusErrorsMatchErrStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "thread not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.GetThreadState(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatus))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "thread not found", se.Body)
}

func TestStreamRunYieldsParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/threads/abc123/runs/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var run RunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&run))
		assert.Equal(t, "prodmentor_workflow", run.AssistantID)
		assert.Equal(t, []string{StreamValues, StreamUpdates, StreamMessagesTuple}, run.StreamMode)
		assert.True(t, run.StreamSubgraphs)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: metadata\ndata: {\"run_id\":\"run-1\"}\n\n")
		fmt.Fprint(w, "event: updates\ndata: {\"analyze\":{\"progress\":25}}\n\n")
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	var events []string
	for part, err := range c.StreamRun(context.Background(), "abc123", RunRequest{
		AssistantID:     "prodmentor_workflow",
		StreamMode:      []string{StreamValues, StreamUpdates, StreamMessagesTuple},
		StreamSubgraphs: true,
	}) {
		require.NoError(t, err)
		events = append(events, part.Event)
	}
	assert.Equal(t, []string{EventMetadata, EventUpdates}, events)
}

func TestStreamRunReportsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)

	calls := 0
	for _, err := range c.StreamRun(context.Background(), "t", RunRequest{AssistantID: "a"}) {
		calls++
		assert.ErrorIs(t, err, ErrStatus)
	}
	assert.Equal(t, 1, calls)
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New(Options{BaseURL: "/api/agents"})
	assert.Error(t, err)

	c, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDeploymentURL, c.BaseURL())
}
