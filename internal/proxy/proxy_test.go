package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/ashureev/copilot-bridge/internal/identity"
	"github.com/ashureev/copilot-bridge/internal/langgraph"
	"github.com/ashureev/copilot-bridge/internal/runtime"
	"github.com/ashureev/copilot-bridge/internal/store"
	"github.com/ashureev/copilot-bridge/internal/suggest"
	"github.com/ashureev/copilot-bridge/internal/toolrender"
	"github.com/ashureev/copilot-bridge/internal/transcript"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDeployment is a minimal LangGraph server.
type fakeDeployment struct {
	*httptest.Server
	hits       atomic.Int32
	lastPath   atomic.Value
	lastAuth   atomic.Value
	lastAPIKey atomic.Value
	failCreate bool
}

func newFakeDeployment(t *testing.T) *fakeDeployment {
	t.Helper()
	d := &fakeDeployment{}
	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.hits.Add(1)
		d.lastPath.Store(r.URL.Path)
		d.lastAuth.Store(r.Header.Get("Authorization"))
		d.lastAPIKey.Store(r.Header.Get("X-Api-Key"))

		switch {
		case r.URL.Path == "/threads":
			if d.failCreate {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"thread_id":"t-created"}`)
		case strings.HasSuffix(r.URL.Path, "/runs/stream"):
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "event: metadata\ndata: {\"run_id\":\"remote-1\"}\n\n")
			fmt.Fprint(w, "event: updates\ndata: {\"analyze\":{\"progress\":25,\"currentStep\":\"x\"}}\n\n")
			fmt.Fprint(w, "event: messages\ndata: [{\"type\":\"AIMessageChunk\",\"id\":\"m1\",\"content\":\"Hello\"},{}]\n\n")
			fmt.Fprint(w, "event: end\ndata: null\n\n")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(d.Close)
	return d
}

func (d *fakeDeployment) path() string {
	p, _ := d.lastPath.Load().(string)
	return p
}

type fixture struct {
	router http.Handler
	store  *store.SQLiteStore
	deploy *fakeDeployment
}

func newFixture(t *testing.T, apiKey string, mutate ...func(*Options)) *fixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "proxy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	deploy := newFakeDeployment(t)
	opts := Options{
		OpenAIAPIKey:    apiKey,
		DeploymentURL:   deploy.URL,
		LangSmithAPIKey: "ls-key",
		Renderer:        toolrender.Default(),
		Store:           repo,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h, err := New(opts)
	require.NoError(t, err)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	withUser := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.ServeHTTP(w, req.WithContext(identity.WithUserID(req.Context(), "anon:me")))
	})
	return &fixture{router: withUser, store: repo, deploy: deploy}
}

func (f *fixture) post(path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// sseTypes returns the event names of an SSE body in order.
func sseTypes(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			out = append(out, name)
		}
	}
	return out
}

func TestRunWithoutCredentialNeverContactsAgent(t *testing.T) {
	f := newFixture(t, "")

	w := f.post("/api/copilotkit/", `{"threadId":"abc123","messages":[{"role":"user","content":"hi"}]}`, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, int32(0), f.deploy.hits.Load())
}

func TestRunOnThreadFromBody(t *testing.T) {
	f := newFixture(t, "sk-test")

	w := f.post("/api/copilotkit/", `{"threadId":"abc123"}`, map[string]string{"Authorization": "Bearer user-tok"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "/threads/abc123/runs/stream", f.deploy.path())
	assert.Equal(t, "Bearer user-tok", f.deploy.lastAuth.Load())
	assert.Equal(t, "ls-key", f.deploy.lastAPIKey.Load())

	types := sseTypes(w.Body.String())
	require.NotEmpty(t, types)
	assert.Equal(t, "RUN_STARTED", types[0])
	assert.Equal(t, "RUN_FINISHED", types[len(types)-1])
	assert.Contains(t, types, "STATE_DELTA")
	assert.Contains(t, types, "TEXT_MESSAGE_CONTENT")
}

func TestRunRecordsThreadState(t *testing.T) {
	f := newFixture(t, "sk-test")

	w := f.post("/api/copilotkit/", `{"messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := f.store.GetThread(context.Background(), "t-created")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "anon:me", rec.OwnerID)
	assert.Equal(t, "analyze", rec.NodeName)
	assert.JSONEq(t, `{"progress":25,"currentStep":"x"}`, rec.StateJSON)
}

func TestRunOnForeignThreadIsRefused(t *testing.T) {
	f := newFixture(t, "sk-test")
	ctx := context.Background()
	require.NoError(t, f.store.UpsertThread(ctx, &domain.Thread{
		ThreadID: "abc123", AgentName: "prodmentor_workflow", OwnerID: "anon:victim", StateJSON: `{"progress":80}`,
	}))

	w := f.post("/api/copilotkit/", `{"threadId":"abc123"}`, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, int32(0), f.deploy.hits.Load())
	rec, err := f.store.GetThread(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "anon:victim", rec.OwnerID)
	threads, err := f.store.ListThreads(ctx, "anon:victim", 0)
	require.NoError(t, err)
	assert.Len(t, threads, 1)
}

func TestRunClaimsUnownedThread(t *testing.T) {
	f := newFixture(t, "sk-test")
	ctx := context.Background()
	require.NoError(t, f.store.UpsertThread(ctx, &domain.Thread{ThreadID: "abc123", AgentName: "prodmentor_workflow"}))

	w := f.post("/api/copilotkit/", `{"threadId":"abc123"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	rec, err := f.store.GetThread(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "anon:me", rec.OwnerID)
}

func TestRunFindsNestedThreadID(t *testing.T) {
	f := newFixture(t, "sk-test")

	body := `{"variables":{"data":{"threadId":"nested-1"}},"messages":[{"role":"user","content":"hi"}]}`
	w := f.post("/api/copilotkit/", body, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/threads/nested-1/runs/stream", f.deploy.path())
}

func TestRunFailureBeforeStreamIsJSON(t *testing.T) {
	f := newFixture(t, "sk-test")
	f.deploy.failCreate = true

	w := f.post("/api/copilotkit/", `{"messages":[{"role":"user","content":"hi"}]}`, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "create thread")
}

func TestRunRejectsBadInput(t *testing.T) {
	f := newFixture(t, "sk-test")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"threadId":`, http.StatusBadRequest},
		{"nothing to run", `{}`, http.StatusBadRequest},
		{"unknown agent", `{"agent":"nope","threadId":"t1"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.post("/api/copilotkit/", tt.body, nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
	assert.Equal(t, int32(0), f.deploy.hits.Load())
}

func TestRunBodyLimit(t *testing.T) {
	f := newFixture(t, "sk-test", func(o *Options) { o.MaxBodyBytes = 16 })

	w := f.post("/api/copilotkit/", `{"threadId":"abc123","messages":[]}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestThreadIDFromBody(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"threadId":"abc123"}`, "abc123"},
		{`{"variables":{"data":{"threadId":"v1"}}}`, "v1"},
		{`{"threadId":"top","variables":{"data":{"threadId":"v1"}}}`, "top"},
		{`{"threadId":42}`, ""},
		{`not json`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, threadIDFromBody([]byte(tt.body)), tt.body)
	}
}

func TestThreadLocks(t *testing.T) {
	l := newThreadLocks()
	unlock, ok := l.tryLock("t1")
	require.True(t, ok)

	_, ok = l.tryLock("t1")
	assert.False(t, ok)

	unlock()
	unlock2, ok := l.tryLock("t1")
	require.True(t, ok)
	unlock2()
	unlock2()
	assert.Empty(t, l.running)
}

func TestThreadLocksSingleHolderUnderContention(t *testing.T) {
	l := newThreadLocks()
	var active, maxActive, acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				unlock, ok := l.tryLock("t")
				if !ok {
					continue
				}
				acquired.Add(1)
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				active.Add(-1)
				unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Positive(t, acquired.Load())
	assert.Empty(t, l.running)
}

func TestInfoListsAgents(t *testing.T) {
	f := newFixture(t, "", func(o *Options) { o.PublicAPIKey = "ck_pub" })

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/copilotkit/info", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Agents []struct {
			Name    string `json:"name"`
			GraphID string `json:"graphId"`
			Default bool   `json:"default"`
		} `json:"agents"`
		PublicAPIKeyConfigured bool `json:"publicApiKeyConfigured"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "prodmentor_workflow", body.Agents[0].Name)
	assert.True(t, body.Agents[0].Default)
	assert.True(t, body.PublicAPIKeyConfigured)
}

type fakeSuggester struct {
	got   []suggest.Message
	count int
}

func (f *fakeSuggester) Suggest(_ context.Context, history []suggest.Message, count int) ([]string, error) {
	f.got, f.count = history, count
	return []string{"Tell me more", "What next?"}, nil
}

func TestSuggestions(t *testing.T) {
	s := &fakeSuggester{}
	f := newFixture(t, "sk-test", func(o *Options) { o.Suggester = s })

	w := f.post("/api/copilotkit/suggestions", `{"messages":[{"role":"user","content":"hi"}],"count":2}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"suggestions":["Tell me more","What next?"]}`, w.Body.String())
	assert.Equal(t, 2, s.count)
	assert.Equal(t, []suggest.Message{{Role: "user", Content: "hi"}}, s.got)
}

func TestSuggestionsRequireCredential(t *testing.T) {
	s := &fakeSuggester{}
	f := newFixture(t, "", func(o *Options) { o.Suggester = s })

	w := f.post("/api/copilotkit/suggestions", `{"messages":[]}`, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Nil(t, s.got)
}

// slowBackend waits before ending the run so keepalive pings are due.
type slowBackend struct {
	delay time.Duration
}

func (slowBackend) CreateThread(context.Context, langgraph.CreateThreadRequest) (*langgraph.Thread, error) {
	return &langgraph.Thread{ThreadID: "slow"}, nil
}

func (b slowBackend) StreamRun(ctx context.Context, _ string, _ langgraph.RunRequest) iter.Seq2[langgraph.StreamPart, error] {
	return func(yield func(langgraph.StreamPart, error) bool) {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return
		}
		yield(langgraph.StreamPart{Event: langgraph.EventEnd}, nil)
	}
}

func TestRunSendsKeepaliveWhileAgentIsQuiet(t *testing.T) {
	f := newFixture(t, "sk-test", func(o *Options) {
		o.KeepaliveInterval = 10 * time.Millisecond
		o.NewBackend = func(string) (runtime.Backend, error) { return slowBackend{delay: 100 * time.Millisecond}, nil }
	})

	w := f.post("/api/copilotkit/", `{"messages":[{"role":"user","content":"hi"}]}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ": ping\n\n")
	types := sseTypes(w.Body.String())
	assert.Equal(t, []string{"RUN_STARTED", "RUN_FINISHED"}, types)
}

func TestRunWritesTranscript(t *testing.T) {
	dir := t.TempDir()
	log, err := transcript.New(transcript.Config{Enabled: true, Dir: dir}, nil)
	require.NoError(t, err)
	f := newFixture(t, "sk-test", func(o *Options) { o.Transcript = log })

	w := f.post("/api/copilotkit/", `{"threadId":"abc123","messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, log.Close())

	data, err := os.ReadFile(filepath.Join(dir, "anon_me", "abc123.ndjson"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var user, reply transcript.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &user))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &reply))
	assert.Equal(t, transcript.EventUserMessage, user.EventType)
	assert.Equal(t, "hi", user.Content)
	assert.Equal(t, "abc123", user.ThreadID)
	assert.Equal(t, transcript.EventAssistantMessage, reply.EventType)
	assert.Equal(t, "Hello", reply.Content)
}
