package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/copilot-bridge/internal/agentstate"
	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGetThread(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	missing, err := s.GetThread(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.UpsertThread(ctx, &domain.Thread{
		ThreadID:  "abc123",
		AgentName: "prodmentor_workflow",
		OwnerID:   "anon:1",
		NodeName:  "analyze",
		StateJSON: `{"progress":25}`,
	}))

	got, err := s.GetThread(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "prodmentor_workflow", got.AgentName)
	assert.Equal(t, "anon:1", got.OwnerID)
	assert.Equal(t, "analyze", got.NodeName)
	assert.JSONEq(t, `{"progress":25}`, got.StateJSON)
}

func TestUpsertKeepsOwnerNodeAndStateWhenEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertThread(ctx, &domain.Thread{
		ThreadID: "t1", AgentName: "a", OwnerID: "anon:1", NodeName: "n1", StateJSON: `{"x":1}`,
	}))
	require.NoError(t, s.UpsertThread(ctx, &domain.Thread{ThreadID: "t1", AgentName: "a"}))

	got, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "anon:1", got.OwnerID)
	assert.Equal(t, "n1", got.NodeName)
	assert.JSONEq(t, `{"x":1}`, got.StateJSON)
}

func TestListThreadsByOwnerNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"old", "mid", "new"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.UpsertThread(ctx, &domain.Thread{
			ThreadID: id, AgentName: "a", OwnerID: "me", CreatedAt: ts, UpdatedAt: ts,
		}))
	}
	require.NoError(t, s.UpsertThread(ctx, &domain.Thread{ThreadID: "other", AgentName: "a", OwnerID: "you"}))

	threads, err := s.ListThreads(ctx, "me", 2)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "new", threads[0].ThreadID)
	assert.Equal(t, "mid", threads[1].ThreadID)
}

func TestSweepExpiredRemovesIdleThreads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	stale := time.Now().Add(-48 * time.Hour)

	require.NoError(t, s.UpsertThread(ctx, &domain.Thread{ThreadID: "stale", AgentName: "a", CreatedAt: stale, UpdatedAt: stale}))
	require.NoError(t, s.UpsertThread(ctx, &domain.Thread{ThreadID: "fresh", AgentName: "a"}))

	var cleaned []string
	n := SweepExpired(ctx, s, 24*time.Hour, func(t *domain.Thread) { cleaned = append(cleaned, t.ThreadID) })
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"stale"}, cleaned)

	got, err := s.GetThread(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.GetThread(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestUpsertRequiresID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.UpsertThread(context.Background(), &domain.Thread{}))
}

func TestUpsertNeverReplacesOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertThread(ctx, &domain.Thread{ThreadID: "t1", AgentName: "a"}))
	require.NoError(t, s.UpsertThread(ctx, &domain.Thread{ThreadID: "t1", AgentName: "a", OwnerID: "anon:first"}))
	require.NoError(t, s.UpsertThread(ctx, &domain.Thread{ThreadID: "t1", AgentName: "a", OwnerID: "anon:second", NodeName: "n2"}))

	got, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "anon:first", got.OwnerID)
	assert.Equal(t, "n2", got.NodeName)
}

func TestRecorderStoresLiveState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newTestStore(t)
	hub := agentstate.NewHub()
	hub.Tracker("a", "t1").Apply(agentstate.State{"progress": 40}, "analyze")

	require.NoError(t, NewRecorder(s, hub).Record(ctx, "a", "t1", "anon:me"))
	require.NoError(t, NewRecorder(s, hub).Record(ctx, "a", "t2", "anon:me"))

	got, err := s.GetThread(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "anon:me", got.OwnerID)
	assert.Equal(t, "analyze", got.NodeName)
	assert.JSONEq(t, `{"progress":40}`, got.StateJSON)

	bare, err := s.GetThread(context.Background(), "t2")
	require.NoError(t, err)
	require.NotNil(t, bare)
	assert.False(t, bare.HasState())
}
