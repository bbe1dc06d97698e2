package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/ashureev/copilot-bridge/internal/runtime"
)

// ErrNotFound is returned for threads that are unknown or owned by someone
// else.
var ErrNotFound = errors.New("chat: session not found")

// DefaultSweepInterval is how often idle sessions are looked for.
const DefaultSweepInterval = 5 * time.Minute

// ThreadLookup reads recorded threads. store.Repository implements it.
type ThreadLookup interface {
	GetThread(ctx context.Context, threadID string) (*domain.Thread, error)
}

// Manager owns the chat sessions of the process, keyed by thread id.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*managedSession
	base     Options
	threads  ThreadLookup
	now      func() time.Time
}

type managedSession struct {
	*Session
	lastUsed time.Time
}

// NewManager creates a manager whose sessions share base. ThreadID and
// OwnerID in base are ignored. threads, when set, lets Open restore a
// session for a recorded thread after a restart.
func NewManager(base Options, threads ThreadLookup) *Manager {
	if base.Agent == "" {
		base.Agent = runtime.DefaultAgentName
	}
	now := base.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sessions: make(map[string]*managedSession),
		base:     base,
		threads:  threads,
		now:      now,
	}
}

// Create starts a session for a new thread owned by ownerID and records
// the thread so only its owner can reach it.
func (m *Manager) Create(ctx context.Context, threadID, ownerID string) (*Session, error) {
	m.mu.Lock()
	if ms, ok := m.sessions[threadID]; ok {
		m.mu.Unlock()
		if ms.OwnerID() != ownerID {
			return nil, ErrNotFound
		}
		return ms.Session, nil
	}
	s, err := m.addLocked(threadID, ownerID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if m.base.Recorder != nil {
		if err := m.base.Recorder.Record(ctx, m.base.Agent, threadID, ownerID); err != nil {
			m.Forget(threadID)
			return nil, fmt.Errorf("record chat thread: %w", err)
		}
	}
	return s, nil
}

// Open returns ownerID's session for threadID. A recorded thread without a
// live session gets a fresh one. Anything else is ErrNotFound.
func (m *Manager) Open(ctx context.Context, threadID, ownerID string) (*Session, error) {
	m.mu.Lock()
	if ms, ok := m.sessions[threadID]; ok {
		defer m.mu.Unlock()
		if ms.OwnerID() != ownerID {
			return nil, ErrNotFound
		}
		ms.lastUsed = m.now()
		return ms.Session, nil
	}
	m.mu.Unlock()

	if m.threads == nil {
		return nil, ErrNotFound
	}
	t, err := m.threads.GetThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load chat thread: %w", err)
	}
	if t == nil || t.OwnerID != ownerID || t.AgentName != m.base.Agent {
		return nil, ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ms, ok := m.sessions[threadID]; ok {
		if ms.OwnerID() != ownerID {
			return nil, ErrNotFound
		}
		ms.lastUsed = m.now()
		return ms.Session, nil
	}
	return m.addLocked(threadID, ownerID)
}

func (m *Manager) addLocked(threadID, ownerID string) (*Session, error) {
	opts := m.base
	opts.ThreadID = threadID
	opts.OwnerID = ownerID
	s, err := NewSession(opts)
	if err != nil {
		return nil, err
	}
	m.sessions[threadID] = &managedSession{Session: s, lastUsed: m.now()}
	return s, nil
}

// Lookup returns the session for threadID if one exists.
func (m *Manager) Lookup(threadID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[threadID]
	if !ok {
		return nil, false
	}
	return ms.Session, true
}

// Forget stops and drops the session for threadID.
func (m *Manager) Forget(threadID string) {
	m.mu.Lock()
	ms, ok := m.sessions[threadID]
	delete(m.sessions, threadID)
	m.mu.Unlock()
	if ok {
		ms.Stop()
	}
}

// Sweep drops sessions unused for longer than idle. Sessions with a turn
// in flight are kept. It returns the number dropped.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, ms := range m.sessions {
		if ms.lastUsed.After(cutoff) || ms.Streaming() {
			continue
		}
		delete(m.sessions, id)
		n++
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(idle); n > 0 {
					slog.Info("Evicted idle chat sessions", "count", n)
				}
			}
		}
	}()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every in-flight turn and drops all sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()
	for _, ms := range sessions {
		ms.Stop()
	}
}
