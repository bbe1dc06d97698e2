package agentstate

import (
	"sync"
)

// Options configures how a UI observes one agent.
type Options struct {
	// Name is the agent identifier (graph name) in the runtime registry.
	Name string
	// StreamSubgraphs asks the remote service to include sub-graph events.
	StreamSubgraphs bool
}

// Hub owns one Tracker per agent thread. Trackers created only to be
// watched are dropped when their last watcher leaves.
type Hub struct {
	mu       sync.Mutex
	trackers map[string]*hubEntry
}

type hubEntry struct {
	tracker *Tracker
	// pinned is set once a run writes to the tracker through Tracker.
	pinned   bool
	watchers int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{trackers: make(map[string]*hubEntry)}
}

func hubKey(agent, threadID string) string {
	return agent + "/" + threadID
}

func (h *Hub) entryLocked(key string) *hubEntry {
	e, ok := h.trackers[key]
	if !ok {
		e = &hubEntry{tracker: NewTracker()}
		h.trackers[key] = e
	}
	return e
}

// Tracker returns the tracker for agent/thread, creating it on first use.
// The tracker stays in the hub until Forget.
func (h *Hub) Tracker(agent, threadID string) *Tracker {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entryLocked(hubKey(agent, threadID))
	e.pinned = true
	return e.tracker
}

// Watch subscribes to agent/thread. A tracker created for the watch is
// removed again when the last watcher cancels, unless a run claimed it
// through Tracker in the meantime.
func (h *Hub) Watch(agent, threadID string) (<-chan Snapshot, func()) {
	key := hubKey(agent, threadID)
	h.mu.Lock()
	e := h.entryLocked(key)
	e.watchers++
	ch, unsubscribe := e.tracker.Subscribe()
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			unsubscribe()
			h.mu.Lock()
			defer h.mu.Unlock()
			e.watchers--
			if e.watchers == 0 && !e.pinned && h.trackers[key] == e {
				delete(h.trackers, key)
			}
		})
	}
}

// Lookup returns the tracker for agent/thread if one exists.
func (h *Hub) Lookup(agent, threadID string) (*Tracker, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.trackers[hubKey(agent, threadID)]
	if !ok {
		return nil, false
	}
	return e.tracker, true
}

// Forget drops the tracker for agent/thread. Existing subscribers keep their
// channels until they unsubscribe.
func (h *Hub) Forget(agent, threadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.trackers, hubKey(agent, threadID))
}

// Len returns the number of tracked threads.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.trackers)
}
