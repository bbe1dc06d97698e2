package agentstate

import (
	"sync"
)

// Snapshot is what a UI observes for one agent thread.
type Snapshot struct {
	// State is nil until the first update arrives.
	State    State  `json:"state"`
	Running  bool   `json:"running"`
	NodeName string `json:"nodeName,omitempty"`
}

// IsZero reports whether nothing has been observed yet.
func (s Snapshot) IsZero() bool {
	return s.State == nil && !s.Running && s.NodeName == ""
}

// Tracker holds the merged state, running flag and active node of one
// agent thread and fans changes out to subscribers.
type Tracker struct {
	mu      sync.Mutex
	state   State
	running bool
	node    string
	subs    map[int]chan Snapshot
	nextSub int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{subs: make(map[int]chan Snapshot)}
}

// Apply merges a partial update. node names the remote step that produced
// it; an empty node leaves the current node name in place.
func (t *Tracker) Apply(delta State, node string) {
	if len(delta) == 0 && node == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(delta) > 0 || t.state == nil {
		t.state = t.state.Merge(delta)
	}
	if node != "" {
		t.node = node
	}
	t.publishLocked()
}

// SetRunning updates the running flag.
func (t *Tracker) SetRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running == running {
		return
	}
	t.running = running
	t.publishLocked()
}

// Snapshot returns the current observable values.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Subscribe returns a channel receiving every change. Slow readers only see
// the newest snapshot. The returned func unsubscribes and closes the channel.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan Snapshot, 1)
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		State:    t.state.Clone(),
		Running:  t.running,
		NodeName: t.node,
	}
}

func (t *Tracker) publishLocked() {
	if len(t.subs) == 0 {
		return
	}
	snap := t.snapshotLocked()
	for _, ch := range t.subs {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot so the newest one wins.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
