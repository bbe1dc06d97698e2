// Package domain contains core domain types for the copilot bridge.
package domain

import (
	"time"
)

// Thread is the local index entry for a remote agent thread. The remote
// service owns the checkpointed state; this record only keeps the last
// merged snapshot seen by the bridge.
type Thread struct {
	ThreadID  string    `json:"thread_id"`
	AgentName string    `json:"agent_name"`
	OwnerID   string    `json:"owner_id,omitempty"`
	NodeName  string    `json:"node_name,omitempty"`
	StateJSON string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasState returns true if a state snapshot has been recorded.
func (t *Thread) HasState() bool {
	return t.StateJSON != "" && t.StateJSON != "null"
}

// Idle returns how long the thread has gone without an update.
// Returns 0 if the thread was updated in the future (clock skew).
func (t *Thread) Idle(now time.Time) time.Duration {
	idle := now.Sub(t.UpdatedAt)
	if idle < 0 {
		return 0
	}
	return idle
}
