package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/copilot-bridge/internal/agentstate"
	"github.com/ashureev/copilot-bridge/internal/domain"
)

// RecordTimeout bounds one Recorder write.
const RecordTimeout = 5 * time.Second

// Recorder writes the observed state of agent threads to the index.
type Recorder struct {
	repo Repository
	hub  *agentstate.Hub
}

// NewRecorder creates a recorder reading live state from hub.
func NewRecorder(repo Repository, hub *agentstate.Hub) *Recorder {
	return &Recorder{repo: repo, hub: hub}
}

// Record upserts threadID with the hub's current node and merged state.
// It runs detached from ctx cancellation so a finished stream is still
// recorded after the client has gone.
func (r *Recorder) Record(ctx context.Context, agent, threadID, ownerID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RecordTimeout)
	defer cancel()

	rec := &domain.Thread{ThreadID: threadID, AgentName: agent, OwnerID: ownerID}
	if r.hub != nil {
		if tr, ok := r.hub.Lookup(agent, threadID); ok {
			snap := tr.Snapshot()
			rec.NodeName = snap.NodeName
			if snap.State != nil {
				data, err := json.Marshal(snap.State)
				if err != nil {
					return fmt.Errorf("encode thread state: %w", err)
				}
				rec.StateJSON = string(data)
			}
		}
	}
	return r.repo.UpsertThread(ctx, rec)
}
