// Package agentstate tracks the streamed state of remote agent threads.
//
// State arrives as a sequence of partial updates. Each update is
// shallow-merged into the last known snapshot; keys are never removed
// locally, so staleness is entirely the remote service's concern.
package agentstate

import (
	"encoding/json"
	"maps"
)

// State is a snapshot of named agent fields.
type State map[string]any

// Merge returns a new State holding s overlaid with delta. Top-level keys in
// delta replace those in s; nested values are not merged.
func (s State) Merge(delta State) State {
	out := make(State, len(s)+len(delta))
	maps.Copy(out, s)
	maps.Copy(out, delta)
	return out
}

// Clone returns a shallow copy of s. A nil State stays nil.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// Without returns a copy of s minus the given keys.
func (s State) Without(keys ...string) State {
	out := s.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Decode converts s into a typed view. Shape mismatches do not abort the
// decode: matching fields are filled and the first mismatch is returned.
func Decode[T any](s State) (T, error) {
	var out T
	if s == nil {
		return out, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}
