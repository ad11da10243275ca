// Package snapshot combines per-entity payloads into versioned, immutable
// snapshots and exposes them, together with session status flags, to
// renderers.
package snapshot

import (
	"encoding/json"
	"sort"
	"time"
)

// Snapshot is one complete cross-entity view. A published Snapshot is never
// mutated; a newer view is always a new value.
type Snapshot struct {
	Version   uint64                     `json:"version"`
	PerEntity map[string]json.RawMessage `json:"perEntity"`
	// Aggregate carries the backend's cross-entity summary for batch pulls.
	Aggregate   json.RawMessage `json:"aggregate,omitempty"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// Keys returns the entity IDs in the snapshot, sorted.
func (s *Snapshot) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.PerEntity))
	for k := range s.PerEntity {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Payload returns the payload recorded for an entity.
func (s *Snapshot) Payload(entityID string) (json.RawMessage, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.PerEntity[entityID]
	return p, ok
}
