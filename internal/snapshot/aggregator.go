package snapshot

import (
	"encoding/json"
	"time"
)

// Sink receives published snapshots.
type Sink interface {
	Publish(s *Snapshot)
}

// Aggregator records the latest payload per active entity and publishes a
// snapshot once every active entity has reported since the last
// (re)subscription. After that, each further payload publishes.
//
// An Aggregator belongs to one session and is driven from that session's
// event loop; it is not safe for concurrent use.
type Aggregator struct {
	sink Sink
	now  func() time.Time

	active  map[string]struct{}
	latest  map[string]json.RawMessage
	seen    map[string]struct{}
	covered bool
	version uint64
}

// NewAggregator starts a coverage round for entityIDs. Versions start at 0,
// so the first publish carries version 1.
func NewAggregator(entityIDs []string, sink Sink) *Aggregator {
	a := &Aggregator{
		sink:   sink,
		now:    time.Now,
		latest: make(map[string]json.RawMessage),
	}
	a.Resubscribe(entityIDs)
	return a
}

// OnPayload records a payload and publishes if coverage is complete. It
// reports whether a snapshot was published. Payloads for entities outside
// the active set are ignored.
func (a *Aggregator) OnPayload(entityID string, payload json.RawMessage) bool {
	if _, ok := a.active[entityID]; !ok {
		return false
	}
	a.latest[entityID] = payload
	a.seen[entityID] = struct{}{}

	if !a.covered {
		if len(a.seen) < len(a.active) {
			return false
		}
		a.covered = true
	}

	a.version++
	a.sink.Publish(a.build())
	return true
}

// Resubscribe replaces the active entity set and starts a new coverage round.
// Payloads of entities that remain active are kept; removed entities are
// forgotten. The version sequence continues.
func (a *Aggregator) Resubscribe(entityIDs []string) {
	a.active = make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		a.active[id] = struct{}{}
	}
	for id := range a.latest {
		if _, ok := a.active[id]; !ok {
			delete(a.latest, id)
		}
	}
	a.seen = make(map[string]struct{}, len(entityIDs))
	a.covered = false
}

// Covered reports whether the current round has seen every active entity.
func (a *Aggregator) Covered() bool { return a.covered }

// Pending returns how many active entities have not reported this round.
func (a *Aggregator) Pending() int { return len(a.active) - len(a.seen) }

// Version returns the version of the last published snapshot.
func (a *Aggregator) Version() uint64 { return a.version }

func (a *Aggregator) build() *Snapshot {
	per := make(map[string]json.RawMessage, len(a.active))
	for id := range a.active {
		per[id] = a.latest[id]
	}
	return &Snapshot{
		Version:     a.version,
		PerEntity:   per,
		PublishedAt: a.now(),
	}
}
