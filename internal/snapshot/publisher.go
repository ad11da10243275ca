package snapshot

import (
	"sort"
	"sync"
	"time"

	"github.com/ersozo/re-dashboard/internal/channel"
	"github.com/ersozo/re-dashboard/internal/metrics"
	"github.com/ersozo/re-dashboard/internal/protocol"
)

// DefaultUpdatingWindow is how long Updating stays true after a publish.
const DefaultUpdatingWindow = 500 * time.Millisecond

// SessionInfo describes the session whose data is being published.
type SessionInfo struct {
	ID          string               `json:"id"`
	Mode        protocol.Mode        `json:"mode"`
	View        protocol.ViewKind    `json:"view"`
	Entities    []string             `json:"entities"`
	Start       time.Time            `json:"start"`
	End         time.Time            `json:"end"`
	WorkingMode protocol.WorkingMode `json:"workingMode"`
}

// State is the published surface. Values returned by the Publisher are
// copies; the Snapshot they point to is immutable.
type State struct {
	Session      SessionInfo `json:"session"`
	Snapshot     *Snapshot   `json:"snapshot"`
	Version      uint64      `json:"version"`
	Loading      bool        `json:"loading"`
	Updating     bool        `json:"updating"`
	Error        string      `json:"error,omitempty"`
	LastUpdateAt *time.Time  `json:"lastUpdateAt"`
	// Terminal is set once a historical session has delivered its only
	// snapshot or failed.
	Terminal bool             `json:"terminal"`
	Channels []channel.Status `json:"channels,omitempty"`
}

// Publisher holds the current State and notifies subscribers on change. It
// is the one component shared across goroutines and is safe for concurrent
// use.
type Publisher struct {
	mu       sync.Mutex
	state    State
	channels map[string]channel.Status

	window      time.Duration
	updateTimer *time.Timer
	updateGen   uint64

	subs    map[int]chan State
	nextSub int
	closed  bool

	metrics *metrics.Metrics
}

// NewPublisher creates a Publisher. A non-positive window uses
// DefaultUpdatingWindow.
func NewPublisher(window time.Duration, m *metrics.Metrics) *Publisher {
	if window <= 0 {
		window = DefaultUpdatingWindow
	}
	return &Publisher{
		window:   window,
		channels: make(map[string]channel.Status),
		subs:     make(map[int]chan State),
		metrics:  m,
	}
}

// State returns a copy of the current published state.
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Subscribe returns a channel that receives the latest State after every
// change, starting with the current one. Slow readers only ever see the most
// recent value. cancel releases the subscription.
func (p *Publisher) Subscribe() (<-chan State, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan State, 1)
	if p.closed {
		close(ch)
		return ch, func() {}
	}

	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	ch <- p.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if c, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(c)
			}
		})
	}
}

// Publish installs a new snapshot and raises Updating for the window.
func (p *Publisher) Publish(s *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.Snapshot = s
	p.state.Version = s.Version
	p.state.Loading = false
	at := s.PublishedAt
	p.state.LastUpdateAt = &at
	p.state.Updating = true

	p.stopUpdatingLocked()
	gen := p.updateGen
	p.updateTimer = time.AfterFunc(p.window, func() { p.clearUpdating(gen) })

	p.metrics.ObservePublish(s.Version)
	p.notifyLocked()
}

func (p *Publisher) clearUpdating(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.updateGen || !p.state.Updating {
		return
	}
	p.state.Updating = false
	p.updateTimer = nil
	p.notifyLocked()
}

// stopUpdatingLocked cancels a pending Updating reset. Bumping the generation
// also defeats a timer that has fired but not yet taken the lock.
func (p *Publisher) stopUpdatingLocked() {
	p.updateGen++
	if p.updateTimer != nil {
		p.updateTimer.Stop()
		p.updateTimer = nil
	}
}

// Reset clears everything for a new session and marks it loading.
func (p *Publisher) Reset(info SessionInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopUpdatingLocked()
	info.Entities = append([]string(nil), info.Entities...)
	p.state = State{Session: info, Loading: true}
	p.channels = make(map[string]channel.Status)
	p.notifyLocked()
}

// Halt cancels the pending Updating reset and clears the flag. The last
// snapshot stays visible.
func (p *Publisher) Halt() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopUpdatingLocked()
	p.state.Updating = false
	p.state.Loading = false
	p.notifyLocked()
}

// SetError surfaces a session-level error. The first error wins until the
// next Reset.
func (p *Publisher) SetError(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Error != "" {
		return
	}
	p.state.Error = err.Error()
	p.state.Loading = false
	p.notifyLocked()
}

// SetTerminal marks the session as finished; no further updates follow.
func (p *Publisher) SetTerminal() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.Terminal = true
	p.state.Loading = false
	p.notifyLocked()
}

// SetEntities records a selection change within the current session. The
// previous snapshot is withdrawn since its keys no longer match the
// selection; the state stays loading until the new selection is fully
// covered. Version is kept so the sequence continues.
func (p *Publisher) SetEntities(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopUpdatingLocked()
	p.state.Session.Entities = append([]string(nil), ids...)
	p.state.Snapshot = nil
	p.state.Updating = false
	p.state.Loading = true
	p.notifyLocked()
}

// SetChannel records a channel's diagnostics.
func (p *Publisher) SetChannel(st channel.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.channels[st.EntityID] = st
	p.notifyLocked()
}

// RemoveChannel drops a channel's diagnostics.
func (p *Publisher) RemoveChannel(entityID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.channels[entityID]; !ok {
		return
	}
	delete(p.channels, entityID)
	p.notifyLocked()
}

// Close stops timers and closes every subscription channel.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.stopUpdatingLocked()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}

func (p *Publisher) snapshotLocked() State {
	st := p.state
	st.Session.Entities = append([]string(nil), p.state.Session.Entities...)
	if p.state.LastUpdateAt != nil {
		at := *p.state.LastUpdateAt
		st.LastUpdateAt = &at
	}
	st.Channels = make([]channel.Status, 0, len(p.channels))
	for _, c := range p.channels {
		st.Channels = append(st.Channels, c)
	}
	sort.Slice(st.Channels, func(i, j int) bool {
		return st.Channels[i].EntityID < st.Channels[j].EntityID
	})
	return st
}

// notifyLocked hands the latest state to every subscriber, replacing any
// value the subscriber has not read yet.
func (p *Publisher) notifyLocked() {
	if p.closed || len(p.subs) == 0 {
		return
	}
	st := p.snapshotLocked()
	for _, ch := range p.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
