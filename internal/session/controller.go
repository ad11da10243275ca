// Package session runs the synchronization engine: it owns the channels of
// the current session, feeds their payloads to the aggregator, and swaps to
// one-shot pulls for historical views.
//
// All session state lives on a single event loop started by Run. Public
// methods are safe to call from any goroutine; they hand work to the loop
// and wait for it to finish.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ersozo/re-dashboard/internal/channel"
	"github.com/ersozo/re-dashboard/internal/metrics"
	"github.com/ersozo/re-dashboard/internal/protocol"
	"github.com/ersozo/re-dashboard/internal/pull"
	"github.com/ersozo/re-dashboard/internal/reconnect"
	"github.com/ersozo/re-dashboard/internal/snapshot"
)

const eventQueueSize = 1024

// Options configure a Controller. Zero values fall back to defaults.
type Options struct {
	BaseURL string // http(s) base of the dashboard backend
	Token   string // optional bearer token for streams and pulls

	Dialer            channel.Dialer // defaults to channel.GorillaDialer
	Puller            Puller         // defaults to a pull.Client on BaseURL
	Policy            reconnect.Policy
	HeartbeatInterval time.Duration

	Publisher *snapshot.Publisher
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Controller owns at most one session at a time.
type Controller struct {
	opts Options
	pub  *snapshot.Publisher
	log  *zap.Logger

	events chan func()
	done   chan struct{}

	// Owned by the loop.
	cur *sessionState
}

// sessionState belongs to one session. Historical sessions own no channels.
type sessionState struct {
	id       string
	params   Params
	log      *zap.Logger
	stopped  bool
	channels map[string]*channel.Channel
	agg      *snapshot.Aggregator
	cancel   context.CancelFunc
}

// NewController creates a controller. Run must be started before any other
// method is called.
func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = channel.GorillaDialer{}
	}
	if opts.Puller == nil {
		opts.Puller = pull.NewClient(opts.BaseURL, opts.Token, 0)
	}
	if opts.Policy == (reconnect.Policy{}) {
		opts.Policy = reconnect.Default()
	}
	if opts.Publisher == nil {
		opts.Publisher = snapshot.NewPublisher(0, opts.Metrics)
	}
	return &Controller{
		opts:   opts,
		pub:    opts.Publisher,
		log:    opts.Logger,
		events: make(chan func(), eventQueueSize),
		done:   make(chan struct{}),
	}
}

// Publisher returns the observable surface.
func (c *Controller) Publisher() *snapshot.Publisher { return c.pub }

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run processes events until ctx is cancelled, then tears down the current
// session.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-ctx.Done():
			c.teardown()
			return nil
		}
	}
}

// Start tears down any current session and begins a new one.
func (c *Controller) Start(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p = p.normalized()
	return c.call(func() error {
		c.start(p)
		return nil
	})
}

// UpdateSelection changes the entity set. A live session keeps the channels
// of entities that stay selected; a historical session is rebuilt.
func (c *Controller) UpdateSelection(ids []string) error {
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return ErrNoEntities
	}
	return c.call(func() error {
		if c.cur == nil {
			return ErrNoSession
		}
		if c.cur.stopped || c.cur.params.Mode != protocol.ModeLive {
			p := c.cur.params
			p.EntityIDs = ids
			c.start(p)
			return nil
		}
		c.reconcile(c.cur, ids)
		return nil
	})
}

// Restart rebuilds the current session with the same parameters.
func (c *Controller) Restart() error {
	return c.call(func() error {
		if c.cur == nil {
			return ErrNoSession
		}
		c.start(c.cur.params)
		return nil
	})
}

// Stop tears down the current session. When it returns no channel of that
// session is open and nothing more will be published for it.
func (c *Controller) Stop() error {
	return c.call(func() error {
		c.teardown()
		return nil
	})
}

// Current returns the parameters of the current session.
func (c *Controller) Current() (Params, bool) {
	var (
		p  Params
		ok bool
	)
	_ = c.call(func() error {
		if c.cur != nil {
			p = c.cur.params
			p.EntityIDs = append([]string(nil), p.EntityIDs...)
			ok = true
		}
		return nil
	})
	return p, ok
}

// call runs fn on the loop and waits for its result.
func (c *Controller) call(fn func() error) error {
	res := make(chan error, 1)
	select {
	case c.events <- func() { res <- fn() }:
	case <-c.done:
		return ErrStopped
	}
	select {
	case err := <-res:
		return err
	case <-c.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrStopped
		}
	}
}

// post queues fn for the loop. Only helper goroutines and timers post; the
// loop itself never does.
func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

func (c *Controller) start(p Params) {
	c.teardown()

	s := &sessionState{
		id:       uuid.NewString(),
		params:   p,
		channels: make(map[string]*channel.Channel),
	}
	s.log = c.log.With(zap.String("session", s.id))
	c.cur = s

	c.pub.Reset(snapshot.SessionInfo{
		ID:          s.id,
		Mode:        p.Mode,
		View:        p.View,
		Entities:    p.EntityIDs,
		Start:       p.Range.Start,
		End:         p.Range.End,
		WorkingMode: p.WorkingMode,
	})
	s.log.Info("session started",
		zap.String("mode", string(p.Mode)),
		zap.String("view", string(p.View)),
		zap.Strings("units", p.EntityIDs))

	if p.Mode == protocol.ModeHistorical {
		c.startHistorical(s)
		return
	}

	s.agg = snapshot.NewAggregator(p.EntityIDs, c.pub)
	for _, id := range p.EntityIDs {
		c.openChannel(s, id)
	}
	c.opts.Metrics.SetActiveChannels(len(s.channels))
}

func (c *Controller) openChannel(s *sessionState, id string) {
	path, err := protocol.StreamPath(s.params.View, id)
	if err != nil {
		// Params were validated; a live view always has a stream path.
		s.log.Error("no stream path", zap.String("unit", id), zap.Error(err))
		return
	}

	var header http.Header
	if c.opts.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.opts.Token}}
	}

	var ch *channel.Channel
	ch = channel.New(channel.Config{
		EntityID:          id,
		URL:               protocol.WebSocketURL(c.opts.BaseURL, path),
		Header:            header,
		Subscribe:         protocol.NewSubscribe(s.params.Range, s.params.WorkingMode),
		Dialer:            c.opts.Dialer,
		Policy:            c.opts.Policy,
		HeartbeatInterval: c.opts.HeartbeatInterval,
		Post:              c.post,
		OnPayload: func(entityID string, payload json.RawMessage) {
			if s.stopped {
				return
			}
			if !s.agg.OnPayload(entityID, payload) && !s.agg.Covered() {
				s.log.Debug("waiting for coverage",
					zap.String("unit", entityID),
					zap.Int("pending", s.agg.Pending()))
			}
		},
		OnState: func(st channel.Status) {
			c.pub.SetChannel(st)
			if st.State == channel.Failed && !s.stopped {
				c.pub.SetError(ch.Err())
			}
		},
		Logger:  s.log,
		Metrics: c.opts.Metrics,
	})
	s.channels[id] = ch
	ch.Open()
}

// reconcile applies a new selection to a live session and starts a new
// coverage round.
func (c *Controller) reconcile(s *sessionState, ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	for id, ch := range s.channels {
		if _, ok := keep[id]; ok {
			continue
		}
		ch.Close()
		delete(s.channels, id)
		c.pub.RemoveChannel(id)
	}

	s.params.EntityIDs = ids
	s.agg.Resubscribe(ids)
	c.pub.SetEntities(ids)

	for _, id := range ids {
		if _, ok := s.channels[id]; !ok {
			c.openChannel(s, id)
		}
	}
	c.opts.Metrics.SetActiveChannels(len(s.channels))
	s.log.Info("selection updated",
		zap.Strings("units", ids),
		zap.Int("pending", s.agg.Pending()))
}

func (c *Controller) startHistorical(s *sessionState) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	p, puller := s.params, c.opts.Puller
	go func() {
		snap, err := fetchHistorical(ctx, puller, p)
		c.post(func() { c.finishHistorical(s, snap, err) })
	}()
}

func (c *Controller) finishHistorical(s *sessionState, snap *snapshot.Snapshot, err error) {
	if s.stopped || s != c.cur {
		return
	}
	s.cancel()

	if err != nil {
		c.opts.Metrics.IncPullErrors()
		s.log.Error("historical pull failed", zap.Error(err))
		c.pub.SetError(fmt.Errorf("historical pull: %w", err))
		c.pub.SetTerminal()
		return
	}
	c.pub.Publish(snap)
	c.pub.SetTerminal()
	s.log.Info("historical snapshot published", zap.Int("units", len(snap.PerEntity)))
}

// teardown ends the current session. It is idempotent.
func (c *Controller) teardown() {
	s := c.cur
	if s == nil || s.stopped {
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	for _, ch := range s.channels {
		ch.Close()
	}
	c.pub.Halt()
	c.opts.Metrics.SetActiveChannels(0)
	s.log.Info("session stopped")
}
