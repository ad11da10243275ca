// Package channel maintains one persistent stream connection per entity.
//
// A Channel is an explicit state machine. It never mutates itself from a
// transport or timer goroutine: dial results, inbound frames, read errors,
// heartbeat ticks and reconnect deadlines are all handed to the owner's
// event loop through Config.Post, and every such event carries the
// connection generation it belongs to so that late events from a previous
// connection are dropped. Writes and the final close of a connection run
// on that connection's own writer goroutine.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ersozo/re-dashboard/internal/metrics"
	"github.com/ersozo/re-dashboard/internal/protocol"
	"github.com/ersozo/re-dashboard/internal/reconnect"
)

// DefaultHeartbeatInterval is the keep-alive cadence while READY.
const DefaultHeartbeatInterval = 30 * time.Second

// ErrRetriesExhausted is reported when a channel reaches FAILED.
var ErrRetriesExhausted = errors.New("channel: reconnection attempts exhausted")

// Config wires a Channel to its transport and owning loop.
type Config struct {
	EntityID  string
	URL       string
	Header    http.Header
	Subscribe any // first frame after every successful dial

	Dialer            Dialer
	Policy            reconnect.Policy
	HeartbeatInterval time.Duration

	// Post runs fn on the owner's event loop. It must not block forever once
	// the loop has exited.
	Post func(fn func())

	OnPayload func(entityID string, payload json.RawMessage)
	OnState   func(st Status)

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Channel is one entity's stream connection. All methods must be called
// from the owner's event loop.
type Channel struct {
	cfg Config
	log *zap.Logger

	state    State
	attempts int
	gen      uint64
	out      *writer
	err      error

	lastHeartbeat time.Time
	lastAck       time.Time

	cancelDial     context.CancelFunc
	heartbeatTimer *time.Timer
	reconnectTimer *time.Timer
}

// New creates an idle channel. Open starts it.
func New(cfg Config) *Channel {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Policy == (reconnect.Policy{}) {
		cfg.Policy = reconnect.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Channel{
		cfg: cfg,
		log: cfg.Logger.With(zap.String("unit", cfg.EntityID)),
	}
}

// EntityID returns the entity this channel serves.
func (c *Channel) EntityID() string { return c.cfg.EntityID }

// State returns the current lifecycle state.
func (c *Channel) State() State { return c.state }

// Err returns the terminal error once the channel has FAILED.
func (c *Channel) Err() error { return c.err }

// Status returns a copy of the channel's bookkeeping.
func (c *Channel) Status() Status {
	st := Status{
		EntityID: c.cfg.EntityID,
		State:    c.state,
		Attempts: c.attempts,
	}
	if !c.lastHeartbeat.IsZero() {
		t := c.lastHeartbeat
		st.LastHeartbeatAt = &t
	}
	if !c.lastAck.IsZero() {
		t := c.lastAck
		st.LastAckAt = &t
	}
	if c.err != nil {
		st.LastError = c.err.Error()
	}
	return st
}

// Open begins the connect lifecycle. It is a no-op unless the channel is idle.
func (c *Channel) Open() {
	if c.state != Idle {
		return
	}
	c.setState(Connecting)
	c.dial()
}

// Close shuts the channel down without reconnecting. It is idempotent.
func (c *Channel) Close() {
	if c.state == Closed {
		return
	}
	// Bump the generation first so anything already queued is stale.
	c.gen++
	c.stopTimers()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.stopWriter()
	c.setState(Closed)
}

func (c *Channel) dial() {
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel

	dialer, url, header := c.cfg.Dialer, c.cfg.URL, c.cfg.Header
	go func() {
		conn, err := dialer.Dial(ctx, url, header)
		c.cfg.Post(func() { c.handleDial(gen, conn, err) })
	}()
}

func (c *Channel) handleDial(gen uint64, conn Conn, err error) {
	if gen != c.gen || c.state != Connecting {
		if conn != nil {
			go func() { _ = conn.Close() }()
		}
		return
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if err != nil {
		c.lost(err)
		return
	}

	c.out = startWriter(conn, func(err error) {
		c.cfg.Post(func() { c.handleWriteError(gen, err) })
	})
	c.attempts = 0
	c.err = nil
	c.setState(Ready)

	// The queue is empty, so the subscribe frame always goes out first.
	c.out.queue(c.cfg.Subscribe)
	c.armHeartbeat(gen)
	go c.readLoop(gen, conn)
}

// readLoop is the only reader of conn. Frames are posted in arrival order.
func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.cfg.Post(func() { c.handleReadError(gen, err) })
			return
		}
		c.cfg.Post(func() { c.handleFrame(gen, data) })
	}
}

func (c *Channel) handleFrame(gen uint64, data []byte) {
	if gen != c.gen || c.state != Ready {
		return
	}

	frame, err := protocol.Classify(data)
	if err != nil {
		c.log.Debug("discarding undecodable frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}

	switch frame.Kind {
	case protocol.FrameHeartbeatAck:
		c.lastAck = time.Now()
	case protocol.FrameSoftError:
		c.cfg.Metrics.IncSoftErrors()
		c.log.Warn("backend reported error", zap.String("error", frame.Error))
	case protocol.FramePayload:
		c.cfg.Metrics.IncPayloads()
		if c.cfg.OnPayload != nil {
			c.cfg.OnPayload(c.cfg.EntityID, frame.Payload)
		}
	}
}

func (c *Channel) handleReadError(gen uint64, err error) {
	if gen != c.gen || c.state != Ready {
		return
	}
	c.lost(err)
}

func (c *Channel) handleWriteError(gen uint64, err error) {
	if gen != c.gen || c.state != Ready {
		return
	}
	c.lost(fmt.Errorf("write: %w", err))
}

// lost handles an abnormal close of the current connection or dial attempt.
func (c *Channel) lost(cause error) {
	if c.state.IsTerminal() {
		return
	}
	c.stopTimers()
	c.stopWriter()
	// Anything still queued for the dead connection is now stale.
	c.gen++

	if !c.cfg.Policy.ShouldRetry(c.attempts) {
		c.err = fmt.Errorf("unit %s: %w: %v", c.cfg.EntityID, ErrRetriesExhausted, cause)
		c.cfg.Metrics.IncChannelFailures()
		c.log.Error("giving up on channel", zap.Int("attempts", c.attempts), zap.Error(cause))
		c.setState(Failed)
		return
	}

	delay := c.cfg.Policy.Delay(c.attempts)
	c.attempts++
	c.err = cause
	c.cfg.Metrics.IncReconnects()
	c.log.Debug("channel lost, reconnecting",
		zap.Error(cause),
		zap.Int("attempt", c.attempts),
		zap.Duration("delay", delay))
	c.setState(ReconnectWait)

	gen := c.gen
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.cfg.Post(func() { c.handleReconnectDue(gen) })
	})
}

func (c *Channel) handleReconnectDue(gen uint64) {
	if gen != c.gen || c.state != ReconnectWait {
		return
	}
	c.reconnectTimer = nil
	c.setState(Connecting)
	c.dial()
}

func (c *Channel) armHeartbeat(gen uint64) {
	c.heartbeatTimer = time.AfterFunc(c.cfg.HeartbeatInterval, func() {
		c.cfg.Post(func() { c.handleHeartbeatDue(gen) })
	})
}

func (c *Channel) handleHeartbeatDue(gen uint64) {
	if gen != c.gen || c.state != Ready || c.out == nil {
		return
	}
	if c.out.queue(protocol.Heartbeat) {
		c.lastHeartbeat = time.Now()
		c.cfg.Metrics.IncHeartbeats()
	} else {
		c.log.Debug("write queue full, skipping heartbeat")
	}
	c.armHeartbeat(gen)
}

func (c *Channel) stopWriter() {
	if c.out != nil {
		c.out.stop()
		c.out = nil
	}
}

func (c *Channel) stopTimers() {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Channel) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Debug("channel state", zap.Stringer("from", c.state), zap.Stringer("to", s))
	c.state = s
	if c.cfg.OnState != nil {
		c.cfg.OnState(c.Status())
	}
}
