package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersozo/re-dashboard/internal/protocol"
	"github.com/ersozo/re-dashboard/internal/reconnect"
)

// testLoop runs posted functions one at a time, like the session loop.
type testLoop struct {
	events chan func()
	done   chan struct{}
}

func newTestLoop(t *testing.T) *testLoop {
	t.Helper()
	l := &testLoop{events: make(chan func(), 64), done: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-l.events:
				fn()
			case <-l.done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(l.done) })
	return l
}

func (l *testLoop) post(fn func()) {
	select {
	case l.events <- fn:
	case <-l.done:
	}
}

// do runs fn on the loop and waits for it.
func (l *testLoop) do(fn func()) {
	ran := make(chan struct{})
	l.post(func() {
		fn()
		close(ran)
	})
	<-ran
}

var errFakeClosed = errors.New("fake: connection closed")

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) WriteJSON(v any) error {
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.writes = append(f.writes, string(data))
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.in:
		return data, nil
	case <-f.closed:
		return nil, errFakeClosed
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// drop simulates the server going away.
func (f *fakeConn) drop() { _ = f.Close() }

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeConn) heartbeats() int {
	n := 0
	for _, w := range f.written() {
		if w == `{"heartbeat":true}` {
			n++
		}
	}
	return n
}

// fakeDialer hands out results from fn, counting calls.
type fakeDialer struct {
	calls atomic.Int32
	fn    func(n int) (Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, _ http.Header) (Conn, error) {
	n := int(d.calls.Add(1))
	return d.fn(n)
}

var errRefused = errors.New("connection refused")

type harness struct {
	loop     *testLoop
	ch       *Channel
	states   chan Status
	payloads chan json.RawMessage
}

func newHarness(t *testing.T, d Dialer, policy reconnect.Policy, heartbeat time.Duration) *harness {
	t.Helper()
	h := &harness{
		loop:     newTestLoop(t),
		states:   make(chan Status, 1024),
		payloads: make(chan json.RawMessage, 64),
	}
	h.ch = New(Config{
		EntityID:          "A",
		URL:               "ws://backend/ws/A",
		Subscribe:         protocol.SubscribeMessage{StartTime: "s", EndTime: "e", WorkingMode: protocol.WorkingMode1},
		Dialer:            d,
		Policy:            policy,
		HeartbeatInterval: heartbeat,
		Post:              h.loop.post,
		OnPayload: func(id string, p json.RawMessage) {
			h.payloads <- p
		},
		OnState: func(st Status) { h.states <- st },
	})
	t.Cleanup(func() { h.loop.do(h.ch.Close) })
	return h
}

func (h *harness) waitState(t *testing.T, want State) Status {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-h.states:
			if st.State == want {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func (h *harness) waitPayload(t *testing.T) json.RawMessage {
	t.Helper()
	select {
	case p := <-h.payloads:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func fastPolicy() reconnect.Policy {
	return reconnect.Policy{BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxAttempts: 20}
}

func TestChannelSubscribesOnReadyAndFiltersFrames(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{fn: func(int) (Conn, error) { return conn, nil }}
	h := newHarness(t, d, fastPolicy(), time.Hour)

	h.loop.do(h.ch.Open)
	h.waitState(t, Ready)

	conn.in <- []byte(`{"heartbeat":true,"timestamp":1700000000.5}`)
	conn.in <- []byte(`{"error":"Invalid JSON format"}`)
	conn.in <- []byte(`not json`)
	conn.in <- []byte(`{"unit":"A","n":1}`)
	conn.in <- []byte(`{"unit":"A","n":2}`)

	assert.JSONEq(t, `{"unit":"A","n":1}`, string(h.waitPayload(t)))
	assert.JSONEq(t, `{"unit":"A","n":2}`, string(h.waitPayload(t)))

	require.Eventually(t, func() bool { return len(conn.written()) > 0 },
		2*time.Second, time.Millisecond)
	writes := conn.written()
	assert.JSONEq(t, `{"start_time":"s","end_time":"e","working_mode":"mode1"}`, writes[0])
	assert.Len(t, writes, 1, "subscribe is sent exactly once")

	var st Status
	h.loop.do(func() { st = h.ch.Status() })
	assert.Equal(t, Ready, st.State)
	assert.NotNil(t, st.LastAckAt)
}

func TestChannelAttemptCeiling(t *testing.T) {
	d := &fakeDialer{fn: func(int) (Conn, error) { return nil, errRefused }}
	h := newHarness(t, d, fastPolicy(), time.Hour)

	h.loop.do(h.ch.Open)

	waits := 0
	deadline := time.After(5 * time.Second)
loop:
	for {
		select {
		case st := <-h.states:
			switch st.State {
			case ReconnectWait:
				waits++
				assert.Equal(t, waits, st.Attempts)
			case Failed:
				assert.Equal(t, 20, st.Attempts)
				break loop
			}
		case <-deadline:
			t.Fatal("timed out waiting for FAILED")
		}
	}

	assert.Equal(t, 20, waits, "reconnects scheduled before giving up")
	assert.Equal(t, int32(21), d.calls.Load(), "initial dial plus one per reconnect")

	var err error
	h.loop.do(func() { err = h.ch.Err() })
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(21), d.calls.Load(), "FAILED is terminal")
}

func TestChannelAttemptsResetOnReady(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{fn: func(n int) (Conn, error) {
		if n <= 3 {
			return nil, errRefused
		}
		return conn, nil
	}}
	h := newHarness(t, d, fastPolicy(), time.Hour)

	h.loop.do(h.ch.Open)
	st := h.waitState(t, Ready)
	assert.Equal(t, 0, st.Attempts)
	assert.Equal(t, int32(4), d.calls.Load())
}

func TestChannelReconnectsAndResubscribes(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{fn: func(n int) (Conn, error) {
		if n == 1 {
			return first, nil
		}
		return second, nil
	}}
	h := newHarness(t, d, fastPolicy(), time.Hour)

	h.loop.do(h.ch.Open)
	h.waitState(t, Ready)

	first.drop()
	st := h.waitState(t, ReconnectWait)
	assert.Equal(t, 1, st.Attempts)
	h.waitState(t, Ready)

	second.in <- []byte(`{"n":3}`)
	assert.JSONEq(t, `{"n":3}`, string(h.waitPayload(t)))
	require.Eventually(t, func() bool { return len(second.written()) == 1 },
		2*time.Second, time.Millisecond)
	assert.Contains(t, second.written()[0], `"start_time"`)
}

func TestChannelHeartbeatOnlyWhileReady(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{fn: func(n int) (Conn, error) {
		if n == 1 {
			return conn, nil
		}
		return nil, errRefused
	}}
	slow := reconnect.Policy{BaseDelay: time.Hour, MaxDelay: time.Hour, MaxAttempts: 20}
	h := newHarness(t, d, slow, 5*time.Millisecond)

	h.loop.do(h.ch.Open)
	h.waitState(t, Ready)

	require.Eventually(t, func() bool { return conn.heartbeats() >= 3 },
		2*time.Second, time.Millisecond)

	// Payloads keep flowing between heartbeats.
	conn.in <- []byte(`{"n":1}`)
	assert.JSONEq(t, `{"n":1}`, string(h.waitPayload(t)))

	conn.drop()
	h.waitState(t, ReconnectWait)
	time.Sleep(10 * time.Millisecond)
	sent := conn.heartbeats()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, sent, conn.heartbeats(), "no heartbeats outside READY")

	var st Status
	h.loop.do(func() { st = h.ch.Status() })
	assert.NotNil(t, st.LastHeartbeatAt)
}

// stallConn accepts reads but blocks every write until released.
type stallConn struct {
	*fakeConn
	release chan struct{}
	blocked atomic.Int32
}

func (s *stallConn) WriteJSON(v any) error {
	s.blocked.Add(1)
	<-s.release
	return s.fakeConn.WriteJSON(v)
}

func TestChannelStalledWritesDoNotBlockLoop(t *testing.T) {
	conn := &stallConn{fakeConn: newFakeConn(), release: make(chan struct{})}
	t.Cleanup(func() { close(conn.release) })
	d := &fakeDialer{fn: func(int) (Conn, error) { return conn, nil }}
	h := newHarness(t, d, fastPolicy(), time.Millisecond)

	h.loop.do(h.ch.Open)
	h.waitState(t, Ready)
	require.Eventually(t, func() bool { return conn.blocked.Load() == 1 },
		2*time.Second, time.Millisecond)

	// Heartbeats keep firing into a full queue while payloads flow.
	time.Sleep(20 * time.Millisecond)
	conn.in <- []byte(`{"n":1}`)
	assert.JSONEq(t, `{"n":1}`, string(h.waitPayload(t)))

	closed := make(chan struct{})
	go func() {
		h.loop.do(h.ch.Close)
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a stalled connection")
	}
}

func TestChannelCloseCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{fn: func(int) (Conn, error) { return nil, errRefused }}
	policy := reconnect.Policy{BaseDelay: 20 * time.Millisecond, MaxDelay: 20 * time.Millisecond, MaxAttempts: 20}
	h := newHarness(t, d, policy, time.Hour)

	h.loop.do(h.ch.Open)
	h.waitState(t, ReconnectWait)
	h.loop.do(h.ch.Close)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), d.calls.Load())

	var state State
	h.loop.do(func() { state = h.ch.State() })
	assert.Equal(t, Closed, state)
}

func TestChannelCloseWhileConnectingDiscardsLateDial(t *testing.T) {
	conn := newFakeConn()
	release := make(chan struct{})
	d := &fakeDialer{fn: func(int) (Conn, error) {
		<-release
		return conn, nil
	}}
	h := newHarness(t, d, fastPolicy(), time.Hour)

	h.loop.do(h.ch.Open)
	h.loop.do(h.ch.Close)
	close(release)

	require.Eventually(t, conn.isClosed, 2*time.Second, time.Millisecond)
	assert.Empty(t, conn.written(), "late connection must not be subscribed")

	var state State
	h.loop.do(func() { state = h.ch.State() })
	assert.Equal(t, Closed, state)
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	d := &fakeDialer{fn: func(int) (Conn, error) { return newFakeConn(), nil }}
	h := newHarness(t, d, fastPolicy(), time.Hour)

	h.loop.do(h.ch.Open)
	h.waitState(t, Ready)
	h.loop.do(h.ch.Close)
	h.loop.do(h.ch.Close)
	h.loop.do(h.ch.Open)

	var state State
	h.loop.do(func() { state = h.ch.State() })
	assert.Equal(t, Closed, state)
}

func TestStateText(t *testing.T) {
	for s := Idle; s <= Closed; s++ {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	var s State
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
	assert.True(t, Failed.IsTerminal())
	assert.False(t, ReconnectWait.IsTerminal())
}
