package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersozo/re-dashboard/internal/protocol"
)

// streamServer upgrades, records the first client frame and replays frames.
func streamServer(t *testing.T, frames []string, first chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		first <- string(data)

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDialersAgainstWebSocketServer(t *testing.T) {
	dialers := map[string]Dialer{
		"gorilla": GorillaDialer{ReadTimeout: 5 * time.Second},
		"coder":   CoderDialer{},
	}

	for name, d := range dialers {
		t.Run(name, func(t *testing.T) {
			first := make(chan string, 1)
			srv := streamServer(t, []string{
				`{"heartbeat":true,"timestamp":1}`,
				`{"error":"boom"}`,
				`{"unit":"A","total_success":10}`,
			}, first)

			path, err := protocol.StreamPath(protocol.ViewStandard, "A")
			require.NoError(t, err)

			loop := newTestLoop(t)
			payloads := make(chan json.RawMessage, 4)
			states := make(chan Status, 16)
			ch := New(Config{
				EntityID: "A",
				URL:      protocol.WebSocketURL(srv.URL, path),
				Header:   http.Header{"Authorization": []string{"Bearer secret"}},
				Subscribe: protocol.NewSubscribe(protocol.TimeRange{
					Start: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
					End:   time.Date(2025, 3, 1, 16, 0, 0, 0, time.UTC),
				}, protocol.WorkingMode2),
				Dialer:    d,
				Post:      loop.post,
				OnPayload: func(_ string, p json.RawMessage) { payloads <- p },
				OnState:   func(st Status) { states <- st },
			})
			t.Cleanup(func() { loop.do(ch.Close) })

			loop.do(ch.Open)

			select {
			case msg := <-first:
				assert.JSONEq(t, `{"start_time":"2025-03-01T08:00:00.000Z","end_time":"2025-03-01T16:00:00.000Z","working_mode":"mode2"}`, msg)
			case <-time.After(5 * time.Second):
				t.Fatal("server never received the first frame")
			}

			select {
			case p := <-payloads:
				assert.JSONEq(t, `{"unit":"A","total_success":10}`, string(p))
			case <-time.After(5 * time.Second):
				t.Fatal("no payload delivered")
			}

			select {
			case p := <-payloads:
				t.Fatalf("unexpected extra payload %s", p)
			case <-time.After(20 * time.Millisecond):
			}
		})
	}
}

func TestGorillaDialerReportsStatus(t *testing.T) {
	srv := streamServer(t, nil, make(chan string, 1))

	_, err := GorillaDialer{}.Dial(context.Background(), protocol.WebSocketURL(srv.URL, "/ws/A"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
