package devserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ersozo/re-dashboard/internal/protocol"
)

const writeTimeout = 10 * time.Second

// streamParams is what the client last asked for on a connection.
type streamParams struct {
	Range       protocol.TimeRange
	WorkingMode protocol.WorkingMode
}

func (s *Server) handleStream(view protocol.ViewKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unit := s.unitParam(r)
		if unit == "" {
			http.Error(w, "unknown unit", http.StatusNotFound)
			return
		}
		if s.isUnavailable(unit) {
			http.Error(w, "unit unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("ws upgrade error", zap.String("unit", unit), zap.Error(err))
			return
		}
		if !s.track(conn, unit) {
			conn.Close()
			return
		}
		defer func() {
			s.untrack(conn)
			conn.Close()
		}()

		log := s.log.With(zap.String("unit", unit), zap.String("view", string(view)), zap.String("remote", r.RemoteAddr))
		log.Info("stream client connected")
		s.serveStream(conn, unit, view, log)
		log.Info("stream client disconnected")
	}
}

// serveStream waits for the subscribe frame, then pushes a payload every
// push interval. Heartbeats are acknowledged; any other valid frame replaces
// the subscription parameters and triggers an immediate push.
func (s *Server) serveStream(conn *websocket.Conn, unit string, view protocol.ViewKind, log *zap.Logger) {
	in := make(chan []byte)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(in)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case in <- data:
			case <-quit:
				return
			}
		}
	}()

	var params *streamParams
	ticker := time.NewTicker(s.push)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case data, ok := <-in:
			if !ok {
				return
			}
			next, reply := handleClientFrame(data)
			if reply != nil {
				if err := s.write(conn, reply); err != nil {
					return
				}
			}
			if next == nil {
				continue
			}
			params = next
			log.Debug("stream subscribed",
				zap.Time("start", params.Range.Start),
				zap.Time("end", params.Range.End),
				zap.String("working_mode", string(params.WorkingMode)))
			ticker.Reset(s.push)
			if err := s.pushPayload(conn, unit, view, params); err != nil {
				return
			}

		case <-ticker.C:
			if params == nil {
				continue
			}
			if err := s.pushPayload(conn, unit, view, params); err != nil {
				log.Debug("push failed", zap.Error(err))
				return
			}
		}
	}
}

// handleClientFrame returns new parameters for a subscribe frame and the
// reply to send, if any.
func handleClientFrame(data []byte) (*streamParams, any) {
	var probe struct {
		Heartbeat bool `json:"heartbeat"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, protocol.SoftError{Error: "Invalid JSON format"}
	}
	if probe.Heartbeat {
		now := time.Now()
		return nil, protocol.HeartbeatAck{Heartbeat: true, Timestamp: float64(now.UnixNano()) / 1e9}
	}

	var msg protocol.SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, protocol.SoftError{Error: "Invalid JSON format"}
	}
	tr, err := parseRange(msg.StartTime, msg.EndTime)
	if err != nil {
		return nil, protocol.SoftError{Error: err.Error()}
	}
	return &streamParams{Range: tr, WorkingMode: msg.WorkingMode.Normalize()}, nil
}

func (s *Server) pushPayload(conn *websocket.Conn, unit string, view protocol.ViewKind, p *streamParams) error {
	if view == protocol.ViewHourly {
		return s.write(conn, s.gen.Hourly(unit, p.Range))
	}
	return s.write(conn, s.gen.Standard(unit, p.Range))
}

func (s *Server) write(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
