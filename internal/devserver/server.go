// Package devserver is a stand-in for the production dashboard backend. It
// serves the same stream and pull endpoints with generated figures so the
// client can be run and tested without a plant database.
package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ersozo/re-dashboard/internal/logger"
	"github.com/ersozo/re-dashboard/internal/protocol"
)

// DefaultPushInterval matches the production backend's push cadence.
const DefaultPushInterval = 12 * time.Second

// Options configures a Server. Zero values fall back to defaults.
type Options struct {
	Units          []string
	Token          string
	PushInterval   time.Duration
	AllowedOrigins []string
	Seed           int64
	Logger         *zap.Logger
}

type Server struct {
	units          []string
	token          string
	push           time.Duration
	gen            *Generator
	log            *zap.Logger
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader

	mu          sync.Mutex
	unavailable map[string]bool
	conns       map[*websocket.Conn]string
	closed      bool
	done        chan struct{}
}

func NewServer(opts Options) *Server {
	if opts.PushInterval <= 0 {
		opts.PushInterval = DefaultPushInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if len(opts.Units) == 0 {
		opts.Units = []string{"Line 1", "Line 2", "Line 3"}
	}

	s := &Server{
		units:          opts.Units,
		token:          opts.Token,
		push:           opts.PushInterval,
		gen:            NewGenerator(opts.Seed),
		log:            opts.Logger,
		allowedOrigins: make(map[string]bool),
		unavailable:    make(map[string]bool),
		conns:          make(map[*websocket.Conn]string),
		done:           make(chan struct{}),
	}
	for _, origin := range opts.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			s.allowedOrigins[trimmed] = true
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(s.log))

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get(protocol.UnitsPath, s.handleUnits)
		r.Get(protocol.ReportPath, s.handleReport)
		r.Get("/historical-data/{unit}", s.handleHistory(protocol.ViewStandard))
		r.Get("/historical-hourly-data/{unit}", s.handleHistory(protocol.ViewHourly))
		r.Get("/ws/{unit}", s.handleStream(protocol.ViewStandard))
		r.Get("/ws/hourly/{unit}", s.handleStream(protocol.ViewHourly))
	})
	return r
}

// SetUnavailable makes a unit refuse new stream connections and drops the
// ones already open. It simulates a unit whose backend keeps failing.
func (s *Server) SetUnavailable(unit string, down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable[unit] = down
	if !down {
		return
	}
	for conn, u := range s.conns {
		if u == unit {
			conn.Close()
		}
	}
}

// Close drops every open stream. Hijacked connections are not tracked by
// http.Server.Shutdown, so callers shutting down should call this too.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) isUnavailable(unit string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unavailable[unit]
}

func (s *Server) track(conn *websocket.Conn, unit string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.unavailable[unit] {
		return false
	}
	s.conns[conn] = unit
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.token {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.token
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.allowedOrigins[origin] {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()
	return parsed.Host == r.Host || host == "localhost" || host == "127.0.0.1"
}

// unitParam returns the unit named in the path, or "" when it is unknown.
func (s *Server) unitParam(r *http.Request) string {
	unit := chi.URLParam(r, "unit")
	if decoded, err := url.PathUnescape(unit); err == nil {
		unit = decoded
	}
	if !slices.Contains(s.units, unit) {
		return ""
	}
	return unit
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.units)
}

// historicalStandard is the pull shape: totals at the top level rather than
// nested under "summary" as on the stream.
type historicalStandard struct {
	UnitName string                `json:"unit_name"`
	Models   []protocol.ModelStats `json:"models"`
	protocol.Summary
}

func (s *Server) handleHistory(view protocol.ViewKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unit := s.unitParam(r)
		if unit == "" {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "unknown unit"})
			return
		}
		tr, err := parseRangeQuery(r.URL.Query())
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}

		if view == protocol.ViewHourly {
			writeJSON(w, http.StatusOK, s.gen.Hourly(unit, tr))
			return
		}
		p := s.gen.Standard(unit, tr)
		writeJSON(w, http.StatusOK, historicalStandard{UnitName: p.UnitName, Models: p.Models, Summary: p.Summary})
	}
}

// handleReport omits unknown units from the response, as the backend does
// for units without data.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tr, err := parseRangeQuery(q)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	var units []string
	for _, u := range strings.Split(q.Get("units"), ",") {
		u = strings.TrimSpace(u)
		if u != "" && slices.Contains(s.units, u) {
			units = append(units, u)
		}
	}
	if len(units) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "no valid units"})
		return
	}

	data, summary := s.gen.Report(units, tr)
	writeJSON(w, http.StatusOK, struct {
		Units   map[string]protocol.ReportUnit `json:"units"`
		Summary protocol.ReportSummary         `json:"summary"`
	}{data, summary})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var errMissingTime = errors.New("start_time and end_time are required")

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseRange(start, end string) (protocol.TimeRange, error) {
	if start == "" || end == "" {
		return protocol.TimeRange{}, errMissingTime
	}
	var tr protocol.TimeRange
	var err error
	if tr.Start, err = parseTime(start); err != nil {
		return protocol.TimeRange{}, fmt.Errorf("start_time: %w", err)
	}
	if tr.End, err = parseTime(end); err != nil {
		return protocol.TimeRange{}, fmt.Errorf("end_time: %w", err)
	}
	return tr, tr.Validate()
}

func parseRangeQuery(q url.Values) (protocol.TimeRange, error) {
	return parseRange(q.Get("start_time"), q.Get("end_time"))
}
