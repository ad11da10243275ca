// Package statusapi serves the engine's published state and metrics over
// HTTP for diagnostics.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ersozo/re-dashboard/internal/logger"
	"github.com/ersozo/re-dashboard/internal/metrics"
	"github.com/ersozo/re-dashboard/internal/snapshot"
)

const shutdownTimeout = 5 * time.Second

// StateSource is the read side of the publisher.
type StateSource interface {
	State() snapshot.State
}

// Server exposes /healthz, /state and /metrics.
type Server struct {
	source  StateSource
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewServer(source StateSource, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{source: source, metrics: m, log: log}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(s.log))

	r.Get("/healthz", s.handleHealth)
	r.Get("/state", s.handleState)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

type health struct {
	Status  string `json:"status"`
	Version uint64 `json:"version"`
	Error   string `json:"error,omitempty"`
}

// handleHealth reports 503 while the session is errored so probes notice a
// unit that exhausted its retries.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.source.State()
	h := health{Status: "ok", Version: st.Version, Error: st.Error}
	code := http.StatusOK
	if st.Error != "" {
		h.Status = "error"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.State())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("status server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
