// Package dashboard serves a read-only JSON API over the event store.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/store"
	"headless-sentinel/internal/types"
)

const maxEventsLimit = 1000

// Server represents the API HTTP server
type Server struct {
	store   EventStore
	hosts   HostSource
	metrics http.Handler
	addr    string
	logger  zerolog.Logger
}

// NewServer creates the API server. metrics may be nil.
func NewServer(st EventStore, hosts HostSource, metrics http.Handler, addr string) *Server {
	return &Server{
		store:   st,
		hosts:   hosts,
		metrics: metrics,
		addr:    addr,
		logger:  log.With().Str("component", "api").Logger(),
	}
}

// Router builds the route table
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Get("/stats", s.handleStats)
		r.Get("/hosts", s.handleHosts)
	})
	return r
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents returns events as JSON
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	events, err := s.store.Query(r.Context(), f)
	if err != nil {
		s.logger.Error().Err(err).Msg("Event query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	top := 10
	if v := r.URL.Query().Get("top"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			top = n
		}
	}
	stats, err := s.store.Stats(r.Context(), top)
	if err != nil {
		s.logger.Error().Err(err).Msg("Stats query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats failed"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	marks, err := s.store.Watermarks(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Watermark query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "hosts failed"})
		return
	}
	writeJSON(w, http.StatusOK, hostInfos(s.hosts.Statuses(), marks))
}

func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		Host:     q.Get("host"),
		Category: q.Get("category"),
		Limit:    100,
	}
	if v := q.Get("event_code"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("event_code must be an integer")
		}
		f.EventCode = code
	}
	if v := q.Get("severity"); v != "" {
		sev, err := types.ParseSeverity(v)
		if err != nil {
			return f, err
		}
		f.Severity = sev
	}
	if v := q.Get("since"); v != "" {
		ts, err := parseSince(v)
		if err != nil {
			return f, err
		}
		f.Since = ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = min(n, maxEventsLimit)
	}
	return f, nil
}

// parseSince accepts RFC 3339 or a duration relative to now ("1h")
func parseSince(v string) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return time.Now().Add(-d), nil
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New("since must be RFC 3339 or a duration")
	}
	return ts, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
