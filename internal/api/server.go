// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grantwell/scholarship-ingest/internal/breaker"
	"github.com/grantwell/scholarship-ingest/internal/config"
	"github.com/grantwell/scholarship-ingest/internal/metrics"
	"github.com/grantwell/scholarship-ingest/internal/orchestrator"
	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

// RunTrigger starts scrape runs and reports on them. The orchestrator
// satisfies this.
type RunTrigger interface {
	RunAll(ctx context.Context) (*scholar.ScrapeRun, error)
	LastRun() (scholar.ScrapeRun, bool)
	Running() bool
}

// Sweeper triggers health sweeps and reports on them. The monitor satisfies
// this.
type Sweeper interface {
	Sweep(ctx context.Context) (scholar.SweepReport, error)
	LastReport() (scholar.SweepReport, bool)
}

// Server wires HTTP handlers to the orchestrator, breakers, store, and monitor.
type Server struct {
	router   chi.Router
	runner   RunTrigger
	breakers *breaker.Manager
	store    scholar.Store
	sweeper  Sweeper
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runner RunTrigger,
	breakers *breaker.Manager,
	store scholar.Store,
	sweeper Sweeper,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:   runner,
		breakers: breakers,
		store:    store,
		sweeper:  sweeper,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Get("/latest", s.latestRun)
		})
		r.Route("/breakers", func(r chi.Router) {
			r.Get("/", s.listBreakers)
			r.Post("/reset", s.resetAllBreakers)
			r.Post("/{source}/reset", s.resetBreaker)
		})
		r.Route("/sweeps", func(r chi.Router) {
			r.Post("/", s.startSweep)
			r.Get("/latest", s.latestSweep)
		})
		r.Get("/stats", s.stats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if _, err := s.store.Stats(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// startRun kicks off a scrape run in the background. The run outlives the
// request, so it gets a fresh context rather than the request's.
func (s *Server) startRun(w http.ResponseWriter, _ *http.Request) {
	if s.runner.Running() {
		writeError(w, http.StatusConflict, "scrape run already in progress")
		return
	}
	go func() {
		run, err := s.runner.RunAll(context.Background())
		if err != nil && !errors.Is(err, orchestrator.ErrRunInProgress) {
			s.logger.Warn("scrape run failed", zap.Error(err))
			return
		}
		if run != nil {
			s.logger.Info("scrape run completed", zap.String("run_id", run.ID))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) latestRun(w http.ResponseWriter, _ *http.Request) {
	run, ok := s.runner.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "no runs recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "running": s.runner.Running()})
}

func (s *Server) listBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakers": s.breakers.SnapshotAll()})
}

func (s *Server) resetAllBreakers(w http.ResponseWriter, _ *http.Request) {
	s.breakers.ResetAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) resetBreaker(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if _, ok := s.breakers.Snapshot(source); !ok {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	s.breakers.Reset(source)
	writeJSON(w, http.StatusOK, map[string]string{"source": source, "status": "reset"})
}

func (s *Server) startSweep(w http.ResponseWriter, _ *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "health monitor disabled")
		return
	}
	go func() {
		if _, err := s.sweeper.Sweep(context.Background()); err != nil {
			s.logger.Warn("manual sweep failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) latestSweep(w http.ResponseWriter, _ *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "health monitor disabled")
		return
	}
	report, ok := s.sweeper.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, "no sweeps recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sweep": report})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	if s.sweeper != nil {
		if report, ok := s.sweeper.LastReport(); ok {
			stats.LastSweep = report.FinishedAt
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
