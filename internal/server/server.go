// Package server exposes the strategy pipeline over HTTP: snapshot intake,
// generation with idempotent retry semantics, status polling, and a server
// sent event stream for push updates.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/melodydashora/vecto-pilot/internal/config"
	"github.com/melodydashora/vecto-pilot/internal/idempotency"
	"github.com/melodydashora/vecto-pilot/internal/logging"
	"github.com/melodydashora/vecto-pilot/internal/notify"
	"github.com/melodydashora/vecto-pilot/internal/pipeline"
	"github.com/melodydashora/vecto-pilot/internal/store"
)

// Server is the HTTP API over the orchestrator and store.
type Server struct {
	cfg   *config.Config
	store *store.Store
	orch  *pipeline.Orchestrator
	hub   *notify.Hub
	gate  *idempotency.Gate
	log   *zap.Logger
	http  *http.Server
}

// New builds the server and its routes.
func New(cfg *config.Config, st *store.Store, orch *pipeline.Orchestrator, hub *notify.Hub, logger *zap.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		store: st,
		orch:  orch,
		hub:   hub,
		gate:  idempotency.NewGate(cfg.GetIdempotencyTTL()),
		log:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /api/strategy/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/strategy/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/strategy/events", s.handleEvents)
	mux.HandleFunc("POST /api/strategy/feedback", s.handleFeedback)
	mux.HandleFunc("GET /api/strategy/performance", s.handlePerformance)

	s.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.logRequests(mux),
		ReadTimeout:  durationFromConfig(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: durationFromConfig(cfg.Server.WriteTimeout, 300*time.Second),
	}
	return s
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves until Shutdown.
func (s *Server) Start() error {
	logging.Server("listening on %s", s.http.Addr)
	s.log.Info("server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections, then tears down the idempotency gate.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.gate.Close()
	return err
}

func durationFromConfig(v string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return fallback
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE streaming works through the
// logging middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
