// Package api exposes effect status and control over HTTP, and pushes
// lifecycle events to websocket clients.
package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/effect"
	"github.com/dokzlo13/huefx/internal/geo"
	"github.com/dokzlo13/huefx/internal/hue"
	"github.com/dokzlo13/huefx/internal/ledger"
	"github.com/dokzlo13/huefx/internal/orchestrator"
)

// Effects is the orchestrator surface used by the handlers.
type Effects interface {
	Active() *orchestrator.RunInfo
	Configs() (orchestrator.Configs, error)
	Config(kind effect.Kind) (effect.Config, error)
	Apply(ctx context.Context, cfg effect.Config) error
	Stop(ctx context.Context) error
}

// Groups lists the bridge's light groups.
type Groups interface {
	Groups(ctx context.Context) ([]hue.Group, error)
}

// Sun reports the sun phases of a day.
type Sun interface {
	Phases(day time.Time) ([]geo.SunPhase, error)
}

// History reads recorded effect runs.
type History interface {
	Recent(limit int) ([]*ledger.Entry, error)
}

// Options wires the server's dependencies. Groups, Sun and History may be nil.
type Options struct {
	Addr           string
	Effects        Effects
	Groups         Groups
	Sun            Sun
	History        History
	Hub            *Hub
	Timezone       *time.Location
	RequestTimeout time.Duration
}

// Server is the HTTP API.
type Server struct {
	opts       Options
	ready      atomic.Bool
	httpServer *http.Server
	now        func() time.Time
}

// NewServer creates the API server.
func NewServer(opts Options) *Server {
	if opts.Hub == nil {
		opts.Hub = NewHub(nil, nil)
	}
	if opts.Timezone == nil {
		opts.Timezone = time.UTC
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	return &Server{opts: opts, now: time.Now}
}

// SetReady flips the /ready check.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/groups", s.handleGroups)
	mux.HandleFunc("GET /api/sun", s.handleSun)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/effects/{kind}", s.handleGetEffect)
	mux.HandleFunc("POST /api/effects/stop", s.handleStop)
	mux.HandleFunc("POST /api/effects/{kind}", s.handleApplyEffect)

	mux.HandleFunc("GET /ws", s.opts.Hub.ServeHTTP)

	return logRequests(mux)
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.opts.Addr).Msg("Starting API server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		s.opts.Hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	})
}
