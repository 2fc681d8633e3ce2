package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/metrics"
	"github.com/roach88/canvasync/internal/oplog"
	"github.com/roach88/canvasync/internal/realtime"
	"github.com/roach88/canvasync/internal/snapshot"
)

// maxBodyBytes bounds snapshot and operation request bodies.
const maxBodyBytes = 32 << 20

// Store is the durable storage the server reads and writes.
// *store.Store implements it.
type Store interface {
	oplog.Store
	snapshot.Backend
	LatestSeq(ctx context.Context, projectID string) (int64, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithShutdownTimeout bounds graceful shutdown in Run.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// Server serves projects from a Store and relays realtime traffic through a
// Hub.
type Server struct {
	store           Store
	hub             *realtime.Hub
	logger          *slog.Logger
	shutdownTimeout time.Duration
	router          *chi.Mux
}

// New returns a server with its routes registered.
func New(store Store, hub *realtime.Hub, opts ...Option) *Server {
	s := &Server{
		store:           store,
		hub:             hub,
		logger:          slog.Default(),
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/projects/{id}", func(r chi.Router) {
		r.Get("/snapshot", s.handleGetSnapshot)
		r.Put("/snapshot", s.handlePutSnapshot)
		r.Get("/ops", s.handleListOps)
		r.Post("/ops", s.handleAppendOp)
		r.Get("/ws", s.handleRealtime)
	})
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully and
// closes the hub.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.hub.Close()
		if ok {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// MediaFromStore returns a hub media source reading the media elements of a
// project's current snapshot. A project without a snapshot has no media.
func MediaFromStore(backend snapshot.Backend) realtime.MediaSource {
	return func(ctx context.Context, projectID string) ([]element.Element, error) {
		doc, err := backend.CurrentSnapshot(ctx, projectID)
		if errors.Is(err, element.ErrNoDocument) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("media for %s: %w", projectID, err)
		}
		var out []element.Element
		for _, e := range doc.Ordered() {
			if e.Kind.Family() == element.FamilyMedia {
				out = append(out, e)
			}
		}
		return out, nil
	}
}
