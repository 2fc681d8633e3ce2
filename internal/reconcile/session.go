package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/canvasync/internal/canvas"
	"github.com/roach88/canvasync/internal/op"
	"github.com/roach88/canvasync/internal/oplog"
	"github.com/roach88/canvasync/internal/projector"
	"github.com/roach88/canvasync/internal/realtime"
	"github.com/roach88/canvasync/internal/snapshot"
)

// Store is the durable backend of a session: an op log and a snapshot
// document per project. *store.Store implements it.
type Store interface {
	oplog.Store
	snapshot.Backend
}

// Config describes a session.
type Config struct {
	ProjectID string
	Store     Store

	// RealtimeURL is the project's websocket endpoint. Empty disables the
	// realtime channel.
	RealtimeURL string
	Realtime    realtime.Settings

	Debounce     time.Duration
	WriteTimeout time.Duration
	Proxy        *projector.Proxy
	Builder      *op.Builder
	Release      func(handle string)
	Logger       *slog.Logger
}

// Session is one open project: its state, op log writer, snapshot
// persister and realtime client. It is created when a project is opened
// and closed on project switch.
type Session struct {
	State     *canvas.State
	Ops       *oplog.Manager
	Persister *snapshot.Persister
	Client    *realtime.Client
	Report    Report

	reconciler *Reconciler
	logger     *slog.Logger
	cancel     context.CancelFunc
	writerDone chan error
	clientDone chan struct{}
}

// Open builds a session and runs startup reconciliation. Background work
// runs until Close.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("open session: project id required")
	}
	if cfg.Store == nil {
		return nil, errors.New("open session: store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("project", cfg.ProjectID)

	stateOpts := []canvas.Option{
		canvas.WithLogger(logger),
		canvas.WithProjector(projector.New(projector.WithProxy(cfg.Proxy))),
	}
	if cfg.Release != nil {
		stateOpts = append(stateOpts, canvas.WithReleaser(cfg.Release))
	}
	state := canvas.New(cfg.ProjectID, stateOpts...)

	opsOpts := []oplog.Option{oplog.WithLogger(logger)}
	if cfg.Builder != nil {
		opsOpts = append(opsOpts, oplog.WithBuilder(*cfg.Builder))
	}
	if cfg.WriteTimeout > 0 {
		opsOpts = append(opsOpts, oplog.WithWriteTimeout(cfg.WriteTimeout))
	}
	ops := oplog.New(state, cfg.Store, opsOpts...)

	persister := snapshot.NewPersister(state, cfg.Store,
		snapshot.WithDebounce(cfg.Debounce),
		snapshot.WithLogger(logger),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		State:      state,
		Ops:        ops,
		Persister:  persister,
		reconciler: NewReconciler(state, cfg.Store, ops, logger),
		logger:     logger,
		cancel:     cancel,
		writerDone: make(chan error, 1),
	}

	if cfg.RealtimeURL != "" {
		settings := cfg.Realtime
		if settings == (realtime.Settings{}) {
			settings = realtime.DefaultSettings()
		}
		s.Client = realtime.NewClient(cfg.RealtimeURL,
			func(m realtime.Message) { s.reconciler.Handle(m) },
			realtime.WithSettings(settings),
			realtime.WithClientLogger(logger),
		)
		s.clientDone = make(chan struct{})
		go func() {
			defer close(s.clientDone)
			s.Client.Run(runCtx)
		}()
	}

	s.Report = s.reconciler.Start(ctx)

	if s.Report.Replay.Applied+s.Report.Replay.Snapshots > 0 {
		persister.Schedule()
	} else if hash, err := snapshot.Hash(snapshot.FromView(state.View())); err == nil {
		persister.Seed(hash)
	}
	persister.Start()

	go func() { s.writerDone <- ops.Run(runCtx) }()
	return s, nil
}

// Ready reports whether startup reconciliation has finished.
func (s *Session) Ready() bool {
	return s.reconciler.Ready()
}

// Handle folds a realtime message into the session's state. Messages that
// arrive before startup finished are buffered. Use it to feed a session
// from a transport other than its own client.
func (s *Session) Handle(m realtime.Message) realtime.Outcome {
	return s.reconciler.Handle(m)
}

// Close stops the realtime client, persists queued operations and writes
// the final snapshot.
func (s *Session) Close(ctx context.Context) error {
	errs := s.stop(ctx)
	if err := s.Persister.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("session closed")
	return errors.Join(errs...)
}

// Abandon stops the session like Close but drops the pending snapshot. The
// op log stays durable, so the next Open replays what the snapshot missed.
func (s *Session) Abandon(ctx context.Context) error {
	errs := s.stop(ctx)
	dropped := s.Persister.Discard()
	s.logger.Info("session abandoned", "snapshot_dropped", dropped)
	return errors.Join(errs...)
}

func (s *Session) stop(ctx context.Context) []error {
	var errs []error

	s.Ops.Stop()
	select {
	case err := <-s.writerDone:
		if err != nil {
			errs = append(errs, fmt.Errorf("oplog writer: %w", err))
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("oplog writer: %w", ctx.Err()))
	}

	s.cancel()
	if s.clientDone != nil {
		<-s.clientDone
	}
	return errs
}
