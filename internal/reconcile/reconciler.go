package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/canvasync/internal/canvas"
	"github.com/roach88/canvasync/internal/oplog"
	"github.com/roach88/canvasync/internal/realtime"
	"github.com/roach88/canvasync/internal/snapshot"
)

// Report summarizes a startup.
type Report struct {
	Hydration snapshot.Hydration
	Replay    oplog.ReplayStats

	// ReplayErr is set when history could not be read. The state then
	// reflects the snapshot alone.
	ReplayErr error

	// Buffered counts realtime messages held back until startup finished.
	Buffered int
}

// Reconciler gates realtime input behind hydration and replay.
//
// Thread-safety: Handle is safe to call from any goroutine, including
// before Start returns.
type Reconciler struct {
	state     *canvas.State
	snapshots snapshot.Backend
	ops       *oplog.Manager
	applier   *realtime.Applier
	logger    *slog.Logger

	mu       sync.Mutex
	ready    bool
	buffered []realtime.Message
}

// NewReconciler returns a reconciler for state. ops may be nil when no op
// log is available; replay is then skipped.
func NewReconciler(state *canvas.State, snapshots snapshot.Backend, ops *oplog.Manager, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		state:     state,
		snapshots: snapshots,
		ops:       ops,
		applier:   realtime.NewApplier(state, realtime.WithApplierLogger(logger)),
		logger:    logger,
	}
}

// Ready reports whether startup has finished.
func (r *Reconciler) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Handle folds a realtime message into the state, or buffers it while
// startup is still running. Lifecycle events pass straight through.
func (r *Reconciler) Handle(m realtime.Message) realtime.Outcome {
	r.mu.Lock()
	if !r.ready && !m.Type.Lifecycle() {
		r.buffered = append(r.buffered, m)
		r.mu.Unlock()
		return realtime.OutcomeIgnored
	}
	r.mu.Unlock()
	return r.applier.Handle(m)
}

// Start hydrates, replays, then releases buffered realtime messages in
// arrival order, and marks the state hydrated. Neither a missing snapshot
// nor unreadable history is fatal.
func (r *Reconciler) Start(ctx context.Context) Report {
	var rep Report
	project := r.state.ProjectID()

	rep.Hydration = snapshot.Hydrate(ctx, r.snapshots, r.state, r.logger)

	if r.ops != nil {
		stats, err := r.ops.Replay(ctx, oplog.CursorOf(rep.Hydration.Metadata))
		if err != nil {
			rep.ReplayErr = err
			r.logger.Warn("history replay failed, using snapshot only", "project", project, "error", err)
		}
		rep.Replay = stats
	}

	// Messages that arrive while the buffer drains are appended and drained
	// too; ready flips only once the buffer is empty. Buffered messages
	// arrived before hydration finished and are applied as such.
	for {
		r.mu.Lock()
		pending := r.buffered
		r.buffered = nil
		if len(pending) == 0 {
			r.state.MarkHydrated()
			r.ready = true
			r.mu.Unlock()
			break
		}
		r.mu.Unlock()
		rep.Buffered += len(pending)
		for _, m := range pending {
			r.applier.Handle(m)
		}
	}

	r.logger.Info("project reconciled",
		"project", project,
		"snapshot_loaded", rep.Hydration.Loaded,
		"replayed", rep.Replay.Applied,
		"buffered_realtime", rep.Buffered,
		"elements", r.state.Collections().Len(),
	)
	return rep
}
