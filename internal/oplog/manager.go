package oplog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/canvasync/internal/canvas"
	"github.com/roach88/canvasync/internal/metrics"
	"github.com/roach88/canvasync/internal/op"
	"github.com/roach88/canvasync/internal/projector"
)

// Store is the append-only op store of a project.
type Store interface {
	AppendOperation(ctx context.Context, projectID string, o op.Operation) (int64, error)
	ReadOperations(ctx context.Context, projectID string, afterSeq int64) ([]op.Record, error)
}

// Target is the state the manager projects operations onto.
// *canvas.State implements it.
type Target interface {
	ProjectID() string
	Has(id string) bool
	Apply(src canvas.Source, ev projector.Event) (projector.Result, error)
	SnapshotLoaded() bool
	Track(requestID string)
	Confirm(requestID string, seq int64)
	Confirmed(requestID string) bool
	Forget(requestID string)
	Observe(seq int64)
	Cursor() (int64, []string)
}

// ApplyFunc is called after an operation has been projected. optimistic is
// true for local appends, undo and redo, and false for replayed history.
type ApplyFunc func(o op.Operation, optimistic bool)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithBuilder sets the source of request ids and timestamps for undo and
// redo entries.
func WithBuilder(b op.Builder) Option {
	return func(m *Manager) {
		m.builder = b
	}
}

// WithApplyFunc registers fn to observe every projected operation.
func WithApplyFunc(fn ApplyFunc) Option {
	return func(m *Manager) {
		m.onApply = append(m.onApply, fn)
	}
}

// WithWriteTimeout bounds each durable write.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.writeTimeout = d
	}
}

// Manager is the operation log of one project.
//
// Thread-safety model:
//   - Append, Undo, Redo, CanUndo, CanRedo: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Manager struct {
	target       Target
	store        Store
	builder      op.Builder
	logger       *slog.Logger
	onApply      []ApplyFunc
	writeTimeout time.Duration
	queue        *persistQueue

	mu   sync.Mutex // guards undo, redo and the apply order
	undo []op.Operation
	redo []op.Operation
}

// New returns a Manager writing to store and projecting onto target.
func New(target Target, store Store, opts ...Option) *Manager {
	m := &Manager{
		target:       target,
		store:        store,
		logger:       slog.Default(),
		writeTimeout: 10 * time.Second,
		queue:        newPersistQueue(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append validates o, applies it optimistically and queues it for
// persistence. Undoable operations are pushed on the undo stack and clear
// the redo stack. A rejected operation leaves state and stacks untouched.
func (m *Manager) Append(o op.Operation) (*Receipt, error) {
	if err := m.check(o); err != nil {
		m.reject(o, err)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apply(o); err != nil {
		m.reject(o, err)
		return nil, err
	}
	if o.Undoable() {
		m.undo = append(m.undo, o)
		m.redo = nil
	}
	metrics.RecordOpAppended(string(o.Type))
	return m.enqueue(o), nil
}

// check enforces the append preconditions: a valid shape with an inverse and
// existing targets for update, delete and move.
func (m *Manager) check(o op.Operation) error {
	if err := op.Validate(o); err != nil {
		return err
	}
	switch o.Type {
	case op.TypeUpdate, op.TypeMove, op.TypeDelete:
		if o.IsSnapshot() {
			return nil
		}
		for _, id := range o.Targets() {
			if !m.target.Has(id) {
				return op.NewUnknownElementError(o, id)
			}
		}
	}
	return nil
}

func (m *Manager) reject(o op.Operation, err error) {
	code := "PROJECTION"
	var oe *op.Error
	if errors.As(err, &oe) {
		code = string(oe.Code)
	}
	metrics.RecordOpRejected(code)
	m.logger.Warn("operation rejected",
		"project", m.target.ProjectID(),
		"request_id", o.RequestID,
		"element_id", o.ElementID,
		"error", err,
	)
}

// Undo applies the inverse of the most recent operation and persists it as
// a new entry. It returns (nil, nil) when there is nothing to undo.
func (m *Manager) Undo() (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.undo) == 0 {
		return nil, nil
	}
	last := m.undo[len(m.undo)-1]
	inv, err := last.Invert(m.builder.RequestID(), m.builder.ClientTS())
	if err != nil {
		return nil, err
	}
	if err := m.apply(inv); err != nil {
		return nil, err
	}
	m.undo = m.undo[:len(m.undo)-1]
	m.redo = append(m.redo, last)
	metrics.RecordHistoryStep("undo")
	return m.enqueue(inv), nil
}

// Redo re-applies the most recently undone operation under a new request id
// and pushes it back on the undo stack. It returns (nil, nil) when there is
// nothing to redo.
func (m *Manager) Redo() (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.redo) == 0 {
		return nil, nil
	}
	next := m.redo[len(m.redo)-1].Reissue(m.builder.RequestID(), m.builder.ClientTS())
	if err := m.apply(next); err != nil {
		return nil, err
	}
	m.redo = m.redo[:len(m.redo)-1]
	m.undo = append(m.undo, next)
	metrics.RecordHistoryStep("redo")
	return m.enqueue(next), nil
}

// CanUndo reports whether the undo stack is non-empty.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) > 0
}

// CanRedo reports whether the redo stack is non-empty.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0
}

// Pending returns the number of queued writes.
func (m *Manager) Pending() int {
	return m.queue.Len()
}

func (m *Manager) apply(o op.Operation) error {
	if _, err := m.target.Apply(canvas.SourceOp, projector.OpEvent(o)); err != nil {
		return err
	}
	m.target.Track(o.RequestID)
	for _, fn := range m.onApply {
		fn(o, true)
	}
	return nil
}

func (m *Manager) enqueue(o op.Operation) *Receipt {
	r := newReceipt(o.RequestID)
	if !m.queue.Enqueue(job{op: o, receipt: r}) {
		m.target.Forget(o.RequestID)
		r.resolve(0, ErrClosed)
	}
	return r
}

// Run drains the persist queue. After Stop it persists what is already
// queued and returns nil. When ctx is cancelled, queued writes resolve with
// ErrClosed.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("oplog writer starting", "project", m.target.ProjectID())
	for {
		if err := ctx.Err(); err != nil {
			return m.cancelled(err)
		}
		if j, ok := m.queue.TryDequeue(); ok {
			m.persist(ctx, j)
			continue
		}
		select {
		case <-ctx.Done():
			return m.cancelled(ctx.Err())
		case _, open := <-m.queue.Wait():
			// A closed signal channel means Stop was called; queued writes
			// are drained by the loop before returning.
			if !open && m.queue.Len() == 0 {
				m.logger.Info("oplog writer stopping: queue closed", "project", m.target.ProjectID())
				return nil
			}
		}
	}
}

func (m *Manager) cancelled(err error) error {
	m.logger.Info("oplog writer stopping: context cancelled", "project", m.target.ProjectID())
	m.queue.Close()
	m.abandon()
	return err
}

// Stop closes the queue. Run persists what is already queued and returns.
func (m *Manager) Stop() {
	m.queue.Close()
}

func (m *Manager) abandon() {
	for _, j := range m.queue.Drain() {
		m.target.Forget(j.op.RequestID)
		j.receipt.resolve(0, ErrClosed)
	}
}

func (m *Manager) persist(ctx context.Context, j job) {
	wctx := ctx
	if m.writeTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, m.writeTimeout)
		defer cancel()
	}
	start := time.Now()
	seq, err := m.store.AppendOperation(wctx, m.target.ProjectID(), j.op)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordOpPersist("error", elapsed)
		m.target.Forget(j.op.RequestID)
		m.logger.Error("operation persist failed",
			"project", m.target.ProjectID(),
			"request_id", j.op.RequestID,
			"type", j.op.Type,
			"element_id", j.op.ElementID,
			"error", err,
		)
		j.receipt.resolve(0, err)
		return
	}
	metrics.RecordOpPersist("ok", elapsed)
	m.target.Confirm(j.op.RequestID, seq)
	if m.queue.Len() == 0 {
		m.settle(wctx)
	}
	j.receipt.resolve(seq, nil)
}

// settle advances the cursor over the stored history that follows it, for as
// long as every record is one of this manager's own confirmed writes. It
// stops at the first record written by anyone else; that record is picked up
// by the next replay.
func (m *Manager) settle(ctx context.Context) {
	cursor, _ := m.target.Cursor()
	recs, err := m.store.ReadOperations(ctx, m.target.ProjectID(), cursor)
	if err != nil {
		m.logger.Warn("oplog cursor not advanced", "project", m.target.ProjectID(), "seq", cursor, "error", err)
		return
	}
	for _, rec := range recs {
		if !m.target.Confirmed(rec.Op.RequestID) {
			m.logger.Debug("oplog cursor held at foreign write",
				"project", m.target.ProjectID(),
				"seq", rec.Seq,
				"request_id", rec.Op.RequestID,
			)
			return
		}
		m.target.Observe(rec.Seq)
	}
}
