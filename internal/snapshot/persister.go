package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/canvasync/internal/canvas"
	"github.com/roach88/canvasync/internal/metrics"
	"github.com/roach88/canvasync/internal/value"
)

// DefaultDebounce is the quiet window before a scheduled write runs.
const DefaultDebounce = 300 * time.Millisecond

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("snapshot persister closed")

// Source is the state a Persister writes.
type Source interface {
	ProjectID() string
	View() canvas.View
	Subscribe(fn canvas.Observer) (cancel func())
}

// Option configures a Persister.
type Option func(*Persister)

// WithDebounce sets the quiet window.
func WithDebounce(d time.Duration) Option {
	return func(p *Persister) {
		if d > 0 {
			p.delay = d
		}
	}
}

// WithWriteTimeout bounds writes started by the debounce timer.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Persister) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Persister) {
		p.logger = l
	}
}

// WithErrorHandler is called with every failed write, including those
// started by the timer.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Persister) {
		p.onError = fn
	}
}

// Persister writes debounced documents of a canvas to a Backend.
//
// Every Schedule restarts a single timer; only the last schedule in a quiet
// window produces a write. A document whose content hash equals the last
// written one is skipped.
//
// Thread-safety: safe for concurrent use.
type Persister struct {
	src     Source
	backend Backend
	delay   time.Duration
	timeout time.Duration
	logger  *slog.Logger
	onError func(error)

	mu     sync.Mutex
	timer  *time.Timer
	dirty  bool
	closed bool
	cancel func()

	writeMu  sync.Mutex // serializes backend writes
	lastHash string
}

// NewPersister returns a persister for src. Call Start to follow changes.
func NewPersister(src Source, backend Backend, opts ...Option) *Persister {
	p := &Persister{
		src:     src,
		backend: backend,
		delay:   DefaultDebounce,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
		onError: func(error) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start schedules a write after every change of the source.
func (p *Persister) Start() {
	cancel := p.src.Subscribe(func(canvas.Change) { p.Schedule() })
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
}

// Seed records hash as already written, so an unchanged document is not
// rewritten after hydration.
func (p *Persister) Seed(hash string) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.lastHash = hash
}

// Schedule marks the state dirty and restarts the debounce timer.
func (p *Persister) Schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.dirty = true
	if p.timer == nil {
		p.timer = time.AfterFunc(p.delay, p.fire)
		return
	}
	p.timer.Reset(p.delay)
}

// Pending reports whether a write is scheduled.
func (p *Persister) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

func (p *Persister) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.flush(ctx); err != nil && !errors.Is(err, ErrClosed) {
		p.onError(err)
	}
}

// Flush writes the pending document now, if any.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return p.flush(ctx)
}

func (p *Persister) flush(ctx context.Context) error {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	if !p.dirty {
		p.mu.Unlock()
		return nil
	}
	p.dirty = false
	p.mu.Unlock()

	if err := p.write(ctx); err != nil {
		p.mu.Lock()
		p.dirty = true
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *Persister) write(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	project := p.src.ProjectID()
	doc := FromView(p.src.View())
	data, err := value.Canonical(doc)
	if err != nil {
		metrics.RecordSnapshotWrite("failed", 0)
		return fmt.Errorf("encode snapshot %s: %w", project, err)
	}
	hash := value.HashBytes(value.DomainSnapshot, data)
	if hash == p.lastHash {
		metrics.RecordSnapshotWrite("skipped", 0)
		p.logger.Debug("snapshot unchanged", "project", project)
		return nil
	}

	if err := p.backend.SetCurrentSnapshot(ctx, project, doc); err != nil {
		metrics.RecordSnapshotWrite("failed", 0)
		p.logger.Error("snapshot persist failed", "project", project, "error", err)
		return fmt.Errorf("persist snapshot %s: %w", project, err)
	}
	p.lastHash = hash
	metrics.RecordSnapshotWrite("written", len(data))
	p.logger.Debug("snapshot persisted",
		"project", project,
		"elements", len(doc.Elements),
		"seq", doc.Metadata.Seq,
		"bytes", len(data),
	)
	return nil
}

// Close stops following the source and writes any pending document.
// Further schedules are ignored.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	err := p.flush(ctx)

	p.mu.Lock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()
	return err
}

// Discard stops following the source and drops any pending document
// without writing it. It reports whether a write was dropped.
func (p *Persister) Discard() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	dropped := p.dirty && !p.closed
	p.dirty = false
	p.closed = true
	return dropped
}
