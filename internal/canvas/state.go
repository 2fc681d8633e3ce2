package canvas

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/projector"
)

// Source identifies which input produced a change.
type Source string

const (
	SourceOp       Source = "op"
	SourceReplay   Source = "replay"
	SourceSnapshot Source = "snapshot"
	SourceRealtime Source = "realtime"
)

// Change is delivered to observers after a mutation.
type Change struct {
	Source      Source
	Collections projector.Collections
	Changed     []projector.Collection
}

// Observer receives changes.
type Observer func(Change)

// Option configures a State.
type Option func(*State)

// WithProjector sets the projector used for every event.
func WithProjector(p *projector.Projector) Option {
	return func(s *State) {
		s.projector = p
	}
}

// WithReleaser sets the function that frees transient resource handles.
func WithReleaser(fn func(handle string)) Option {
	return func(s *State) {
		s.release = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *State) {
		s.logger = l
	}
}

// State is the in-memory projection of one project.
type State struct {
	projectID string
	projector *projector.Projector
	release   func(string)
	logger    *slog.Logger

	applyMu sync.Mutex // serializes Apply and observer delivery

	mu             sync.RWMutex
	cols           projector.Collections
	snapshotLoaded bool
	hydrated       bool
	cursor         int64
	pending        map[string]struct{}
	confirmed      map[string]int64 // own stored ops past the cursor
	subs           map[uint64]Observer
	nextSub        uint64
}

// New returns an empty state for projectID.
func New(projectID string, opts ...Option) *State {
	s := &State{
		projectID: projectID,
		projector: projector.New(),
		release:   func(string) {},
		logger:    slog.Default(),
		cols:      projector.Collections{},
		pending:   make(map[string]struct{}),
		confirmed: make(map[string]int64),
		subs:      make(map[uint64]Observer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProjectID returns the project this state belongs to.
func (s *State) ProjectID() string {
	return s.projectID
}

// Apply projects ev onto the current collections. On error nothing changes.
func (s *State) Apply(src Source, ev projector.Event) (projector.Result, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.RLock()
	cur := s.cols
	s.mu.RUnlock()

	res, err := s.projector.Project(cur, ev)
	if err != nil {
		return res, err
	}

	s.mu.Lock()
	s.cols = res.Collections
	if ev.Document != nil || (ev.Op != nil && ev.Op.IsSnapshot()) {
		s.snapshotLoaded = true
	}
	subs := s.observersLocked()
	s.mu.Unlock()

	for _, h := range res.Released {
		s.release(h)
	}
	if len(res.Changed) == 0 {
		return res, nil
	}
	s.logger.Debug("canvas changed",
		"project", s.projectID,
		"source", src,
		"collections", res.Changed,
	)
	change := Change{Source: src, Collections: res.Collections, Changed: res.Changed}
	for _, fn := range subs {
		fn(change)
	}
	return res, nil
}

func (s *State) observersLocked() []Observer {
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Observer, len(ids))
	for i, id := range ids {
		out[i] = s.subs[id]
	}
	return out
}

// Subscribe registers fn for future changes and returns its cancel func.
func (s *State) Subscribe(fn Observer) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Collections returns the current collections. Do not modify them.
func (s *State) Collections() projector.Collections {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cols
}

// Find returns the element with id.
func (s *State) Find(id string) (element.Element, bool) {
	e, _, ok := s.Collections().Find(id)
	return e, ok
}

// Has reports whether id exists in any collection.
func (s *State) Has(id string) bool {
	return s.Collections().Has(id)
}

// SnapshotLoaded reports whether a snapshot has replaced the state.
func (s *State) SnapshotLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLoaded
}

// MarkSnapshotLoaded records that a snapshot has been applied, so that later
// element maps are treated as incremental.
func (s *State) MarkSnapshotLoaded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotLoaded = true
}

// Hydrated reports whether startup hydration has finished, whether or not it
// found a stored document.
func (s *State) Hydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

// MarkHydrated records that startup hydration and replay have finished.
func (s *State) MarkHydrated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrated = true
}

// Attach binds a transient resource handle to an existing element. The
// previous handle, if any, is released. It reports whether id exists.
func (s *State) Attach(id, handle string) bool {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	cur, name, ok := s.cols.Find(id)
	if !ok {
		s.mu.Unlock()
		return false
	}
	old := cur.Resource
	cur.Resource = handle
	next := make(projector.Collections, len(s.cols))
	for k, v := range s.cols {
		next[k] = v
	}
	elems := slices.Clone(next[name])
	for i := range elems {
		if elems[i].ID == id {
			elems[i] = cur
		}
	}
	next[name] = elems
	s.cols = next
	s.mu.Unlock()

	if old != "" && old != handle {
		s.release(old)
	}
	return true
}
