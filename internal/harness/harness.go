package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/op"
	"github.com/roach88/canvasync/internal/oplog"
	"github.com/roach88/canvasync/internal/projector"
	"github.com/roach88/canvasync/internal/realtime"
	"github.com/roach88/canvasync/internal/reconcile"
	"github.com/roach88/canvasync/internal/store"
	"github.com/roach88/canvasync/internal/testutil"
)

// stepTimeout bounds each durable write a step waits for.
const stepTimeout = 5 * time.Second

// TraceEvent records one executed step.
type TraceEvent struct {
	Step     int            `json:"step"`
	Action   string         `json:"action"`
	Targets  []string       `json:"targets,omitempty"`
	Outcome  string         `json:"outcome"`
	Seq      int64          `json:"seq,omitempty"`
	Replayed int            `json:"replayed,omitempty"`
	Counts   map[string]int `json:"counts"`
}

// FinalElement is an element of the final state as recorded in traces.
type FinalElement struct {
	ID     string   `json:"id"`
	Type   string   `json:"type"`
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	Pass   bool
	Trace  []TraceEvent
	Final  []FinalElement
	Errors []string
}

// NewResult returns a passing, empty result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// Fail records a failure.
func (r *Result) Fail(format string, args ...any) {
	r.Pass = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Harness runs one scenario against one project.
type Harness struct {
	store   *store.Store
	builder op.Builder
	project string
	logger  *slog.Logger
	session *reconcile.Session
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with sequential request
// ids and a logical clock, so traces are reproducible. Rejected operations
// are outcomes, not errors; Run fails only when the scenario cannot be
// executed at all.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:", store.WithClock(func() time.Time { return testutil.Epoch }))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	project := scenario.Project
	if project == "" {
		project = DefaultProject
	}
	h := &Harness{
		store:   st,
		builder: testutil.Builder("op"),
		project: project,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	ctx := context.Background()
	if _, err := h.open(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if h.session != nil {
			_ = h.session.Close(ctx)
		}
	}()

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action(), err)
		}
		ev.Step = i
		ev.Action = step.Action()
		ev.Counts = h.counts()
		result.Trace = append(result.Trace, ev)
		if step.Outcome != "" && step.Outcome != ev.Outcome {
			result.Fail("step %d (%s): outcome %q, want %q", i, ev.Action, ev.Outcome, step.Outcome)
		}
	}

	for _, e := range h.session.State.Collections().All() {
		result.Final = append(result.Final, FinalElement{
			ID:     e.ID,
			Type:   string(e.Kind),
			X:      e.X,
			Y:      e.Y,
			Width:  e.Width,
			Height: e.Height,
		})
	}

	for i, exp := range scenario.Expect {
		if err := h.check(ctx, exp); err != nil {
			result.Fail("expect[%d]: %v", i, err)
		}
	}
	return result, nil
}

// open starts a session on the harness store. The snapshot debounce is long
// enough that documents are only written by snapshot and reopen steps.
func (h *Harness) open(ctx context.Context) (reconcile.Report, error) {
	b := h.builder
	sess, err := reconcile.Open(ctx, reconcile.Config{
		ProjectID: h.project,
		Store:     h.store,
		Debounce:  time.Hour,
		Builder:   &b,
		Logger:    h.logger,
	})
	if err != nil {
		return reconcile.Report{}, fmt.Errorf("open session: %w", err)
	}
	h.session = sess
	return sess.Report, nil
}

func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	state := h.session.State
	switch {
	case step.Create != nil:
		e, err := decodeElement(step.Create)
		if err != nil {
			return TraceEvent{}, err
		}
		return h.append(ctx, []string{e.ID}, func() (op.Operation, error) { return h.builder.Create(e) })

	case step.Batch != nil:
		elems := make([]element.Element, 0, len(step.Batch))
		ids := make([]string, 0, len(step.Batch))
		for _, raw := range step.Batch {
			e, err := decodeElement(raw)
			if err != nil {
				return TraceEvent{}, err
			}
			elems = append(elems, e)
			ids = append(ids, e.ID)
		}
		return h.append(ctx, ids, func() (op.Operation, error) { return h.builder.CreateBatch(elems) })

	case step.Update != nil:
		var p element.Patch
		if err := remarshal(step.Update.Patch, &p); err != nil {
			return TraceEvent{}, fmt.Errorf("decode patch: %w", err)
		}
		return h.append(ctx, []string{step.Update.ID}, func() (op.Operation, error) {
			return state.UpdateOp(h.builder, step.Update.ID, p)
		})

	case step.Move != nil:
		d := op.Delta{X: step.Move.DX, Y: step.Move.DY}
		return h.append(ctx, []string{step.Move.ID}, func() (op.Operation, error) {
			return state.MoveOp(h.builder, step.Move.ID, d)
		})

	case step.Delete != nil:
		return h.append(ctx, step.Delete, func() (op.Operation, error) {
			return state.DeleteOp(h.builder, step.Delete...)
		})

	case step.Undo:
		r, err := h.session.Ops.Undo()
		return h.settle(ctx, r, err)

	case step.Redo:
		r, err := h.session.Ops.Redo()
		return h.settle(ctx, r, err)

	case step.Snapshot:
		if err := h.session.Persister.Flush(ctx); err != nil {
			return TraceEvent{Outcome: "failed"}, nil
		}
		return TraceEvent{Outcome: "flushed", Seq: h.storedSeq(ctx)}, nil

	case step.Reopen != nil:
		return h.reopen(ctx, *step.Reopen)

	case step.Realtime != nil:
		data, err := json.Marshal(step.Realtime)
		if err != nil {
			return TraceEvent{}, fmt.Errorf("encode message: %w", err)
		}
		m, err := realtime.DecodeMessage(data)
		if err != nil {
			return TraceEvent{Outcome: string(realtime.OutcomeRejected)}, nil
		}
		ev := TraceEvent{Outcome: string(h.session.Handle(m))}
		if id := m.Target(); id != "" {
			ev.Targets = []string{id}
		}
		return ev, nil
	}
	return TraceEvent{}, errors.New("no action")
}

// append builds an operation against the current state, appends it and
// waits for its durable seq. Build and append failures are outcomes.
func (h *Harness) append(ctx context.Context, targets []string, build func() (op.Operation, error)) (TraceEvent, error) {
	ev := TraceEvent{Targets: targets}
	o, err := build()
	if err != nil {
		ev.Outcome = rejection(err)
		return ev, nil
	}
	r, err := h.session.Ops.Append(o)
	if err != nil {
		ev.Outcome = rejection(err)
		return ev, nil
	}
	settled, err := h.settle(ctx, r, nil)
	settled.Targets = targets
	return settled, err
}

// settle waits for a history receipt. A nil receipt means the stack was
// empty.
func (h *Harness) settle(ctx context.Context, r *oplog.Receipt, err error) (TraceEvent, error) {
	if err != nil {
		return TraceEvent{Outcome: rejection(err)}, nil
	}
	if r == nil {
		return TraceEvent{Outcome: "noop"}, nil
	}
	wctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	seq, err := r.Wait(wctx)
	if err != nil {
		return TraceEvent{}, fmt.Errorf("persist: %w", err)
	}
	return TraceEvent{Outcome: "applied", Seq: seq}, nil
}

func (h *Harness) reopen(ctx context.Context, step ReopenStep) (TraceEvent, error) {
	var err error
	if step.Abandon {
		err = h.session.Abandon(ctx)
	} else {
		err = h.session.Close(ctx)
	}
	h.session = nil
	if err != nil {
		return TraceEvent{}, fmt.Errorf("close session: %w", err)
	}
	rep, err := h.open(ctx)
	if err != nil {
		return TraceEvent{}, err
	}
	outcome := "empty"
	if rep.Hydration.Loaded {
		outcome = "hydrated"
	}
	return TraceEvent{Outcome: outcome, Seq: rep.Hydration.Metadata.Seq, Replayed: rep.Replay.Applied}, nil
}

func (h *Harness) storedSeq(ctx context.Context) int64 {
	info, err := h.store.Snapshot(ctx, h.project)
	if err != nil {
		return 0
	}
	return info.OpSeq
}

func (h *Harness) counts() map[string]int {
	out := make(map[string]int)
	for name, n := range h.session.State.Collections().Counts() {
		out[string(name)] = n
	}
	return out
}

func rejection(err error) string {
	var oe *op.Error
	if errors.As(err, &oe) {
		return "rejected:" + string(oe.Code)
	}
	return "rejected"
}

func decodeElement(raw map[string]any) (element.Element, error) {
	var e element.Element
	if err := remarshal(raw, &e); err != nil {
		return element.Element{}, fmt.Errorf("decode element: %w", err)
	}
	return e, nil
}

// remarshal converts YAML-decoded data into a type with JSON decoding.
func remarshal(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// collectionNames lists collection names for error messages.
func collectionNames() []string {
	out := make([]string, 0, len(projector.AllCollections))
	for _, c := range projector.AllCollections {
		out = append(out, string(c))
	}
	return out
}
