package realtime

import (
	"log/slog"

	"github.com/roach88/canvasync/internal/canvas"
	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/metrics"
	"github.com/roach88/canvasync/internal/op"
	"github.com/roach88/canvasync/internal/projector"
)

// Outcome is the result of handling one message.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeRejected Outcome = "rejected"
)

// Target is the canvas state realtime messages are folded into.
type Target interface {
	ProjectID() string
	Has(id string) bool
	Find(id string) (element.Element, bool)
	SnapshotLoaded() bool
	Hydrated() bool
	Apply(src canvas.Source, ev projector.Event) (projector.Result, error)
}

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithInitHandler replaces the handling of init messages.
func WithInitHandler(fn func(Message) Outcome) ApplierOption {
	return func(a *Applier) {
		a.init = fn
	}
}

// WithApplierLogger sets the logger.
func WithApplierLogger(l *slog.Logger) ApplierOption {
	return func(a *Applier) {
		a.logger = l
	}
}

// WithStateHandler is called with connected and disconnected events.
func WithStateHandler(fn func(MessageType)) ApplierOption {
	return func(a *Applier) {
		a.onState = fn
	}
}

// Applier folds realtime messages into a Target. Creates for ids that
// already exist and updates or deletes for unknown ids are ignored.
type Applier struct {
	target  Target
	logger  *slog.Logger
	init    func(Message) Outcome
	onState func(MessageType)
}

// NewApplier returns an applier for target.
func NewApplier(target Target, opts ...ApplierOption) *Applier {
	a := &Applier{
		target:  target,
		logger:  slog.Default(),
		onState: func(MessageType) {},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.init == nil {
		a.init = a.Init
	}
	return a
}

// Handle applies m and reports what happened.
func (a *Applier) Handle(m Message) Outcome {
	metrics.RecordRealtimeMessage("in", string(m.Type))
	if m.Type.Lifecycle() {
		a.logger.Info("realtime "+string(m.Type), "project", a.target.ProjectID())
		a.onState(m.Type)
		return OutcomeApplied
	}
	if err := m.Validate(); err != nil {
		a.logger.Warn("realtime message dropped", "project", a.target.ProjectID(), "type", m.Type, "error", err)
		return OutcomeRejected
	}

	var out Outcome
	switch m.Type {
	case TypeInit:
		out = a.init(m)
	case TypeGeneratorCreate, TypeMediaCreate:
		out = a.create(*m.Element)
	case TypeGeneratorUpdate, TypeMediaUpdate:
		out = a.update(m)
	case TypeGeneratorDelete, TypeMediaDelete:
		out = a.delete(m)
	}
	a.logger.Debug("realtime message",
		"project", a.target.ProjectID(),
		"type", m.Type,
		"element_id", m.Target(),
		"outcome", out,
	)
	return out
}

func (a *Applier) create(e element.Element) Outcome {
	if a.target.Has(e.ID) {
		return OutcomeIgnored
	}
	return a.apply(projector.OpEvent(op.Operation{Type: op.TypeCreate, ElementID: e.ID, Data: op.Data{Element: &e}}), e.ID)
}

func (a *Applier) update(m Message) Outcome {
	cur, ok := a.target.Find(m.ElementID)
	if !ok || !fits(m.Type, cur.Kind) {
		return OutcomeIgnored
	}
	return a.apply(projector.OpEvent(op.Operation{Type: op.TypeUpdate, ElementID: m.ElementID, Data: op.Data{Updates: m.Updates}}), m.ElementID)
}

func (a *Applier) delete(m Message) Outcome {
	cur, ok := a.target.Find(m.ElementID)
	if !ok || !fits(m.Type, cur.Kind) {
		return OutcomeIgnored
	}
	return a.apply(projector.OpEvent(op.Operation{Type: op.TypeDelete, ElementID: m.ElementID}), m.ElementID)
}

func (a *Applier) apply(ev projector.Event, id string) Outcome {
	if _, err := a.target.Apply(canvas.SourceRealtime, ev); err != nil {
		a.logger.Warn("realtime apply failed", "project", a.target.ProjectID(), "element_id", id, "error", err)
		return OutcomeRejected
	}
	return OutcomeApplied
}

// Init merges an init payload. Overlays absent locally are added; overlays
// present locally take only their live run-progress fields from the
// payload. Media in the payload is used only before startup hydration has
// finished and no snapshot has been loaded, and then only for ids not
// already present. After hydration a missing media id means the element was
// deleted.
func (a *Applier) Init(m Message) Outcome {
	out := OutcomeIgnored
	mark := func(o Outcome) {
		if o == OutcomeApplied {
			out = OutcomeApplied
		}
	}
	for _, live := range m.Generators {
		cur, ok := a.target.Find(live.ID)
		if !ok {
			mark(a.create(live))
			continue
		}
		merged := element.MergeEphemeral(cur, live)
		mark(a.apply(projector.ReplaceEvent(merged), live.ID))
	}
	if len(m.Media) > 0 && !a.target.Hydrated() && !a.target.SnapshotLoaded() {
		for _, e := range m.Media {
			mark(a.create(e))
		}
	}
	return out
}
