package snapshot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/canvasync/internal/canvas"
	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/projector"
)

// Backend reads and writes a project's current document.
type Backend interface {
	CurrentSnapshot(ctx context.Context, projectID string) (element.Document, error)
	SetCurrentSnapshot(ctx context.Context, projectID string, doc element.Document) error
}

// Target is the state a document is hydrated into.
type Target interface {
	ProjectID() string
	Apply(src canvas.Source, ev projector.Event) (projector.Result, error)
	Observe(seq int64)
}

// Hydration reports what Hydrate loaded.
type Hydration struct {
	// Loaded is true when a stored document replaced the target's state.
	Loaded bool

	// Metadata of the loaded document, including its op log cursor.
	Metadata element.Metadata

	Elements int
}

// Hydrate loads the project's latest document into target. A missing
// document or a failed read leaves target empty and is not an error; the
// project then starts from an empty canvas.
func Hydrate(ctx context.Context, backend Backend, target Target, logger *slog.Logger) Hydration {
	if logger == nil {
		logger = slog.Default()
	}
	project := target.ProjectID()

	doc, err := backend.CurrentSnapshot(ctx, project)
	if errors.Is(err, element.ErrNoDocument) {
		logger.Debug("no snapshot stored", "project", project)
		return Hydration{}
	}
	if err != nil {
		logger.Warn("snapshot read failed, starting empty", "project", project, "error", err)
		return Hydration{}
	}

	res, err := target.Apply(canvas.SourceSnapshot, projector.SnapshotEvent(doc))
	if err != nil {
		logger.Warn("snapshot apply failed, starting empty", "project", project, "error", err)
		return Hydration{}
	}
	target.Observe(doc.Metadata.Seq)

	h := Hydration{
		Loaded:   true,
		Metadata: doc.Metadata,
		Elements: res.Collections.Len(),
	}
	logger.Info("snapshot hydrated",
		"project", project,
		"elements", h.Elements,
		"seq", doc.Metadata.Seq,
		"pending", len(doc.Metadata.Pending),
	)
	return h
}
