package oplog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/canvasync/internal/canvas"
	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/metrics"
	"github.com/roach88/canvasync/internal/op"
	"github.com/roach88/canvasync/internal/projector"
)

// Cursor identifies history already reflected in hydrated state.
type Cursor struct {
	// Seq is the highest sequence the state reflects.
	Seq int64

	// Skip lists request ids applied to the state but not covered by Seq.
	Skip []string
}

// CursorOf returns the cursor recorded in a snapshot's metadata.
func CursorOf(md element.Metadata) Cursor {
	return Cursor{Seq: md.Seq, Skip: md.Pending}
}

// ReplayStats summarizes one replay.
type ReplayStats struct {
	Applied   int
	Skipped   int
	Snapshots int
	Failed    int
	LastSeq   int64
}

// Replay reads history after cur from the store and applies it to the
// target. It touches neither the undo stacks nor the persist queue.
func (m *Manager) Replay(ctx context.Context, cur Cursor) (ReplayStats, error) {
	recs, err := m.store.ReadOperations(ctx, m.target.ProjectID(), cur.Seq)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("replay %s: %w", m.target.ProjectID(), err)
	}
	return ReplayRecords(m.target, recs, cur, m.logger, m.onApply...), nil
}

// ReplayRecords applies recs in order. Records covered by cur are skipped.
// A record that is an explicit snapshot, or that carries an element map and
// no incremental payload before any snapshot has been loaded, replaces the
// whole state. Records that fail to project are logged and skipped.
func ReplayRecords(target Target, recs []op.Record, cur Cursor, logger *slog.Logger, hooks ...ApplyFunc) ReplayStats {
	if logger == nil {
		logger = slog.Default()
	}
	skip := make(map[string]bool, len(cur.Skip))
	for _, id := range cur.Skip {
		skip[id] = true
	}
	stats := ReplayStats{LastSeq: cur.Seq}
	for _, rec := range recs {
		if rec.Seq <= cur.Seq {
			continue
		}
		o := rec.Op
		outcome := replayOne(target, o, skip[o.RequestID], logger, rec.Seq)
		switch outcome {
		case "applied":
			stats.Applied++
		case "snapshot":
			stats.Snapshots++
		case "skipped":
			stats.Skipped++
		case "error":
			stats.Failed++
		}
		metrics.RecordReplay(outcome)
		target.Observe(rec.Seq)
		stats.LastSeq = rec.Seq
		if outcome == "applied" || outcome == "snapshot" {
			for _, fn := range hooks {
				fn(o, false)
			}
		}
	}
	logger.Info("oplog replayed",
		"project", target.ProjectID(),
		"applied", stats.Applied,
		"skipped", stats.Skipped,
		"snapshots", stats.Snapshots,
		"failed", stats.Failed,
		"last_seq", stats.LastSeq,
	)
	return stats
}

func replayOne(target Target, o op.Operation, covered bool, logger *slog.Logger, seq int64) string {
	if covered {
		return "skipped"
	}
	if o.IsSnapshot() || (!target.SnapshotLoaded() && o.LooksLikeSnapshot()) {
		if _, err := target.Apply(canvas.SourceReplay, projector.SnapshotEvent(o.Document())); err != nil {
			logger.Warn("replay snapshot failed", "project", target.ProjectID(), "seq", seq, "request_id", o.RequestID, "error", err)
			return "error"
		}
		return "snapshot"
	}
	if _, err := target.Apply(canvas.SourceReplay, projector.OpEvent(o)); err != nil {
		logger.Warn("replay operation failed",
			"project", target.ProjectID(),
			"seq", seq,
			"request_id", o.RequestID,
			"element_id", o.ElementID,
			"error", err,
		)
		return "error"
	}
	return "applied"
}
