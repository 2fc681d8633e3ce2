package oplog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canvasync/internal/canvas"
	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/op"
	"github.com/roach88/canvasync/internal/oplog"
	"github.com/roach88/canvasync/internal/projector"
)

func records(ops ...op.Operation) []op.Record {
	out := make([]op.Record, len(ops))
	for i, o := range ops {
		out[i] = op.Record{Seq: int64(i + 1), ProjectID: project, Op: o}
	}
	return out
}

func TestReplay_RebuildsStateFromStore(t *testing.T) {
	f := newFixture(t)
	f.run(t)
	waitSeq(t, f.append(t, must(f.builder.Create(image("img-1", 0, 0)))))
	waitSeq(t, f.append(t, must(f.builder.Move("img-1", op.Delta{X: 10, Y: 20}))))
	r, err := f.mgr.Undo()
	require.NoError(t, err)
	waitSeq(t, r)
	want := f.state.Collections()

	fresh := canvas.New(project)
	stats, err := oplog.New(fresh, f.store).Replay(context.Background(), oplog.Cursor{})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Applied)
	assert.Equal(t, int64(3), stats.LastSeq)
	assert.Equal(t, want, fresh.Collections())
	seq, _ := fresh.Cursor()
	assert.Equal(t, int64(3), seq)
}

func TestReplay_SkipsHistoryCoveredBySnapshot(t *testing.T) {
	b := newFixture(t).builder
	create := must(b.Create(image("img-1", 0, 0)))
	move1 := must(b.Move("img-1", op.Delta{X: 10}))
	move2 := must(b.Move("img-1", op.Delta{X: 1}))
	move3 := must(b.Move("img-1", op.Delta{Y: 7}))

	state := canvas.New(project)
	hydrated := element.NewDocument()
	hydrated.Elements["img-1"] = image("img-1", 11, 0)
	_, err := state.Apply(canvas.SourceSnapshot, projectorSnapshot(hydrated))
	require.NoError(t, err)

	// The snapshot reflects seq 2 plus move2, which was still in flight.
	stats := oplog.ReplayRecords(state, records(create, move1, move3, move2), oplog.Cursor{Seq: 2, Skip: []string{move2.RequestID}}, nil)
	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, 1, stats.Skipped)

	e, ok := state.Find("img-1")
	require.True(t, ok)
	assert.Equal(t, 11.0, e.X, "moves already in the snapshot are not applied twice")
	assert.Equal(t, 7.0, e.Y)
}

func TestReplay_SnapshotShapedPayload(t *testing.T) {
	b := newFixture(t).builder
	state := canvas.New(project)

	bare := op.Operation{
		Type:      op.TypeCreate,
		RequestID: "legacy-1",
		Data: op.Data{Elements: map[string]element.Element{
			"img-9": image("img-9", 0, 0),
		}},
	}
	stale := must(b.Create(image("img-1", 0, 0)))

	stats := oplog.ReplayRecords(state, records(stale, bare), oplog.Cursor{}, nil)
	assert.Equal(t, 1, stats.Snapshots)
	assert.True(t, state.SnapshotLoaded())
	assert.False(t, state.Has("img-1"), "snapshot payload replaces state")
	assert.True(t, state.Has("img-9"))

	again := bare
	again.RequestID = "legacy-2"
	again.Data.Elements = map[string]element.Element{"img-5": image("img-5", 0, 0)}
	stats = oplog.ReplayRecords(state, []op.Record{{Seq: 3, Op: again}}, oplog.Cursor{Seq: 2}, nil)
	assert.Equal(t, 0, stats.Snapshots, "once loaded, element maps are not snapshots")
	assert.True(t, state.Has("img-9"))
}

func TestReplay_ExplicitSnapshotAlwaysReplaces(t *testing.T) {
	b := newFixture(t).builder
	state := canvas.New(project)
	state.MarkSnapshotLoaded()

	doc := element.NewDocument()
	doc.Elements["img-2"] = image("img-2", 0, 0)
	stats := oplog.ReplayRecords(state, records(must(b.Create(image("img-1", 0, 0))), b.Snapshot(doc)), oplog.Cursor{}, nil)
	assert.Equal(t, 1, stats.Snapshots)
	assert.False(t, state.Has("img-1"))
	assert.True(t, state.Has("img-2"))
}

func TestReplay_BadRecordsAreSkipped(t *testing.T) {
	state := canvas.New(project)
	bad := op.Operation{Type: op.TypeMove, ElementID: "x", RequestID: "r"}
	stats := oplog.ReplayRecords(state, records(bad), oplog.Cursor{}, nil)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, int64(1), stats.LastSeq)
}

func TestCursorOf(t *testing.T) {
	cur := oplog.CursorOf(element.Metadata{Seq: 4, Pending: []string{"a"}})
	assert.Equal(t, oplog.Cursor{Seq: 4, Skip: []string{"a"}}, cur)
}

func projectorSnapshot(doc element.Document) projector.Event {
	return projector.SnapshotEvent(doc)
}
