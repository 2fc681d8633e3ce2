package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/op"
	"github.com/roach88/canvasync/internal/projector"
	"github.com/roach88/canvasync/internal/value"
)

func image(id string, x, y float64) element.Element {
	return element.Element{ID: id, Kind: element.KindImage, X: x, Y: y, Meta: element.MediaMeta{URL: "u/" + id}}
}

func apply(t *testing.T, s *State, o op.Operation, err error) {
	t.Helper()
	require.NoError(t, err)
	_, err = s.Apply(SourceOp, projector.OpEvent(o))
	require.NoError(t, err)
}

func TestState_ApplyNotifiesChangedCollections(t *testing.T) {
	s := New("p1")
	var changes []Change
	cancel := s.Subscribe(func(c Change) { changes = append(changes, c) })

	o, err := op.Create(image("img-1", 0, 0))
	apply(t, s, o, err)

	require.Len(t, changes, 1)
	assert.Equal(t, SourceOp, changes[0].Source)
	assert.Equal(t, []projector.Collection{projector.Images}, changes[0].Changed)
	assert.True(t, s.Has("img-1"))

	_, err = s.Apply(SourceOp, projector.OpEvent(o))
	require.NoError(t, err)
	assert.Len(t, changes, 1, "no-op projections are not delivered")

	cancel()
	m, err := op.Move("img-1", op.Delta{X: 1})
	apply(t, s, m, err)
	assert.Len(t, changes, 1, "cancelled observers receive nothing")
}

func TestState_ApplyErrorLeavesStateUnchanged(t *testing.T) {
	s := New("p1")
	o, err := op.Create(image("img-1", 0, 0))
	apply(t, s, o, err)
	before := s.Collections()

	bad := op.Operation{Type: op.TypeUpdate, ElementID: "img-1", RequestID: "r", Data: op.Data{Updates: element.Patch{element.KeyFrom: value.String("x")}}}
	_, err = s.Apply(SourceOp, projector.OpEvent(bad))
	require.Error(t, err)
	assert.Equal(t, before, s.Collections())
}

func TestState_SnapshotMarksLoaded(t *testing.T) {
	s := New("p1")
	assert.False(t, s.SnapshotLoaded())

	_, err := s.Apply(SourceSnapshot, projector.SnapshotEvent(element.NewDocument()))
	require.NoError(t, err)
	assert.True(t, s.SnapshotLoaded())
}

func TestState_ReleasesResourcesOnDelete(t *testing.T) {
	var released []string
	s := New("p1", WithReleaser(func(h string) { released = append(released, h) }))

	o, err := op.Create(image("img-1", 0, 0))
	apply(t, s, o, err)
	require.True(t, s.Attach("img-1", "blob:1"))
	require.True(t, s.Attach("img-1", "blob:2"))
	assert.Equal(t, []string{"blob:1"}, released, "re-attaching releases the previous handle")
	assert.False(t, s.Attach("ghost", "blob:x"))

	del, err := s.DeleteOp(op.Builder{}, "img-1")
	apply(t, s, del, err)
	assert.Equal(t, []string{"blob:1", "blob:2"}, released)
}

func TestState_DeleteOpCascadesConnectors(t *testing.T) {
	s := New("p1")
	o, err := op.CreateBatch([]element.Element{
		image("a", 0, 0),
		image("b", 10, 0),
		{ID: "c-1", Kind: element.KindConnector, From: "a", To: "b", Meta: element.ConnectorMeta{}},
	})
	apply(t, s, o, err)
	before := s.Collections()

	del, err := s.DeleteOp(op.Builder{}, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c-1"}, del.ElementIDs)

	apply(t, s, del, nil)
	assert.False(t, s.Has("c-1"))

	_, err = s.Apply(SourceOp, projector.OpEvent(*del.Inverse))
	require.NoError(t, err)
	assert.True(t, projector.Equal(before, s.Collections()))
}

func TestState_OpHelpersRejectUnknown(t *testing.T) {
	s := New("p1")
	_, err := s.DeleteOp(op.Builder{}, "ghost")
	assert.True(t, op.IsUnknownElement(err))
	_, err = s.UpdateOp(op.Builder{}, "ghost", element.PositionPatch(1, 1))
	assert.True(t, op.IsUnknownElement(err))
	_, err = s.MoveOp(op.Builder{}, "ghost", op.Delta{})
	assert.True(t, op.IsUnknownElement(err))
}

func TestState_UpdateOp(t *testing.T) {
	s := New("p1")
	o, err := op.Create(image("img-1", 0, 0))
	apply(t, s, o, err)

	u, err := s.UpdateOp(op.Builder{}, "img-1", element.Patch{element.KeyWidth: value.Int(500)})
	apply(t, s, u, err)
	e, _ := s.Find("img-1")
	assert.Equal(t, 500.0, *e.Width)
}

func TestState_Cursor(t *testing.T) {
	s := New("p1")
	s.Track("r2")
	s.Track("r1")
	seq, pending := s.Cursor()
	assert.Equal(t, int64(0), seq)
	assert.Equal(t, []string{"r1", "r2"}, pending)

	s.Confirm("r1", 5)
	s.Forget("r2")
	s.Observe(3)
	seq, pending = s.Cursor()
	assert.Equal(t, int64(3), seq, "confirming does not move the cursor")
	assert.Equal(t, []string{"r1"}, pending, "stored ops past the cursor are still skipped on replay")
	assert.True(t, s.Confirmed("r1"))

	s.Observe(5)
	seq, pending = s.Cursor()
	assert.Equal(t, int64(5), seq)
	assert.Nil(t, pending)
	assert.False(t, s.Confirmed("r1"))
}

func TestState_Hydrated(t *testing.T) {
	s := New("p1")
	assert.False(t, s.Hydrated())
	s.MarkHydrated()
	assert.True(t, s.Hydrated())
	assert.False(t, s.SnapshotLoaded(), "hydration can finish without a document")
}

func TestState_View(t *testing.T) {
	s := New("p1")
	_, err := s.Apply(SourceOp, projector.OpEvent(op.Operation{
		Type: op.TypeCreate, ElementID: "a", RequestID: "r1",
		Data: op.Data{Element: &element.Element{ID: "a", Kind: element.KindImage}},
	}))
	require.NoError(t, err)
	s.Track("r1")
	s.Observe(4)

	v := s.View()
	assert.Equal(t, int64(4), v.Seq)
	assert.Equal(t, []string{"r1"}, v.Pending)
	assert.True(t, v.Collections.Has("a"))
}
