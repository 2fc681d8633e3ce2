package projector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/op"
	"github.com/roach88/canvasync/internal/value"
)

func image(id string, x, y float64) element.Element {
	return element.Element{ID: id, Kind: element.KindImage, X: x, Y: y, Meta: element.MediaMeta{URL: "https://cdn.example.com/" + id + ".png"}}
}

func generator(id string) element.Element {
	return element.Element{ID: id, Kind: element.KindImageGenerator, X: 100, Y: 0, Meta: element.GeneratorMeta{Prompt: "a cat", Status: element.StatusIdle}}
}

func connector(id, from, to string) element.Element {
	return element.Element{ID: id, Kind: element.KindConnector, From: from, To: to, Meta: element.ConnectorMeta{Color: "#888"}}
}

func baseState() Collections {
	return NewCollections(
		image("img-1", 0, 0),
		image("img-2", 50, 50),
		generator("gen-1"),
		connector("c-1", "img-1", "gen-1"),
		element.Element{ID: "up-1", Kind: element.KindUpscale, Meta: element.PluginMeta{SourceID: "img-2"}},
	)
}

func mustProject(t *testing.T, c Collections, o op.Operation) Collections {
	t.Helper()
	res, err := Project(c, OpEvent(o))
	require.NoError(t, err)
	return res.Collections
}

func must(t *testing.T) func(op.Operation, error) op.Operation {
	return func(o op.Operation, err error) op.Operation {
		t.Helper()
		require.NoError(t, err)
		return o
	}
}

func TestCollectionFor(t *testing.T) {
	assert.Equal(t, Images, CollectionFor(element.KindImage))
	assert.Equal(t, Models, CollectionFor(element.KindModel))
	assert.Equal(t, Generators, CollectionFor(element.KindMusicGenerator))
	assert.Equal(t, Plugins, CollectionFor(element.KindStoryboard))
	assert.Equal(t, Connectors, CollectionFor(element.KindConnector))
	assert.Equal(t, Collection(""), CollectionFor("sticker"))
}

func TestNewCollections_DropsIDlessAndDuplicates(t *testing.T) {
	c := NewCollections(image("", 0, 0), image("a", 0, 0), image("a", 9, 9))
	require.Len(t, c.Get(Images), 1)
	assert.Equal(t, 0.0, c.Get(Images)[0].X)
}

func TestProject_InverseCorrectness(t *testing.T) {
	s := baseState()
	img1, _, _ := s.Find("img-1")
	img2, _, _ := s.Find("img-2")
	gen, _, _ := s.Find("gen-1")
	conn, _, _ := s.Find("c-1")
	m := must(t)

	ops := map[string]op.Operation{
		"create":         m(op.Create(image("img-3", 1, 2))),
		"create batch":   m(op.CreateBatch([]element.Element{image("img-3", 0, 0), connector("c-2", "img-3", "img-2")})),
		"update width":   m(op.Update(img1, element.Patch{element.KeyWidth: value.Int(500)})),
		"update meta":    m(op.Update(gen, element.Patch{element.KeyMeta: value.Object{"status": value.String("generating"), "progress": value.Int(10)}})),
		"update to":      m(op.Update(conn, element.Patch{element.KeyTo: value.String("img-2")})),
		"delete cascade": m(op.Delete(img1, conn)),
		"delete plain":   m(op.Delete(img2)),
		"move":           m(op.Move("img-2", op.Delta{X: 10, Y: -5})),
		"move generator": m(op.Move("gen-1", op.Delta{X: 3, Y: 4})),
	}
	for name, o := range ops {
		t.Run(name, func(t *testing.T) {
			after := mustProject(t, s, o)
			restored := mustProject(t, after, *o.Inverse)
			assert.True(t, Equal(s, restored), "inverse must restore the starting state")
		})
	}
}

func TestProject_IdempotentCreate(t *testing.T) {
	s := baseState()
	create := must(t)(op.Create(image("img-9", 0, 0)))

	once := mustProject(t, s, create)
	twice, err := Project(once, OpEvent(create))
	require.NoError(t, err)

	assert.Equal(t, once, twice.Collections)
	assert.Empty(t, twice.Changed)
}

func TestProject_CreateExistingIDInOtherCollection(t *testing.T) {
	s := baseState()
	clash := element.Element{ID: "img-1", Kind: element.KindVideo, Meta: element.MediaMeta{}}
	res, err := Project(s, OpEvent(must(t)(op.Create(clash))))
	require.NoError(t, err)
	assert.Empty(t, res.Collections.Get(Videos))
}

func TestProject_CascadeDelete(t *testing.T) {
	s := baseState()
	res, err := Project(s, OpEvent(op.Operation{Type: op.TypeDelete, ElementID: "gen-1", RequestID: "r"}))
	require.NoError(t, err)

	for _, c := range res.Collections.Get(Connectors) {
		assert.NotEqual(t, "gen-1", c.From)
		assert.NotEqual(t, "gen-1", c.To)
	}
	assert.False(t, res.Collections.Has("gen-1"))
	assert.False(t, res.Collections.Has("c-1"))
	assert.Equal(t, []Collection{Generators, Connectors}, res.Changed)
}

func TestProject_DeleteReleasesResources(t *testing.T) {
	img := image("img-1", 0, 0)
	img.Resource = "blob:local/1"
	s := NewCollections(img)

	res, err := Project(s, OpEvent(op.Operation{Type: op.TypeDelete, ElementIDs: []string{"img-1", "ghost"}, RequestID: "r"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"blob:local/1"}, res.Released)
	assert.Empty(t, res.Collections)
}

func TestProject_UnknownIDsIgnored(t *testing.T) {
	s := baseState()
	events := []op.Operation{
		{Type: op.TypeDelete, ElementID: "ghost", RequestID: "r1"},
		{Type: op.TypeMove, ElementID: "ghost", Data: op.Data{Delta: &op.Delta{X: 1}}, RequestID: "r2"},
		{Type: op.TypeUpdate, ElementID: "ghost", Data: op.Data{Updates: element.Patch{element.KeyX: value.Int(1)}}, RequestID: "r3"},
	}
	for _, o := range events {
		res, err := Project(s, OpEvent(o))
		require.NoError(t, err)
		assert.True(t, Equal(s, res.Collections))
		assert.Empty(t, res.Changed)
	}
}

func TestProject_UpdateRejectsBadPatch(t *testing.T) {
	s := baseState()
	o := op.Operation{Type: op.TypeUpdate, ElementID: "img-1", Data: op.Data{Updates: element.Patch{element.KeyFrom: value.String("x")}}, RequestID: "r"}
	res, err := Project(s, OpEvent(o))
	require.Error(t, err)
	assert.Equal(t, s, res.Collections)
}

func TestProject_DoesNotMutateInput(t *testing.T) {
	s := baseState()
	before := NewCollections(s.All()...)

	mustProject(t, s, must(t)(op.Move("img-1", op.Delta{X: 5, Y: 5})))
	mustProject(t, s, must(t)(op.Create(image("img-3", 0, 0))))
	mustProject(t, s, op.Operation{Type: op.TypeDelete, ElementID: "img-2", RequestID: "r"})

	assert.Equal(t, before, s)
}

func TestProject_MoveComposition(t *testing.T) {
	s := baseState()
	m := must(t)
	d1, d2 := op.Delta{X: 10, Y: 20}, op.Delta{X: -3, Y: 7}

	stepwise := mustProject(t, mustProject(t, s, m(op.Move("img-1", d1))), m(op.Move("img-1", d2)))
	combined := mustProject(t, s, m(op.Move("img-1", d1.Add(d2))))

	assert.True(t, Equal(stepwise, combined))
	e, _, _ := combined.Find("img-1")
	assert.Equal(t, 7.0, e.X)
	assert.Equal(t, 27.0, e.Y)
}

func TestProject_MoveIgnoresConnectors(t *testing.T) {
	s := baseState()
	res, err := Project(s, OpEvent(op.Operation{Type: op.TypeMove, ElementID: "c-1", Data: op.Data{Delta: &op.Delta{X: 5}}, RequestID: "r"}))
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
}

func TestProject_ConcreteScenario(t *testing.T) {
	b := op.Builder{}
	m := must(t)

	create := m(b.Create(image("img-1", 0, 0)))
	s1 := mustProject(t, Collections{}, create)

	move := m(b.Move("img-1", op.Delta{X: 10, Y: 20}))
	s2 := mustProject(t, s1, move)

	moved, _, _ := s2.Find("img-1")
	update := m(b.Update(moved, element.Patch{element.KeyWidth: value.Int(500)}))
	s3 := mustProject(t, s2, update)

	final, _, _ := s3.Find("img-1")
	del := m(b.Delete(final))
	s4 := mustProject(t, s3, del)
	assert.False(t, s4.Has("img-1"))

	restored := mustProject(t, s4, *del.Inverse)
	e, _, ok := restored.Find("img-1")
	require.True(t, ok)
	assert.Equal(t, 10.0, e.X)
	assert.Equal(t, 20.0, e.Y)
	require.NotNil(t, e.Width)
	assert.Equal(t, 500.0, *e.Width)

	state := restored
	for _, o := range []op.Operation{update, move, create} {
		state = mustProject(t, state, *o.Inverse)
	}
	assert.Empty(t, state, "undoing every step returns to the empty canvas")
}

func TestProject_SnapshotReplaces(t *testing.T) {
	s := baseState()
	doc := element.NewDocument()
	doc.Elements["img-9"] = image("img-9", 1, 1)
	doc.Elements["gen-1"] = generator("gen-1")
	doc.Metadata.Order = []string{"img-9", "gen-1"}

	res, err := Project(s, SnapshotEvent(doc))
	require.NoError(t, err)

	assert.False(t, res.Collections.Has("img-1"), "elements absent from the snapshot are dropped")
	assert.True(t, res.Collections.Has("img-9"))
	assert.Equal(t, 2, res.Collections.Len())
	assert.Equal(t, []Collection{Images, Plugins, Connectors}, res.Changed)
}

func TestProject_SnapshotOperation(t *testing.T) {
	doc := element.NewDocument()
	doc.Elements["img-1"] = image("img-1", 0, 0)
	res, err := Project(baseState(), OpEvent(op.Snapshot(doc)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Collections.Len())
}

func TestProject_SnapshotFlattensNestedConnections(t *testing.T) {
	img := image("img-1", 0, 0)
	img.Meta = element.MediaMeta{
		URL: "u",
		Connections: []element.Connection{
			{ID: "c-1", To: "gen-1", Color: "#f00"},
			{ID: "legacy", To: "gen-1", Color: "#0f0", ToAnchor: "left"},
		},
	}
	doc := element.NewDocument()
	doc.Elements["img-1"] = img
	doc.Elements["gen-1"] = generator("gen-1")
	doc.Elements["c-1"] = connector("c-1", "img-1", "gen-1")

	res, err := Project(Collections{}, SnapshotEvent(doc))
	require.NoError(t, err)

	got, _, _ := res.Collections.Find("img-1")
	assert.Empty(t, element.ConnectionsOf(got.Meta), "nested connections are not kept in memory")

	conns := res.Collections.Get(Connectors)
	require.Len(t, conns, 2)
	legacy, _, ok := res.Collections.Find("legacy")
	require.True(t, ok)
	assert.Equal(t, "img-1", legacy.From)
	assert.Equal(t, element.ConnectorMeta{Color: "#0f0", ToAnchor: "left"}, legacy.Meta)
}

func TestProject_SnapshotRewritesProxiedURLs(t *testing.T) {
	p := New(WithProxy(&Proxy{Prefix: "/api/proxy?url=", Domains: []string{"storage.example.net"}}))
	doc := element.NewDocument()
	doc.Elements["img-1"] = element.Element{ID: "img-1", Kind: element.KindImage, Meta: element.MediaMeta{
		URL:          "https://bucket.storage.example.net/a.png",
		ThumbnailURL: "https://cdn.other.com/t.png",
	}}

	res, err := p.Project(Collections{}, SnapshotEvent(doc))
	require.NoError(t, err)
	e, _, _ := res.Collections.Find("img-1")
	meta := e.Meta.(element.MediaMeta)
	assert.Equal(t, "/api/proxy?url=https%3A%2F%2Fbucket.storage.example.net%2Fa.png", meta.URL)
	assert.Equal(t, "https://cdn.other.com/t.png", meta.ThumbnailURL)
}

func TestProject_SnapshotReleasesPriorResources(t *testing.T) {
	img := image("img-1", 0, 0)
	img.Resource = "blob:1"
	res, err := Project(NewCollections(img), SnapshotEvent(element.NewDocument()))
	require.NoError(t, err)
	assert.Equal(t, []string{"blob:1"}, res.Released)
	assert.Empty(t, res.Collections)
}

func TestProject_Replace(t *testing.T) {
	img := image("img-1", 0, 0)
	img.Resource = "blob:1"
	s := NewCollections(img, generator("gen-1"))

	live := generator("gen-1")
	live.X = 40
	live.Meta = element.GeneratorMeta{Prompt: "a cat", Status: element.StatusGenerating, Progress: 50}
	res, err := Project(s, ReplaceEvent(live))
	require.NoError(t, err)
	got, _, _ := res.Collections.Find("gen-1")
	assert.Equal(t, live, got)
	assert.Equal(t, []Collection{Generators}, res.Changed)

	dragged := image("img-1", 30, 30)
	res, err = Project(s, ReplaceEvent(dragged))
	require.NoError(t, err)
	got, _, _ = res.Collections.Find("img-1")
	assert.Equal(t, 30.0, got.X)
	assert.Equal(t, "blob:1", got.Resource, "local resource handle survives a remote replace")

	res, err = Project(s, ReplaceEvent(image("ghost", 0, 0)))
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
}

func TestProject_ReplaceMovesAcrossCollections(t *testing.T) {
	s := NewCollections(image("m-1", 0, 0))
	video := element.Element{ID: "m-1", Kind: element.KindVideo, Meta: element.MediaMeta{URL: "v.mp4"}}

	res, err := Project(s, ReplaceEvent(video))
	require.NoError(t, err)
	assert.Empty(t, res.Collections.Get(Images))
	assert.Len(t, res.Collections.Get(Videos), 1)
	assert.Equal(t, []Collection{Images, Videos}, res.Changed)
}
