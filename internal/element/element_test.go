package element

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canvasync/internal/value"
)

func testImage(id string, x, y float64) Element {
	return Element{
		ID:   id,
		Kind: KindImage,
		X:    x,
		Y:    y,
		Meta: MediaMeta{URL: "https://cdn.example.com/" + id + ".png"},
	}
}

func TestKind_Family(t *testing.T) {
	tests := []struct {
		kind Kind
		want Family
	}{
		{KindImage, FamilyMedia},
		{KindModel, FamilyMedia},
		{KindMusicGenerator, FamilyGenerator},
		{KindVectorize, FamilyPlugin},
		{KindTextInput, FamilyPlugin},
		{KindConnector, FamilyConnector},
		{Kind("sticker"), FamilyUnknown},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Family())
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("plugin-upscale")
	require.NoError(t, err)
	assert.Equal(t, KindUpscale, k)

	_, err = ParseKind("plugin-unknown")
	assert.Error(t, err)
}

func TestKind_Positioned(t *testing.T) {
	assert.True(t, KindImage.Positioned())
	assert.True(t, KindImageGenerator.Positioned())
	assert.False(t, KindConnector.Positioned())
}

func TestStatus_InFlight(t *testing.T) {
	assert.True(t, StatusPending.InFlight())
	assert.True(t, StatusGenerating.InFlight())
	assert.False(t, StatusCompleted.InFlight())
	assert.False(t, StatusFailed.InFlight())
	assert.False(t, Status("").InFlight())
}

func TestElement_JSONRecordShape(t *testing.T) {
	e := testImage("img-1", 10, 20)
	e.Width = Float(500)
	e.Resource = "blob:local/123"

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "img-1", rec["id"])
	assert.Equal(t, "media-image", rec["type"])
	assert.Equal(t, 500.0, rec["width"])
	assert.NotContains(t, rec, "height")
	assert.NotContains(t, rec, "from")
	assert.NotContains(t, string(data), "blob:local", "resource handles are never serialised")
}

func TestElement_JSONRoundTrip(t *testing.T) {
	elems := []Element{
		testImage("img-1", 1.5, -2),
		{
			ID: "gen-1", Kind: KindVideoGenerator, X: 3, Y: 4,
			Meta: GeneratorMeta{Prompt: "a cat", Status: StatusGenerating, Progress: 40, Seed: 7},
		},
		{
			ID: "up-1", Kind: KindUpscale,
			Meta: PluginMeta{SourceID: "img-1", Settings: value.Object{"scale": value.Int(2)}},
		},
		{
			ID: "c-1", Kind: KindConnector, From: "img-1", To: "up-1",
			Meta: ConnectorMeta{Color: "#ff0000", FromAnchor: "right"},
		},
	}
	for _, e := range elems {
		t.Run(e.ID, func(t *testing.T) {
			data, err := json.Marshal(e)
			require.NoError(t, err)

			var got Element
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, e, got)
		})
	}
}

func TestElement_UnmarshalUnknownType(t *testing.T) {
	var e Element
	err := json.Unmarshal([]byte(`{"id":"x","type":"sticker","x":0,"y":0,"meta":{}}`), &e)
	assert.Error(t, err)
}

func TestElement_UnmarshalMissingMeta(t *testing.T) {
	var e Element
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","type":"media-text","x":0,"y":0}`), &e))
	assert.Equal(t, MediaMeta{}, e.Meta)
}

func TestElement_Validate(t *testing.T) {
	tests := []struct {
		name    string
		elem    Element
		wantErr bool
	}{
		{"valid image", testImage("img-1", 0, 0), false},
		{"missing id", Element{Kind: KindImage, Meta: MediaMeta{}}, true},
		{"unknown kind", Element{ID: "x", Kind: "sticker"}, true},
		{"meta mismatch", Element{ID: "x", Kind: KindImage, Meta: GeneratorMeta{}}, true},
		{"connector without endpoints", Element{ID: "c", Kind: KindConnector, Meta: ConnectorMeta{}}, true},
		{"from on media", Element{ID: "x", Kind: KindImage, From: "y", Meta: MediaMeta{}}, true},
		{"valid connector", Element{ID: "c", Kind: KindConnector, From: "a", To: "b", Meta: ConnectorMeta{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.elem.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestElement_Normalize(t *testing.T) {
	e := Element{ID: "g", Kind: KindImageGenerator}
	assert.Equal(t, GeneratorMeta{}, e.Normalize().Meta)

	e = Element{ID: "m", Kind: KindImage, Meta: MediaMeta{Connections: []Connection{}}}
	assert.Nil(t, e.Normalize().Meta.(MediaMeta).Connections)
}

func TestElement_CloneIsIndependent(t *testing.T) {
	e := testImage("img-1", 0, 0)
	e.Width = Float(100)
	e.Meta = MediaMeta{Connections: []Connection{{ID: "c1", To: "b"}}}

	cp := e.Clone()
	*cp.Width = 200
	cp.Meta.(MediaMeta).Connections[0].To = "z"

	assert.Equal(t, 100.0, *e.Width)
	assert.Equal(t, "b", e.Meta.(MediaMeta).Connections[0].To)
}

func TestElement_References(t *testing.T) {
	c := Element{ID: "c", Kind: KindConnector, From: "a", To: "b"}
	assert.True(t, c.References("a"))
	assert.True(t, c.References("b"))
	assert.False(t, c.References("c"))
	assert.False(t, testImage("a", 0, 0).References("a"))
}

func TestMergeEphemeral(t *testing.T) {
	persisted := Element{
		ID: "gen-1", Kind: KindImageGenerator, X: 5, Y: 5,
		Meta: GeneratorMeta{Prompt: "persisted prompt", Status: StatusIdle},
	}
	live := Element{
		ID: "gen-1", Kind: KindImageGenerator, X: 99, Y: 99,
		Meta: GeneratorMeta{Prompt: "stale prompt", Status: StatusGenerating, Progress: 60, ResultURL: "https://r/1.png"},
	}

	got := MergeEphemeral(persisted, live)
	meta := got.Meta.(GeneratorMeta)
	assert.Equal(t, "persisted prompt", meta.Prompt)
	assert.Equal(t, StatusGenerating, meta.Status)
	assert.Equal(t, 60, meta.Progress)
	assert.Equal(t, "https://r/1.png", meta.ResultURL)
	assert.Equal(t, 5.0, got.X, "position is persisted state")
}

func TestMergeEphemeral_KeepsPersistedResultAfterCompletion(t *testing.T) {
	persisted := Element{ID: "p", Kind: KindUpscale, Meta: PluginMeta{ResultURL: "https://r/final.png", Status: StatusCompleted}}
	live := Element{ID: "p", Kind: KindUpscale, Meta: PluginMeta{ResultURL: "https://r/old.png", Status: StatusCompleted, Progress: 100}}

	got := MergeEphemeral(persisted, live).Meta.(PluginMeta)
	assert.Equal(t, "https://r/final.png", got.ResultURL)
	assert.Equal(t, 100, got.Progress)
}

func TestMergeEphemeral_BlankLiveKeepsPersistedRun(t *testing.T) {
	persisted := Element{ID: "g", Kind: KindImageGenerator, Meta: GeneratorMeta{Status: StatusCompleted, Progress: 100, ResultURL: "https://r/done.png"}}
	live := Element{ID: "g", Kind: KindImageGenerator, Meta: GeneratorMeta{}}

	got := MergeEphemeral(persisted, live).Meta.(GeneratorMeta)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "https://r/done.png", got.ResultURL)

	live.Meta = GeneratorMeta{Status: StatusIdle}
	got = MergeEphemeral(persisted, live).Meta.(GeneratorMeta)
	assert.Equal(t, StatusCompleted, got.Status, "a settled live status does not override a persisted one")
}

func TestConnections(t *testing.T) {
	conns := []Connection{{ID: "c1", To: "b", Color: "#fff"}}
	m := WithConnections(GeneratorMeta{Prompt: "p"}, conns)
	assert.Equal(t, conns, ConnectionsOf(m))
	assert.Nil(t, ConnectionsOf(ConnectorMeta{}))
	assert.Equal(t, ConnectorMeta{}, WithConnections(ConnectorMeta{}, conns))
}
