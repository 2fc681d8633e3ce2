package op

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/value"
)

func seqBuilder() Builder {
	n := 0
	return Builder{
		NewID: func() string {
			n++
			return fmt.Sprintf("req-%d", n)
		},
		Now: func() time.Time { return time.UnixMilli(1700000000000) },
	}
}

func image(id string, x, y float64) element.Element {
	return element.Element{ID: id, Kind: element.KindImage, X: x, Y: y, Meta: element.MediaMeta{URL: "https://a/" + id}}
}

func TestCreate_InverseDeletes(t *testing.T) {
	o, err := seqBuilder().Create(image("img-1", 0, 0))
	require.NoError(t, err)

	assert.Equal(t, TypeCreate, o.Type)
	assert.Equal(t, "img-1", o.ElementID)
	assert.Equal(t, "req-1", o.RequestID)
	assert.Equal(t, int64(1700000000000), o.ClientTS)
	require.NotNil(t, o.Inverse)
	assert.Equal(t, TypeDelete, o.Inverse.Type)
	assert.Equal(t, "img-1", o.Inverse.ElementID)
	assert.Equal(t, "req-2", o.Inverse.RequestID)
	assert.NoError(t, Validate(o))
}

func TestCreate_DropsResourceHandle(t *testing.T) {
	e := image("img-1", 0, 0)
	e.Resource = "blob:local/1"
	o, err := Create(e)
	require.NoError(t, err)
	assert.Empty(t, o.Data.Element.Resource)
}

func TestCreate_RejectsInvalidElement(t *testing.T) {
	_, err := Create(element.Element{Kind: element.KindImage})
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestCreateBatch(t *testing.T) {
	o, err := seqBuilder().CreateBatch([]element.Element{image("a", 0, 0), image("b", 1, 1)})
	require.NoError(t, err)
	assert.Empty(t, o.ElementID)
	assert.Len(t, o.Data.Batch, 2)
	assert.Equal(t, []string{"a", "b"}, o.Inverse.ElementIDs)
	assert.NoError(t, Validate(o))

	_, err = CreateBatch([]element.Element{image("a", 0, 0), image("a", 1, 1)})
	assert.True(t, IsMalformed(err))
}

func TestDelete_InverseRecreatesRemoved(t *testing.T) {
	img := image("img-1", 5, 5)
	conn := element.Element{ID: "c-1", Kind: element.KindConnector, From: "img-1", To: "gen-1", Meta: element.ConnectorMeta{Color: "#fff"}}

	single, err := seqBuilder().Delete(img)
	require.NoError(t, err)
	assert.Equal(t, "img-1", single.ElementID)
	assert.Equal(t, TypeCreate, single.Inverse.Type)
	assert.Equal(t, img, *single.Inverse.Data.Element)
	assert.Equal(t, "req-1", single.RequestID)
	assert.Equal(t, "req-2", single.Inverse.RequestID)

	cascade, err := seqBuilder().Delete(img, conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"img-1", "c-1"}, cascade.ElementIDs)
	assert.Equal(t, []element.Element{img, conn}, cascade.Inverse.Data.Batch)
	assert.NoError(t, Validate(cascade))

	_, err = Delete()
	assert.True(t, IsMalformed(err))
}

func TestUpdate_InverseCapturesChangedKeys(t *testing.T) {
	before := image("img-1", 10, 20)
	o, err := seqBuilder().Update(before, element.Patch{element.KeyWidth: value.Int(500)})
	require.NoError(t, err)

	assert.Equal(t, element.Patch{element.KeyWidth: value.Int(500)}, o.Data.Updates)
	assert.Equal(t, element.Patch{element.KeyWidth: value.Null{}}, o.Inverse.Data.Updates)
	assert.Equal(t, "img-1", o.Inverse.ElementID)
}

func TestUpdate_Rejects(t *testing.T) {
	before := image("img-1", 0, 0)

	_, err := Update(before, nil)
	assert.True(t, IsMalformed(err))

	_, err = Update(before, element.Patch{"colour": value.String("red")})
	assert.True(t, IsMalformed(err))

	_, err = Update(element.Element{}, element.Patch{element.KeyX: value.Int(1)})
	assert.True(t, IsMalformed(err))

	conns := value.Array{value.Object{"id": value.String("c1"), "to": value.String("img-2")}}
	_, err = Update(before, element.Patch{element.KeyMeta: value.Object{element.MetaKeyConnections: conns}})
	assert.True(t, IsMalformed(err), "nested connections are connector elements")
}

func TestMove_InverseNegates(t *testing.T) {
	o, err := Move("img-1", Delta{X: 10, Y: -20})
	require.NoError(t, err)
	assert.Equal(t, Delta{X: -10, Y: 20}, *o.Inverse.Data.Delta)

	_, err = Move("", Delta{})
	assert.True(t, IsMalformed(err))
}

func TestDelta_Add(t *testing.T) {
	assert.Equal(t, Delta{X: 3, Y: 5}, Delta{X: 1, Y: 2}.Add(Delta{X: 2, Y: 3}))
}

func TestSnapshot_NotUndoable(t *testing.T) {
	doc := element.NewDocument()
	doc.Elements["img-1"] = image("img-1", 0, 0)
	o := Snapshot(doc)

	assert.True(t, o.IsSnapshot())
	assert.False(t, o.Undoable())
	assert.Nil(t, o.Inverse)
	assert.NoError(t, Validate(o))

	_, err := o.Invert("r", 0)
	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, ErrCodeNotUndoable, oe.Code)

	assert.Equal(t, doc, o.Document())
}

func TestInvert_ReissuesInverseWithOriginal(t *testing.T) {
	o, err := seqBuilder().Move("img-1", Delta{X: 1, Y: 1})
	require.NoError(t, err)

	inv, err := o.Invert("undo-1", 42)
	require.NoError(t, err)
	assert.Equal(t, TypeMove, inv.Type)
	assert.Equal(t, "undo-1", inv.RequestID)
	assert.Equal(t, int64(42), inv.ClientTS)
	assert.Equal(t, Delta{X: -1, Y: -1}, *inv.Data.Delta)
	require.NotNil(t, inv.Inverse)
	assert.Equal(t, o.RequestID, inv.Inverse.RequestID)
	assert.Nil(t, inv.Inverse.Inverse, "inverses nest one level")
	assert.NoError(t, Validate(inv))

	*inv.Inverse.Data.Delta = Delta{}
	assert.Equal(t, Delta{X: 1, Y: 1}, *o.Data.Delta, "invert does not alias the original")
}

func TestReissue(t *testing.T) {
	o, err := Move("img-1", Delta{X: 1})
	require.NoError(t, err)
	r := o.Reissue("redo-1", 7)
	assert.Equal(t, "redo-1", r.RequestID)
	assert.Equal(t, o.Data, r.Data)
	assert.NotEqual(t, o.RequestID, r.RequestID)
}

func TestValidate(t *testing.T) {
	create, err := Create(image("img-1", 0, 0))
	require.NoError(t, err)
	move, err := Move("img-1", Delta{X: 1})
	require.NoError(t, err)

	noInverse := create
	noInverse.Inverse = nil

	wrongPair := move
	wrongPair.Inverse = create.Inverse

	updateNoPatch := Operation{Type: TypeUpdate, ElementID: "x", RequestID: "r", Inverse: &Operation{Type: TypeUpdate, ElementID: "x"}}
	moveNoDelta := Operation{Type: TypeMove, ElementID: "x", RequestID: "r"}
	unknownType := Operation{Type: "rotate", RequestID: "r"}
	metaConns := element.Patch{element.KeyMeta: value.Object{element.MetaKeyConnections: value.Array{}}}
	patchConns := Operation{
		Type: TypeUpdate, ElementID: "x", RequestID: "r",
		Data:    Data{Updates: metaConns},
		Inverse: &Operation{Type: TypeUpdate, ElementID: "x", Data: Data{Updates: element.Patch{element.KeyX: value.Int(0)}}},
	}

	tests := []struct {
		name string
		op   Operation
		code ErrorCode
	}{
		{"missing inverse", noInverse, ErrCodeMissingInverse},
		{"mismatched inverse", wrongPair, ErrCodeMalformed},
		{"update without updates", updateNoPatch, ErrCodeMalformed},
		{"move without delta", moveNoDelta, ErrCodeMalformed},
		{"unknown type", unknownType, ErrCodeMalformed},
		{"update of meta connections", patchConns, ErrCodeMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.op)
			var oe *Error
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, tt.code, oe.Code)
			assert.True(t, IsMalformed(err))
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	before := element.Element{ID: "gen-1", Kind: element.KindImageGenerator, Meta: element.GeneratorMeta{Prompt: "cat"}}
	o, err := seqBuilder().Update(before, element.Patch{element.KeyMeta: value.Object{"prompt": value.String("dog")}})
	require.NoError(t, err)

	data, err := json.Marshal(o)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, o, got)
}

func TestDecode_WireShape(t *testing.T) {
	raw := `{
		"type": "move",
		"elementId": "img-1",
		"data": {"delta": {"x": 10, "y": 20}},
		"inverse": {"type": "move", "elementId": "img-1", "data": {"delta": {"x": -10, "y": -20}}, "requestId": "r-inv", "clientTs": 1},
		"requestId": "r-1",
		"clientTs": 1
	}`
	o, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, Delta{X: 10, Y: 20}, *o.Data.Delta)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"missing request id", `{"type":"delete","elementId":"a","data":{},"inverse":{"type":"create","data":{"element":{"id":"a","type":"media-text","x":0,"y":0,"meta":{}}},"requestId":"i"}}`},
		{"unknown type", `{"type":"rotate","requestId":"r","data":{}}`},
		{"missing inverse", `{"type":"delete","elementId":"a","requestId":"r","data":{}}`},
		{"empty batch id", `{"type":"delete","elementIds":["a",""],"requestId":"r","data":{}}`},
		{"negative timestamp", `{"type":"snapshot","requestId":"r","clientTs":-1,"data":{"snapshot":true}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, IsMalformed(err))
		})
	}
}

func TestLooksLikeSnapshot(t *testing.T) {
	bare := Operation{Type: TypeCreate, Data: Data{Elements: map[string]element.Element{}}}
	assert.True(t, bare.LooksLikeSnapshot())
	assert.False(t, bare.IsSnapshot())

	withElement := bare
	e := image("a", 0, 0)
	withElement.Data.Element = &e
	assert.False(t, withElement.LooksLikeSnapshot())

	flagged := Operation{Type: TypeCreate, Data: Data{Snapshot: true}}
	assert.True(t, flagged.IsSnapshot())

	move, err := Move("a", Delta{})
	require.NoError(t, err)
	assert.False(t, move.LooksLikeSnapshot())
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Code: ErrCodeUnknownElement, Message: "element not found", RequestID: "r", ElementID: "e"}
	assert.Equal(t, "UNKNOWN_ELEMENT: element not found (request=r, element=e)", err.Error())
	assert.True(t, IsUnknownElement(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsMalformed(err))
}
