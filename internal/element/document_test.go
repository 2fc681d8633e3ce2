package element

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_OrderedUsesMetadataThenID(t *testing.T) {
	doc := NewDocument()
	for _, id := range []string{"a", "b", "c", "d"} {
		doc.Elements[id] = testImage(id, 0, 0)
	}
	doc.Metadata.Order = []string{"c", "a", "missing", "c"}

	var ids []string
	for _, e := range doc.Ordered() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids)
}

func TestDocument_UnmarshalFillsIDFromKey(t *testing.T) {
	raw := `{"elements":{"img-1":{"type":"media-image","x":1,"y":2,"meta":{"url":"u"}}},"metadata":{"version":"1"}}`

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	require.Contains(t, doc.Elements, "img-1")
	assert.Equal(t, "img-1", doc.Elements["img-1"].ID)
	assert.Equal(t, MediaMeta{URL: "u"}, doc.Elements["img-1"].Meta)
	assert.Equal(t, DocumentVersion, doc.Metadata.Version)
}

func TestDocument_RoundTrip(t *testing.T) {
	doc := NewDocument()
	doc.Elements["img-1"] = testImage("img-1", 1, 2)
	doc.Metadata.Order = []string{"img-1"}

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var got Document
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, doc, got)
}
