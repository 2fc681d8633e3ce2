package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/op"
)

var fixedNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a temporary store that is closed when the test ends.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testImage(id string, x, y float64) element.Element {
	return element.Element{
		ID:   id,
		Kind: element.KindImage,
		X:    x,
		Y:    y,
		Meta: element.MediaMeta{URL: "https://cdn.example.com/" + id + ".png"},
	}
}

func createOp(reqID string, e element.Element) op.Operation {
	return op.Operation{
		Type:      op.TypeCreate,
		ElementID: e.ID,
		Data:      op.Data{Element: &e},
		RequestID: reqID,
		ClientTS:  1700000000000,
		Inverse: &op.Operation{
			Type:      op.TypeDelete,
			ElementID: e.ID,
			RequestID: reqID + "-inv",
			ClientTS:  1700000000000,
		},
	}
}
