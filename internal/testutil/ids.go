package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/canvasync/internal/op"
)

// SequentialIDs generates "<prefix>-0001", "<prefix>-0002", ...
//
// Thread-safety: safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix becomes "req".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "req"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Builder returns an op.Builder with sequential request ids and
// deterministic timestamps.
func Builder(prefix string) op.Builder {
	ids := NewSequentialIDs(prefix)
	clock := NewDeterministicClock()
	return op.Builder{NewID: ids.Generate, Now: clock.Now}
}
