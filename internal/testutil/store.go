package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/op"
)

// MemoryStore is an in-memory op log and snapshot store. Operations and
// documents are stored JSON-encoded so reads exercise the wire codecs.
//
// Thread-safety: safe for concurrent use.
type MemoryStore struct {
	mu        sync.Mutex
	ops       map[string][][]byte
	seqs      map[string][]int64
	requests  map[string]map[string]int64
	snapshots map[string][]byte
	nextSeq   int64

	appendErr   error
	snapshotErr error
	writes      int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ops:       make(map[string][][]byte),
		seqs:      make(map[string][]int64),
		requests:  make(map[string]map[string]int64),
		snapshots: make(map[string][]byte),
	}
}

// FailAppends makes every AppendOperation return err until cleared with nil.
func (s *MemoryStore) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// FailSnapshots makes snapshot reads and writes return err until cleared.
func (s *MemoryStore) FailSnapshots(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotErr = err
}

// AppendOperation stores o and returns its sequence. A repeated request id
// returns the original sequence without storing again.
func (s *MemoryStore) AppendOperation(ctx context.Context, projectID string, o op.Operation) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	if seq, ok := s.requests[projectID][o.RequestID]; ok {
		return seq, nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return 0, fmt.Errorf("marshal operation: %w", err)
	}
	s.nextSeq++
	s.ops[projectID] = append(s.ops[projectID], data)
	s.seqs[projectID] = append(s.seqs[projectID], s.nextSeq)
	if s.requests[projectID] == nil {
		s.requests[projectID] = make(map[string]int64)
	}
	s.requests[projectID][o.RequestID] = s.nextSeq
	return s.nextSeq, nil
}

// ReadOperations returns the project's operations after afterSeq in order.
func (s *MemoryStore) ReadOperations(ctx context.Context, projectID string, afterSeq int64) ([]op.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []op.Record
	for i, data := range s.ops[projectID] {
		seq := s.seqs[projectID][i]
		if seq <= afterSeq {
			continue
		}
		var o op.Operation
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("unmarshal operation %d: %w", seq, err)
		}
		out = append(out, op.Record{Seq: seq, ProjectID: projectID, Op: o})
	}
	return out, nil
}

// CurrentSnapshot returns the stored document or element.ErrNoDocument.
func (s *MemoryStore) CurrentSnapshot(ctx context.Context, projectID string) (element.Document, error) {
	if err := ctx.Err(); err != nil {
		return element.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotErr != nil {
		return element.Document{}, s.snapshotErr
	}
	data, ok := s.snapshots[projectID]
	if !ok {
		return element.Document{}, element.ErrNoDocument
	}
	var doc element.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return element.Document{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return doc, nil
}

// SetCurrentSnapshot replaces the stored document.
func (s *MemoryStore) SetCurrentSnapshot(ctx context.Context, projectID string, doc element.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotErr != nil {
		return s.snapshotErr
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	s.snapshots[projectID] = data
	s.writes++
	return nil
}

// SnapshotWrites returns how many snapshot writes succeeded.
func (s *MemoryStore) SnapshotWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// OperationCount returns the number of stored operations for projectID.
func (s *MemoryStore) OperationCount(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops[projectID])
}
