package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/value"
)

// SnapshotInfo describes the stored snapshot of a project.
type SnapshotInfo struct {
	ProjectID   string
	ContentHash string
	OpSeq       int64
	Size        int
	UpdatedAt   time.Time
}

// CurrentSnapshot returns the project's latest document, or
// element.ErrNoDocument if none has been written.
func (s *Store) CurrentSnapshot(ctx context.Context, projectID string) (element.Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT document FROM snapshots WHERE project_id = ?
	`, projectID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return element.Document{}, element.ErrNoDocument
	}
	if err != nil {
		return element.Document{}, fmt.Errorf("read snapshot: %w", err)
	}

	var doc element.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return element.Document{}, fmt.Errorf("read snapshot: unmarshal: %w", err)
	}
	return doc, nil
}

// SetCurrentSnapshot replaces the project's document. The document is
// stored as canonical JSON together with its content hash.
func (s *Store) SetCurrentSnapshot(ctx context.Context, projectID string, doc element.Document) error {
	data, err := value.Canonical(doc)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (project_id, document, content_hash, op_seq, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			document = excluded.document,
			content_hash = excluded.content_hash,
			op_seq = excluded.op_seq,
			updated_at = excluded.updated_at
	`,
		projectID,
		string(data),
		value.HashBytes(value.DomainSnapshot, data),
		doc.Metadata.Seq,
		s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Snapshot returns metadata about the project's stored snapshot, or
// element.ErrNoDocument.
func (s *Store) Snapshot(ctx context.Context, projectID string) (SnapshotInfo, error) {
	info := SnapshotInfo{ProjectID: projectID}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, op_seq, LENGTH(document), updated_at
		FROM snapshots WHERE project_id = ?
	`, projectID).Scan(&info.ContentHash, &info.OpSeq, &info.Size, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotInfo{}, element.ErrNoDocument
	}
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot info: %w", err)
	}
	info.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return info, nil
}
