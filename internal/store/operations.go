package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/canvasync/internal/op"
	"github.com/roach88/canvasync/internal/value"
)

// AppendOperation inserts o into the project's op log and returns its
// sequence. Uses ON CONFLICT(project_id, request_id) DO NOTHING: a retried
// write returns the sequence of the original row.
//
// The operation is serialized to canonical JSON per RFC 8785.
func (s *Store) AppendOperation(ctx context.Context, projectID string, o op.Operation) (int64, error) {
	payload, err := value.Canonical(o)
	if err != nil {
		return 0, fmt.Errorf("append operation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append operation: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO operations
		(project_id, request_id, type, element_id, payload, payload_hash, client_ts, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, request_id) DO NOTHING
	`,
		projectID,
		o.RequestID,
		string(o.Type),
		o.ElementID,
		string(payload),
		value.HashBytes(value.DomainOperation, payload),
		o.ClientTS,
		s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("append operation: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("append operation: rows affected: %w", err)
	}

	var seq int64
	if rowsAffected > 0 {
		seq, err = result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("append operation: last insert id: %w", err)
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT seq FROM operations WHERE project_id = ? AND request_id = ?
		`, projectID, o.RequestID).Scan(&seq)
		if err != nil {
			return 0, fmt.Errorf("append operation: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append operation: commit: %w", err)
	}
	return seq, nil
}

// ReadOperations returns the project's operations with seq > afterSeq,
// ordered by seq. Returns an empty slice (not nil) when there are none.
func (s *Store) ReadOperations(ctx context.Context, projectID string, afterSeq int64) ([]op.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, payload, recorded_at
		FROM operations
		WHERE project_id = ? AND seq > ?
		ORDER BY seq ASC
	`, projectID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	records := []op.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		rec.ProjectID = projectID
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (op.Record, error) {
	var (
		rec        op.Record
		payload    string
		recordedAt int64
	)
	if err := rows.Scan(&rec.Seq, &payload, &recordedAt); err != nil {
		return op.Record{}, fmt.Errorf("scan operation: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &rec.Op); err != nil {
		return op.Record{}, fmt.Errorf("unmarshal operation %d: %w", rec.Seq, err)
	}
	rec.RecordedAt = time.UnixMilli(recordedAt).UTC()
	return rec, nil
}

// LatestSeq returns the highest sequence in the project's op log, or 0.
func (s *Store) LatestSeq(ctx context.Context, projectID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM operations WHERE project_id = ?
	`, projectID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return seq.Int64, nil
}

// Projects returns every project id known to the store, sorted.
func (s *Store) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id FROM operations
		UNION
		SELECT project_id FROM snapshots
		ORDER BY project_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}
