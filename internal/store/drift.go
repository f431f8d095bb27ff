package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/highbeam/changeguard/internal/errs"
)

// Snapshot is an immutable record of one file's structural metrics at one
// moment of a session.
type Snapshot struct {
	ID            int64
	SessionID     string
	FilePath      string
	ObservedAt    time.Time
	Imports       int
	Types         int
	Functions     int
	ExternalDeps  int
	AvgComplexity float64
	ExportedNames []string
}

// InsertSnapshot appends snap and sets its ID.
func (s *Store) InsertSnapshot(ctx context.Context, snap *Snapshot) error {
	names := snap.ExportedNames
	if names == nil {
		names = []string{}
	}
	namesJSON, err := json.Marshal(names)
	if err != nil {
		return errs.Storage("encode exported names", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO drift_snapshots
			(session_id, file_path, observed_at, import_count, type_count, function_count,
			 external_dep_count, avg_complexity, exported_names)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SessionID, snap.FilePath, formatTime(snap.ObservedAt), snap.Imports, snap.Types,
		snap.Functions, snap.ExternalDeps, snap.AvgComplexity, string(namesJSON),
	)
	if err != nil {
		return errs.Storage("insert snapshot", err)
	}
	snap.ID, err = res.LastInsertId()
	return errs.Storage("insert snapshot", err)
}

// FileSnapshots returns every snapshot of path in observation order.
func (s *Store) FileSnapshots(ctx context.Context, path string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, file_path, observed_at, import_count, type_count, function_count,
		        external_dep_count, avg_complexity, exported_names
		 FROM drift_snapshots WHERE file_path = ?
		 ORDER BY observed_at ASC, id ASC`, path)
	if err != nil {
		return nil, errs.Storage("query snapshots", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var observed, names string
		if err := rows.Scan(&snap.ID, &snap.SessionID, &snap.FilePath, &observed, &snap.Imports,
			&snap.Types, &snap.Functions, &snap.ExternalDeps, &snap.AvgComplexity, &names); err != nil {
			return nil, errs.Storage("scan snapshot", err)
		}
		if snap.ObservedAt, err = parseTime(observed); err != nil {
			return nil, errs.Storage("scan snapshot", err)
		}
		if err := json.Unmarshal([]byte(names), &snap.ExportedNames); err != nil {
			return nil, errs.Storage("decode exported names", err)
		}
		out = append(out, snap)
	}
	return out, errs.Storage("iterate snapshots", rows.Err())
}

// Review is the sticky review flag of one file.
type Review struct {
	FilePath  string
	Required  bool
	FlaggedAt time.Time
	ClearedAt time.Time
	Reason    string
}

// GetReview returns the review state of path.
func (s *Store) GetReview(ctx context.Context, path string) (*Review, error) {
	var r Review
	var required int
	var flagged, cleared sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT file_path, review_required, flagged_at, cleared_at, reason
		 FROM drift_reviews WHERE file_path = ?`, path,
	).Scan(&r.FilePath, &required, &flagged, &cleared, &r.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("drift review", path)
	}
	if err != nil {
		return nil, errs.Storage("get review", err)
	}
	r.Required = required != 0
	if r.FlaggedAt, err = parseNullTime(flagged); err != nil {
		return nil, errs.Storage("get review", err)
	}
	if r.ClearedAt, err = parseNullTime(cleared); err != nil {
		return nil, errs.Storage("get review", err)
	}
	return &r, nil
}

// FlagReview sets the review flag on path. A file that is already flagged
// keeps its original flag time and reason.
func (s *Store) FlagReview(ctx context.Context, path, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO drift_reviews (file_path, review_required, flagged_at, reason)
		 VALUES (?, 1, ?, ?)
		 ON CONFLICT(file_path) DO UPDATE SET
			review_required = 1,
			flagged_at = CASE WHEN drift_reviews.review_required = 1 THEN drift_reviews.flagged_at ELSE excluded.flagged_at END,
			reason     = CASE WHEN drift_reviews.review_required = 1 THEN drift_reviews.reason ELSE excluded.reason END`,
		path, formatTime(at), reason,
	)
	return errs.Storage("flag review", err)
}

// ClearReview resets the review flag on path.
func (s *Store) ClearReview(ctx context.Context, path string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE drift_reviews SET review_required = 0, cleared_at = ? WHERE file_path = ?`,
		formatTime(at), path)
	if err != nil {
		return errs.Storage("clear review", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("drift review", path)
	}
	return nil
}
