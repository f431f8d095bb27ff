package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/highbeam/changeguard/internal/errs"
)

// BriefRecord is one persisted brief evaluation.
type BriefRecord struct {
	ID         int64
	SessionID  string
	Brief      json.RawMessage
	Score      float64
	Level      string
	RecordedAt time.Time
}

// InsertBrief appends rec and sets its ID.
func (s *Store) InsertBrief(ctx context.Context, rec *BriefRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO brief_records (session_id, brief, score, level, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		rec.SessionID, string(rec.Brief), rec.Score, rec.Level, formatTime(rec.RecordedAt),
	)
	if err != nil {
		return errs.Storage("insert brief", err)
	}
	rec.ID, err = res.LastInsertId()
	return errs.Storage("insert brief", err)
}

// BriefHistory lists the brief records of a session, oldest first.
func (s *Store) BriefHistory(ctx context.Context, sessionID string) ([]BriefRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, brief, score, level, recorded_at
		 FROM brief_records WHERE session_id = ?
		 ORDER BY recorded_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, errs.Storage("query briefs", err)
	}
	defer rows.Close()

	var out []BriefRecord
	for rows.Next() {
		var rec BriefRecord
		var brief, recorded string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &brief, &rec.Score, &rec.Level, &recorded); err != nil {
			return nil, errs.Storage("scan brief", err)
		}
		rec.Brief = json.RawMessage(brief)
		if rec.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, errs.Storage("scan brief", err)
		}
		out = append(out, rec)
	}
	return out, errs.Storage("iterate briefs", rows.Err())
}
