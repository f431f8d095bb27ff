package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/highbeam/changeguard/internal/errs"
)

// Event is one append-only learning event. Payload is the JSON encoding of
// the kind-specific payload struct.
type Event struct {
	ID         string
	SessionID  string
	Kind       string
	Payload    json.RawMessage
	RecordedAt time.Time
}

// InsertEvent appends ev.
func (s *Store) InsertEvent(ctx context.Context, ev Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learning_events (id, session_id, kind, payload, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.Kind, string(ev.Payload), formatTime(ev.RecordedAt),
	)
	return errs.Storage("insert event", err)
}

// SessionEvents lists a session's events, oldest first. An empty kind
// matches every kind.
func (s *Store) SessionEvents(ctx context.Context, sessionID, kind string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, payload, recorded_at
		 FROM learning_events
		 WHERE session_id = ? AND (? = '' OR kind = ?)
		 ORDER BY recorded_at ASC, rowid ASC`, sessionID, kind, kind)
	if err != nil {
		return nil, errs.Storage("query events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var payload, recorded string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &payload, &recorded); err != nil {
			return nil, errs.Storage("scan event", err)
		}
		ev.Payload = json.RawMessage(payload)
		if ev.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, errs.Storage("scan event", err)
		}
		out = append(out, ev)
	}
	return out, errs.Storage("iterate events", rows.Err())
}
