package store

import (
	"context"
	"database/sql"

	"github.com/highbeam/changeguard/internal/errs"
)

// Aggregations read only sessions and learning_events so that a profile
// can always be rebuilt from the event log.

// eventFilter returns an AND-fragment restricting learning_events aliased
// as e to the sessions in scope.
func (sc Scope) eventFilter() (string, []any) {
	if sc.empty() {
		return "", nil
	}
	where, args := sc.sessionFilter("s")
	return " AND e.session_id IN (SELECT s.id FROM sessions s WHERE " + where + ")", args
}

// CountSessions returns the number of sessions in scope.
func (s *Store) CountSessions(ctx context.Context, scope Scope) (int, error) {
	where, args := scope.sessionFilter("s")
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions s WHERE `+where, args...).Scan(&n); err != nil {
		return 0, errs.Storage("count sessions", err)
	}
	return n, nil
}

// AverageBriefScore returns the mean brief score over brief_score events
// and the number of events averaged.
func (s *Store) AverageBriefScore(ctx context.Context, scope Scope) (float64, int, error) {
	filter, args := scope.eventFilter()
	var avg sql.NullFloat64
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(json_extract(e.payload, '$.score')), COUNT(*)
		 FROM learning_events e WHERE e.kind = 'brief_score'`+filter, args...,
	).Scan(&avg, &n)
	if err != nil {
		return 0, 0, errs.Storage("average brief score", err)
	}
	return avg.Float64, n, nil
}

// ViolationCount is how often one guard or rule fired.
type ViolationCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TopViolations returns the most frequent violation identifiers.
func (s *Store) TopViolations(ctx context.Context, scope Scope, limit int) ([]ViolationCount, error) {
	filter, args := scope.eventFilter()
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT json_extract(e.payload, '$.guardName') AS name, COUNT(*) AS n
		 FROM learning_events e
		 WHERE e.kind = 'violation'`+filter+`
		 GROUP BY name
		 ORDER BY n DESC, name ASC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, errs.Storage("top violations", err)
	}
	defer rows.Close()

	var out []ViolationCount
	for rows.Next() {
		var vc ViolationCount
		var name sql.NullString
		if err := rows.Scan(&name, &vc.Count); err != nil {
			return nil, errs.Storage("scan violation count", err)
		}
		vc.Name = name.String
		out = append(out, vc)
	}
	return out, errs.Storage("iterate violation counts", rows.Err())
}

// HallucinationCounts returns how many import checks were flagged
// (hallucinated or possible typosquat) out of all recorded checks.
func (s *Store) HallucinationCounts(ctx context.Context, scope Scope) (flagged, total int, err error) {
	filter, args := scope.eventFilter()
	err = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN json_extract(e.payload, '$.verdict') IN ('hallucinated', 'possible_typosquat') THEN 1 ELSE 0 END), 0),
			COUNT(*)
		 FROM learning_events e WHERE e.kind = 'hallucination'`+filter, args...,
	).Scan(&flagged, &total)
	if err != nil {
		return 0, 0, errs.Storage("hallucination counts", err)
	}
	return flagged, total, nil
}

// Hotspot is a file whose drift left the normal band repeatedly.
type Hotspot struct {
	FilePath string  `json:"filePath"`
	Flagged  int     `json:"flagged"`
	MaxDrift float64 `json:"maxDrift"`
}

// DriftHotspots returns files flagged with non-normal drift in at least
// minCount distinct sessions, most frequent first. Flagged counts sessions.
func (s *Store) DriftHotspots(ctx context.Context, scope Scope, minCount, limit int) ([]Hotspot, error) {
	filter, args := scope.eventFilter()
	args = append(args, minCount, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT json_extract(e.payload, '$.filePath') AS path, COUNT(DISTINCT e.session_id) AS n,
		        MAX(json_extract(e.payload, '$.drift'))
		 FROM learning_events e
		 WHERE e.kind = 'drift' AND json_extract(e.payload, '$.band') != 'normal'`+filter+`
		 GROUP BY path
		 HAVING n >= ?
		 ORDER BY n DESC, path ASC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, errs.Storage("drift hotspots", err)
	}
	defer rows.Close()

	var out []Hotspot
	for rows.Next() {
		var h Hotspot
		var path sql.NullString
		var maxDrift sql.NullFloat64
		if err := rows.Scan(&path, &h.Flagged, &maxDrift); err != nil {
			return nil, errs.Storage("scan hotspot", err)
		}
		h.FilePath = path.String
		h.MaxDrift = maxDrift.Float64
		out = append(out, h)
	}
	return out, errs.Storage("iterate hotspots", rows.Err())
}

// SessionQuality holds the per-session inputs of the improvement rate.
// Pointer fields are nil when the session recorded no event of that kind.
type SessionQuality struct {
	SessionID           string
	BriefScore          *float64
	Violations          int
	Hallucinations      int
	HallucinationChecks int
	AvgDrift            *float64
}

// SessionQualities returns one row per session in scope, oldest first.
func (s *Store) SessionQualities(ctx context.Context, scope Scope) ([]SessionQuality, error) {
	where, args := scope.sessionFilter("s")
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id,
			(SELECT AVG(json_extract(e.payload, '$.score')) FROM learning_events e
			  WHERE e.session_id = s.id AND e.kind = 'brief_score'),
			(SELECT COUNT(*) FROM learning_events e
			  WHERE e.session_id = s.id AND e.kind = 'violation'),
			(SELECT COUNT(*) FROM learning_events e
			  WHERE e.session_id = s.id AND e.kind = 'hallucination'
			    AND json_extract(e.payload, '$.verdict') IN ('hallucinated', 'possible_typosquat')),
			(SELECT COUNT(*) FROM learning_events e
			  WHERE e.session_id = s.id AND e.kind = 'hallucination'),
			(SELECT AVG(json_extract(e.payload, '$.drift')) FROM learning_events e
			  WHERE e.session_id = s.id AND e.kind = 'drift')
		 FROM sessions s
		 WHERE `+where+`
		 ORDER BY s.started_at ASC, s.id ASC`, args...)
	if err != nil {
		return nil, errs.Storage("session qualities", err)
	}
	defer rows.Close()

	var out []SessionQuality
	for rows.Next() {
		var q SessionQuality
		var brief, drift sql.NullFloat64
		if err := rows.Scan(&q.SessionID, &brief, &q.Violations, &q.Hallucinations,
			&q.HallucinationChecks, &drift); err != nil {
			return nil, errs.Storage("scan session quality", err)
		}
		if brief.Valid {
			v := brief.Float64
			q.BriefScore = &v
		}
		if drift.Valid {
			v := drift.Float64
			q.AvgDrift = &v
		}
		out = append(out, q)
	}
	return out, errs.Storage("iterate session qualities", rows.Err())
}
