package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/highbeam/changeguard/internal/errs"
)

// Session is one AI-assisted working session.
type Session struct {
	ID             string
	StartedAt      time.Time
	EndedAt        time.Time // zero while the session is open
	EndedReason    string
	AITool         string
	ProjectPath    string
	Branch         string
	ChangedLines   int
	ViolationCount int
	FileCount      int
}

// Ended reports whether the session has been closed.
func (s *Session) Ended() bool { return !s.EndedAt.IsZero() }

// SessionFile is one modified path within a session.
type SessionFile struct {
	SessionID    string
	FilePath     string
	ChangedLines int
	FirstSeenAt  time.Time
}

// Scope restricts aggregate queries to a project and/or AI tool. The zero
// value matches every session.
type Scope struct {
	ProjectPath string `json:"projectPath,omitempty"`
	AITool      string `json:"aiTool,omitempty"`
}

func (sc Scope) empty() bool { return sc.ProjectPath == "" && sc.AITool == "" }

// sessionFilter returns a WHERE fragment over the sessions table aliased
// as alias, and its arguments.
func (sc Scope) sessionFilter(alias string) (string, []any) {
	clause := "1 = 1"
	var args []any
	if sc.ProjectPath != "" {
		clause += " AND " + alias + ".project_path = ?"
		args = append(args, sc.ProjectPath)
	}
	if sc.AITool != "" {
		clause += " AND " + alias + ".ai_tool = ?"
		args = append(args, sc.AITool)
	}
	return clause, args
}

// EnsureSession creates the session row if it does not exist. Blank
// metadata on an existing row is filled from s. It reports whether the row
// was created.
func (s *Store) EnsureSession(ctx context.Context, sess Session) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, ai_tool, project_path, branch)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sess.ID, formatTime(sess.StartedAt), sess.AITool, sess.ProjectPath, sess.Branch,
	)
	if err != nil {
		return false, errs.Storage("insert session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Storage("insert session", err)
	}
	if n == 1 {
		return true, nil
	}

	if sess.AITool != "" || sess.ProjectPath != "" || sess.Branch != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET
				ai_tool      = CASE WHEN ai_tool = '' THEN ? ELSE ai_tool END,
				project_path = CASE WHEN project_path = '' THEN ? ELSE project_path END,
				branch       = CASE WHEN branch = '' THEN ? ELSE branch END
			 WHERE id = ?`,
			sess.AITool, sess.ProjectPath, sess.Branch, sess.ID,
		)
		if err != nil {
			return false, errs.Storage("update session metadata", err)
		}
	}
	return false, nil
}

const sessionColumns = `s.id, s.started_at, s.ended_at, s.ended_reason, s.ai_tool, s.project_path,
	s.branch, s.changed_lines, s.violation_count,
	(SELECT COUNT(*) FROM session_files f WHERE f.session_id = s.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var started string
	var ended sql.NullString
	if err := row.Scan(&s.ID, &started, &ended, &s.EndedReason, &s.AITool, &s.ProjectPath,
		&s.Branch, &s.ChangedLines, &s.ViolationCount, &s.FileCount); err != nil {
		return nil, err
	}
	var err error
	if s.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if s.EndedAt, err = parseNullTime(ended); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSession returns the session with id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("session", id)
	}
	if err != nil {
		return nil, errs.Storage("get session", err)
	}
	return sess, nil
}

// EndSession closes an open session. Ending an already closed session
// keeps the original end time.
func (s *Store) EndSession(ctx context.Context, id, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, ended_reason = ? WHERE id = ? AND ended_at IS NULL`,
		formatTime(at), reason, id,
	)
	if err != nil {
		return errs.Storage("end session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RecordFileChange adds path to the session's modified set and adds
// deltaLines to both the file and the session totals.
func (s *Store) RecordFileChange(ctx context.Context, sessionID, path string, deltaLines int, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storage("begin file change", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET changed_lines = changed_lines + ? WHERE id = ?`, deltaLines, sessionID)
	if err != nil {
		return errs.Storage("update session lines", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("session", sessionID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO session_files (session_id, file_path, changed_lines, first_seen_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, file_path) DO UPDATE SET changed_lines = changed_lines + excluded.changed_lines`,
		sessionID, path, deltaLines, formatTime(at),
	)
	if err != nil {
		return errs.Storage("upsert session file", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.Storage("commit file change", err)
	}
	return nil
}

// IncrementViolations adds one to the session's violation count.
func (s *Store) IncrementViolations(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET violation_count = violation_count + 1 WHERE id = ?`, sessionID)
	if err != nil {
		return errs.Storage("increment violations", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("session", sessionID)
	}
	return nil
}

// SessionFiles lists the modified paths of a session in first-seen order.
func (s *Store) SessionFiles(ctx context.Context, sessionID string) ([]SessionFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, file_path, changed_lines, first_seen_at
		 FROM session_files WHERE session_id = ?
		 ORDER BY first_seen_at ASC, file_path ASC`, sessionID)
	if err != nil {
		return nil, errs.Storage("query session files", err)
	}
	defer rows.Close()

	var files []SessionFile
	for rows.Next() {
		var f SessionFile
		var seen string
		if err := rows.Scan(&f.SessionID, &f.FilePath, &f.ChangedLines, &seen); err != nil {
			return nil, errs.Storage("scan session file", err)
		}
		if f.FirstSeenAt, err = parseTime(seen); err != nil {
			return nil, errs.Storage("scan session file", err)
		}
		files = append(files, f)
	}
	return files, errs.Storage("iterate session files", rows.Err())
}

// ListSessions returns the sessions in scope, oldest first.
func (s *Store) ListSessions(ctx context.Context, scope Scope) ([]Session, error) {
	where, args := scope.sessionFilter("s")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions s WHERE `+where+` ORDER BY s.started_at ASC, s.id ASC`,
		args...)
	if err != nil {
		return nil, errs.Storage("list sessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, errs.Storage("scan session", err)
		}
		out = append(out, *sess)
	}
	return out, errs.Storage("iterate sessions", rows.Err())
}
