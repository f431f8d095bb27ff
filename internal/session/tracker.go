// Package session tracks AI-assisted working sessions and scores their
// entropy: how far a session has drifted into long, wide, error-prone
// territory.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/clock"
	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/gitint"
	"github.com/highbeam/changeguard/internal/store"
	"github.com/highbeam/changeguard/internal/verdict"
)

// Tracker creates and mutates sessions.
type Tracker struct {
	store  *store.Store
	clock  clock.Clock
	logger *zap.Logger
}

// NewTracker creates a Tracker.
func NewTracker(s *store.Store, c clock.Clock, logger *zap.Logger) *Tracker {
	return &Tracker{store: s, clock: c, logger: logger}
}

// Reading is one entropy computation.
type Reading struct {
	SessionID       string  `json:"sessionId"`
	Score           float64 `json:"score"`
	Level           Level   `json:"level"`
	Factors         Factors `json:"factors"`
	DurationMinutes float64 `json:"durationMinutes"`
	FilesModified   int     `json:"filesModified"`
	Violations      int     `json:"violations"`
	ChangedLines    int     `json:"changedLines"`
	Ended           bool    `json:"ended"`
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errs.Validation("sessionId", "must not be empty")
	}
	return nil
}

// Start opens a session. Starting an existing session is a no-op apart
// from filling blank metadata. The git branch of projectPath is recorded
// when it is a repository.
func (t *Tracker) Start(ctx context.Context, id, aiTool, projectPath string) (*store.Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	branch := ""
	if projectPath != "" {
		branch = gitint.BranchOf(projectPath)
	}
	created, err := t.store.EnsureSession(ctx, store.Session{
		ID:          id,
		StartedAt:   t.clock.Now(),
		AITool:      aiTool,
		ProjectPath: projectPath,
		Branch:      branch,
	})
	if err != nil {
		return nil, err
	}
	if created {
		t.logger.Info("session started",
			zap.String("session_id", id),
			zap.String("ai_tool", aiTool),
			zap.String("branch", branch))
	}
	return t.store.GetSession(ctx, id)
}

// Ensure creates the session row on first use by any analyzer.
func (t *Tracker) Ensure(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	_, err := t.store.EnsureSession(ctx, store.Session{ID: id, StartedAt: t.clock.Now()})
	return err
}

// End closes a session.
func (t *Tracker) End(ctx context.Context, id, reason string) (*store.Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "completed"
	}
	if err := t.store.EndSession(ctx, id, reason, t.clock.Now()); err != nil {
		return nil, err
	}
	return t.store.GetSession(ctx, id)
}

// Get returns a session.
func (t *Tracker) Get(ctx context.Context, id string) (*store.Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return t.store.GetSession(ctx, id)
}

// RecordFileChange adds path to the session's modified set and
// deltaLines to its changed-line total.
func (t *Tracker) RecordFileChange(ctx context.Context, id, path string, deltaLines int) error {
	if err := validateID(id); err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return errs.Validation("filePath", "must not be empty")
	}
	if deltaLines < 0 {
		return errs.Validation("deltaLines", "must be non-negative, got %d", deltaLines)
	}
	if err := t.Ensure(ctx, id); err != nil {
		return err
	}
	return t.store.RecordFileChange(ctx, id, path, deltaLines, t.clock.Now())
}

// RecordViolation increments the session's violation count.
func (t *Tracker) RecordViolation(ctx context.Context, id string) error {
	if err := t.Ensure(ctx, id); err != nil {
		return err
	}
	return t.store.IncrementViolations(ctx, id)
}

// Entropy computes the current entropy of a session. Unknown ids return
// errs.NotFoundError.
func (t *Tracker) Entropy(ctx context.Context, id string) (*Reading, error) {
	sess, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.reading(sess), nil
}

// List computes a reading for every session in scope, oldest first.
func (t *Tracker) List(ctx context.Context, scope store.Scope) ([]*Reading, error) {
	sessions, err := t.store.ListSessions(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]*Reading, 0, len(sessions))
	for i := range sessions {
		out = append(out, t.reading(&sessions[i]))
	}
	return out, nil
}

func (t *Tracker) reading(sess *store.Session) *Reading {
	end := t.clock.Now()
	if sess.Ended() {
		end = sess.EndedAt
	}
	dur := end.Sub(sess.StartedAt)
	if dur < 0 {
		dur = 0
	}
	score, factors := Score(Inputs{
		Duration:     dur,
		Files:        sess.FileCount,
		Violations:   sess.ViolationCount,
		ChangedLines: sess.ChangedLines,
	})
	return &Reading{
		SessionID:       sess.ID,
		Score:           score,
		Level:           LevelFor(score),
		Factors:         factors,
		DurationMinutes: roundMinutes(dur),
		FilesModified:   sess.FileCount,
		Violations:      sess.ViolationCount,
		ChangedLines:    sess.ChangedLines,
		Ended:           sess.Ended(),
	}
}

// Context returns the session block attached to every result.
func (t *Tracker) Context(ctx context.Context, id string) (*verdict.SessionContext, error) {
	r, err := t.Entropy(ctx, id)
	if err != nil {
		return nil, err
	}
	return &verdict.SessionContext{
		DurationMinutes: r.DurationMinutes,
		EntropyScore:    r.Score,
		FilesModified:   r.FilesModified,
	}, nil
}

// Summary describes a reading in one line.
func (r *Reading) Summary() string {
	return fmt.Sprintf("session %s entropy %.2f (%s): %.0f min, %d files, %d violations, %d lines",
		r.SessionID, r.Score, r.Level, r.DurationMinutes, r.FilesModified, r.Violations, r.ChangedLines)
}

func roundMinutes(d time.Duration) float64 {
	return float64(int64(d.Minutes()*10)) / 10
}
