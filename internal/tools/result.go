package tools

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/store"
	"github.com/highbeam/changeguard/internal/telemetry"
	"github.com/highbeam/changeguard/internal/verdict"
)

// call tracks one tool invocation from argument validation to the
// recorded verdict.
type call struct {
	suite     *Suite
	tool      string
	sessionID string
	start     time.Time
}

func (s *Suite) begin(tool, sessionID string) *call {
	return &call{suite: s, tool: tool, sessionID: sessionID, start: time.Now()}
}

// done attaches the session context, when there is a session, and
// records the verdict.
func (c *call) done(ctx context.Context, res *verdict.Result) *verdict.Result {
	if c.sessionID != "" && res.SessionContext == nil {
		sc, err := c.suite.sessions.Context(ctx, c.sessionID)
		if err == nil {
			res.SessionContext = sc
		} else if !errs.IsNotFound(err) {
			c.suite.logger.Debug("session context unavailable",
				zap.String("session_id", c.sessionID), zap.Error(err))
		}
	}
	telemetry.ObserveVerdict(c.tool, res.Status.String(), time.Since(c.start))
	c.suite.logger.Debug("tool finished",
		zap.String("tool", c.tool),
		zap.Stringer("status", res.Status),
		zap.Int("findings", len(res.Findings)),
		zap.Duration("elapsed", time.Since(c.start)))
	return res
}

// fail converts err into a structured result.
func (c *call) fail(ctx context.Context, err error) *verdict.Result {
	level := zap.DebugLevel
	if !errs.IsValidation(err) && !errs.IsNotFound(err) && !errs.IsDegraded(err) {
		level = zap.WarnLevel
	}
	c.suite.logger.Log(level, "tool failed",
		zap.String("tool", c.tool),
		zap.String("session_id", c.sessionID),
		zap.Error(err))
	return c.done(ctx, verdict.FromError(c.tool, err))
}

// ensure creates the session row for analyzers that accept an optional
// session id.
func (c *call) ensure(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}
	return c.suite.sessions.Ensure(ctx, c.sessionID)
}

// sessionView is the JSON shape of a session row.
type sessionView struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	EndedReason   string     `json:"endedReason,omitempty"`
	AITool        string     `json:"aiTool,omitempty"`
	ProjectPath   string     `json:"projectPath,omitempty"`
	Branch        string     `json:"branch,omitempty"`
	FilesModified int        `json:"filesModified"`
	ChangedLines  int        `json:"changedLines"`
	Violations    int        `json:"violations"`
}

func viewSession(s *store.Session) sessionView {
	v := sessionView{
		ID:            s.ID,
		StartedAt:     s.StartedAt,
		EndedReason:   s.EndedReason,
		AITool:        s.AITool,
		ProjectPath:   s.ProjectPath,
		Branch:        s.Branch,
		FilesModified: s.FileCount,
		ChangedLines:  s.ChangedLines,
		Violations:    s.ViolationCount,
	}
	if s.Ended() {
		ended := s.EndedAt
		v.EndedAt = &ended
	}
	return v
}
