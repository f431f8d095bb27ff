package learning

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/clock"
	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/store"
	"github.com/highbeam/changeguard/internal/telemetry"
	"github.com/highbeam/changeguard/internal/verdict"
)

// Bridge appends learning events on behalf of the analyzers. Recording
// is best-effort: an analyzer result never depends on it.
type Bridge struct {
	store  *store.Store
	clock  clock.Clock
	logger *zap.Logger
}

// NewBridge creates a Bridge.
func NewBridge(s *store.Store, c clock.Clock, logger *zap.Logger) *Bridge {
	return &Bridge{store: s, clock: c, logger: logger}
}

// RecordSafe appends one event. Failures are logged and counted, never
// returned.
func (b *Bridge) RecordSafe(ctx context.Context, sessionID string, p Payload) {
	if b == nil {
		return
	}
	if err := b.record(ctx, sessionID, p); err != nil {
		telemetry.LearningDrop(p.Kind().String())
		b.logger.Warn("learning event dropped",
			zap.String("session_id", sessionID),
			zap.Stringer("kind", p.Kind()),
			zap.Error(err))
	}
}

func (b *Bridge) record(ctx context.Context, sessionID string, p Payload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return b.store.InsertEvent(ctx, store.Event{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Kind:       p.Kind().String(),
		Payload:    payload,
		RecordedAt: b.clock.Now(),
	})
}

// UpstreamFinding is a finding produced outside this module, by a lint
// check, secret scanner or static-analysis adapter.
type UpstreamFinding struct {
	GuardOrRuleID string
	Severity      string
	FilePath      string
	Message       string
}

// RecordFinding forwards an upstream finding as a violation event and
// increments the session's violation count. The count is the caller's
// state and its errors are returned; the event is best-effort.
func (b *Bridge) RecordFinding(ctx context.Context, sessionID string, f UpstreamFinding) (verdict.Severity, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, errs.Validation("sessionId", "must not be empty")
	}
	if strings.TrimSpace(f.GuardOrRuleID) == "" {
		return 0, errs.Validation("guardOrRuleId", "must not be empty")
	}
	sev, err := verdict.ParseSeverity(f.Severity)
	if err != nil {
		return 0, errs.Validation("severity", "%v", err)
	}

	if _, err := b.store.EnsureSession(ctx, store.Session{ID: sessionID, StartedAt: b.clock.Now()}); err != nil {
		return 0, err
	}
	if err := b.store.IncrementViolations(ctx, sessionID); err != nil {
		return 0, err
	}

	b.RecordSafe(ctx, sessionID, Violation{
		GuardName: f.GuardOrRuleID,
		Severity:  sev.String(),
		FilePath:  f.FilePath,
		Message:   f.Message,
	})
	return sev, nil
}
