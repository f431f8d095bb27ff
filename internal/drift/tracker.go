package drift

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/clock"
	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/gitint"
	"github.com/highbeam/changeguard/internal/gomod"
	"github.com/highbeam/changeguard/internal/learning"
	"github.com/highbeam/changeguard/internal/store"
)

// Tracker snapshots files and evaluates their drift history.
type Tracker struct {
	store  *store.Store
	clock  clock.Clock
	bridge *learning.Bridge
	logger *zap.Logger

	// gitBaseline seeds a file's first snapshot from its HEAD version.
	gitBaseline bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithGitBaseline enables seeding a file's first snapshot from the version
// committed at HEAD, so that the first session of a tracked file reports
// drift against the repository instead of against itself.
func WithGitBaseline(enabled bool) Option {
	return func(t *Tracker) { t.gitBaseline = enabled }
}

// NewTracker creates a Tracker.
func NewTracker(s *store.Store, c clock.Clock, bridge *learning.Bridge, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{store: s, clock: c, bridge: bridge, logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SessionDrift is the drift a file accumulated within one session.
type SessionDrift struct {
	SessionID string    `json:"sessionId"`
	Drift     float64   `json:"drift"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Report is the outcome of one drift check.
type Report struct {
	SessionID       string         `json:"sessionId"`
	FilePath        string         `json:"filePath"`
	Metrics         Metrics        `json:"metrics"`
	Baseline        Metrics        `json:"baseline"`
	Drift           float64        `json:"drift"`
	Velocity        float64        `json:"velocity"`
	PreviousDrift   float64        `json:"previousDrift"`
	Trend           Trend          `json:"trend"`
	Band            Band           `json:"band"`
	History         []SessionDrift `json:"history"`
	ConsecutiveHigh int            `json:"consecutiveHigh"`
	ReviewRequired  bool           `json:"reviewRequired"`
	NewlyFlagged    bool           `json:"newlyFlagged"`
	AddedNames      []string       `json:"addedNames,omitempty"`
	RemovedNames    []string       `json:"removedNames,omitempty"`
}

// Snapshot reads and measures the Go file at path.
func Snapshot(path string) (Metrics, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Metrics{}, errs.NotFound("file", path)
		}
		return Metrics{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(path, src, modulePathFor(path))
}

func modulePathFor(path string) string {
	m, err := gomod.Find(filepath.Dir(path))
	if err != nil {
		return ""
	}
	return m.Path
}

func validate(sessionID, path string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errs.Validation("sessionId", "must not be empty")
	}
	if strings.TrimSpace(path) == "" {
		return errs.Validation("filePath", "must not be empty")
	}
	if filepath.Ext(path) != ".go" {
		return errs.Validation("filePath", "structural metrics are computed for Go files only, got %q", filepath.Ext(path))
	}
	return nil
}

// Analyze snapshots path for sessionID, persists the snapshot, records the
// file as modified and evaluates velocity, band and escalation.
func (t *Tracker) Analyze(ctx context.Context, sessionID, path string) (*Report, error) {
	if err := validate(sessionID, path); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errs.Validation("filePath", "%v", err)
	}

	metrics, err := Snapshot(abs)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, err
		}
		return nil, errs.Validation("filePath", "%v", err)
	}

	now := t.clock.Now()
	if _, err := t.store.EnsureSession(ctx, store.Session{ID: sessionID, StartedAt: now}); err != nil {
		return nil, err
	}
	if err := t.store.RecordFileChange(ctx, sessionID, abs, 0, now); err != nil {
		return nil, err
	}

	existing, err := t.store.FileSnapshots(ctx, abs)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 && t.gitBaseline {
		t.seedFromHead(ctx, sessionID, abs, now)
	}

	snap := toSnapshot(metrics, sessionID, abs, now)
	if err := t.store.InsertSnapshot(ctx, &snap); err != nil {
		return nil, err
	}

	all, err := t.store.FileSnapshots(ctx, abs)
	if err != nil {
		return nil, err
	}
	history, baseline := sessionHistory(all, sessionID)

	drifts := make([]float64, len(history))
	for i, h := range history {
		drifts[i] = h.Drift
	}
	velocity, trend := Velocity(drifts)

	rep := &Report{
		SessionID: sessionID,
		FilePath:  abs,
		Metrics:   metrics,
		Baseline:  fromSnapshot(baseline),
		Drift:     velocity,
		Velocity:  velocity,
		Trend:     trend,
		Band:      BandFor(velocity),
		History:   history,
	}
	if len(drifts) > 1 {
		rep.PreviousDrift = drifts[len(drifts)-2]
	}
	rep.AddedNames, rep.RemovedNames = NameChanges(rep.Baseline.ExportedNames, metrics.ExportedNames)

	if err := t.escalate(ctx, rep, now); err != nil {
		return nil, err
	}

	t.bridge.RecordSafe(ctx, sessionID, learning.Drift{
		FilePath:       abs,
		Drift:          rep.Drift,
		Velocity:       rep.Velocity,
		Trend:          rep.Trend.String(),
		Band:           rep.Band.String(),
		ReviewRequired: rep.ReviewRequired,
	})
	return rep, nil
}

// seedFromHead inserts the HEAD version of path as the first snapshot.
// Any failure leaves the file without a git baseline.
func (t *Tracker) seedFromHead(ctx context.Context, sessionID, path string, now time.Time) {
	repo, err := gitint.Open(filepath.Dir(path))
	if err != nil {
		return
	}
	src, err := repo.HeadFileContent(path)
	if err != nil {
		if !errors.Is(err, gitint.ErrNotTracked) {
			t.logger.Debug("git baseline unavailable", zap.String("file", path), zap.Error(err))
		}
		return
	}
	m, err := Parse(path, src, modulePathFor(path))
	if err != nil {
		return
	}
	base := toSnapshot(m, sessionID, path, now.Add(-time.Nanosecond))
	if err := t.store.InsertSnapshot(ctx, &base); err != nil {
		t.logger.Warn("git baseline not stored", zap.String("file", path), zap.Error(err))
	}
}

// escalate applies the sticky review rule. Sessions that ended before the
// last clear do not count toward a new run.
func (t *Tracker) escalate(ctx context.Context, rep *Report, now time.Time) error {
	review, err := t.store.GetReview(ctx, rep.FilePath)
	if err != nil && !errs.IsNotFound(err) {
		return err
	}

	var counted []float64
	for _, h := range rep.History {
		if review != nil && !review.ClearedAt.IsZero() && !h.LastSeen.After(review.ClearedAt) {
			continue
		}
		counted = append(counted, h.Drift)
	}
	rep.ConsecutiveHigh = TrailingHigh(counted)

	if review != nil && review.Required {
		rep.ReviewRequired = true
		return nil
	}
	if rep.ConsecutiveHigh < escalationRun {
		return nil
	}

	reason := fmt.Sprintf("%d consecutive sessions with drift above %.0f%%", rep.ConsecutiveHigh, escalationThreshold*100)
	if err := t.store.FlagReview(ctx, rep.FilePath, reason, now); err != nil {
		return err
	}
	rep.ReviewRequired = true
	rep.NewlyFlagged = true
	t.logger.Info("drift review required",
		zap.String("file", rep.FilePath),
		zap.Int("sessions", rep.ConsecutiveHigh))
	return nil
}

// ClearReview resets the review flag of path.
func (t *Tracker) ClearReview(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		return errs.Validation("filePath", "must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errs.Validation("filePath", "%v", err)
	}
	return t.store.ClearReview(ctx, abs, t.clock.Now())
}

// sessionHistory groups time-ordered snapshots by session in order of first
// appearance and computes each session's drift: from the file state just
// before the session's first snapshot (whichever session took it, or the
// session's own first snapshot when none precedes it) to the session's last
// snapshot. Interleaved sessions therefore never measure against a state
// that already contains their own edits. It also returns the baseline used
// for current.
func sessionHistory(snaps []store.Snapshot, current string) ([]SessionDrift, store.Snapshot) {
	type group struct {
		id   string
		base store.Snapshot
		last store.Snapshot
	}
	var groups []*group
	index := make(map[string]*group)
	for i, s := range snaps {
		g, ok := index[s.SessionID]
		if !ok {
			g = &group{id: s.SessionID, base: s}
			if i > 0 {
				g.base = snaps[i-1]
			}
			index[s.SessionID] = g
			groups = append(groups, g)
		}
		g.last = s
	}

	var history []SessionDrift
	var baseline store.Snapshot
	for _, g := range groups {
		history = append(history, SessionDrift{
			SessionID: g.id,
			Drift:     Drift(fromSnapshot(g.base), fromSnapshot(g.last)),
			LastSeen:  g.last.ObservedAt,
		})
		if g.id == current {
			baseline = g.base
		}
	}

	// The current session is always the latest point of the series.
	if n := len(groups); n > 0 && groups[n-1].id != current {
		for i, h := range history {
			if h.SessionID == current {
				cur := history[i]
				history = append(append(history[:i:i], history[i+1:]...), cur)
				break
			}
		}
	}
	return history, baseline
}

func toSnapshot(m Metrics, sessionID, path string, at time.Time) store.Snapshot {
	return store.Snapshot{
		SessionID:     sessionID,
		FilePath:      path,
		ObservedAt:    at,
		Imports:       m.Imports,
		Types:         m.Types,
		Functions:     m.Functions,
		ExternalDeps:  m.ExternalDeps,
		AvgComplexity: m.AvgComplexity,
		ExportedNames: m.ExportedNames,
	}
}

func fromSnapshot(s store.Snapshot) Metrics {
	return Metrics{
		Imports:       s.Imports,
		Types:         s.Types,
		Functions:     s.Functions,
		ExternalDeps:  s.ExternalDeps,
		AvgComplexity: s.AvgComplexity,
		ExportedNames: s.ExportedNames,
	}
}
