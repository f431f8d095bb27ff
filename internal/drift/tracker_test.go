package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/clock"
	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/learning"
	"github.com/highbeam/changeguard/internal/store"
)

var stdlib = []string{
	"bufio", "bytes", "context", "errors", "fmt", "io", "math", "net", "os", "path",
	"regexp", "sort", "strconv", "strings", "sync", "time", "unicode", "hash", "flag", "log",
}

// importsOnly returns a Go file whose only non-zero metric is n imports.
func importsOnly(n int) string {
	var b strings.Builder
	b.WriteString("package p\n\nimport (\n")
	for _, p := range stdlib[:n] {
		fmt.Fprintf(&b, "\t%q\n", p)
	}
	b.WriteString(")\n")
	return b.String()
}

type fixture struct {
	tracker *Tracker
	store   *store.Store
	clock   *clock.Manual
	dir     string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	clk := clock.NewManual(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	bridge := learning.NewBridge(s, clk, zap.NewNop())
	return &fixture{
		tracker: NewTracker(s, clk, bridge, zap.NewNop(), opts...),
		store:   s,
		clock:   clk,
		dir:     dir,
	}
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) analyze(t *testing.T, session, path string) *Report {
	t.Helper()
	f.clock.Advance(time.Minute)
	rep, err := f.tracker.Analyze(context.Background(), session, path)
	require.NoError(t, err)
	return rep
}

func TestAnalyze_EscalationIsStickyUntilCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := f.write(t, "a.go", importsOnly(10))
	rep := f.analyze(t, "s1", path)
	assert.Equal(t, 0.0, rep.Drift)
	assert.Equal(t, BandNormal, rep.Band)
	assert.False(t, rep.ReviewRequired)

	f.write(t, "a.go", importsOnly(12))
	rep = f.analyze(t, "s2", path)
	assert.Equal(t, 0.2, rep.Drift)
	assert.Equal(t, TrendAccelerating, rep.Trend)
	assert.Equal(t, 1, rep.ConsecutiveHigh)

	f.write(t, "a.go", importsOnly(14))
	rep = f.analyze(t, "s3", path)
	assert.Equal(t, 2, rep.ConsecutiveHigh)
	assert.False(t, rep.ReviewRequired)

	f.write(t, "a.go", importsOnly(16))
	rep = f.analyze(t, "s4", path)
	assert.Equal(t, 3, rep.ConsecutiveHigh)
	assert.True(t, rep.ReviewRequired)
	assert.True(t, rep.NewlyFlagged)
	assert.Len(t, rep.History, 4)

	// A calm session does not reset the flag.
	rep = f.analyze(t, "s5", path)
	assert.Equal(t, 0.0, rep.Drift)
	assert.Equal(t, TrendDecelerating, rep.Trend)
	assert.True(t, rep.ReviewRequired)
	assert.False(t, rep.NewlyFlagged)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.tracker.ClearReview(ctx, path))

	// Sessions before the clear no longer count toward a new run.
	f.write(t, "a.go", importsOnly(19))
	rep = f.analyze(t, "s6", path)
	assert.Equal(t, BandCritical, rep.Band)
	assert.Equal(t, 1, rep.ConsecutiveHigh)
	assert.False(t, rep.ReviewRequired)

	evs, err := f.store.SessionEvents(ctx, "s4", learning.KindDrift.String())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	var payload learning.Drift
	require.NoError(t, json.Unmarshal(evs[0].Payload, &payload))
	assert.True(t, payload.ReviewRequired)
	assert.Equal(t, "critical", payload.Band)
}

func TestAnalyze_WithinSessionUsesFirstSnapshot(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "b.go", importsOnly(5))

	f.analyze(t, "s1", path)
	f.write(t, "b.go", importsOnly(6))
	rep := f.analyze(t, "s1", path)

	assert.Equal(t, 0.2, rep.Drift)
	assert.Equal(t, 5, rep.Baseline.Imports)
	assert.Len(t, rep.History, 1)

	sess, err := f.store.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.FileCount)
}

func TestAnalyze_InterleavedSessionsUseStateBeforeTheirFirstSnapshot(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "d.go", importsOnly(10))

	f.analyze(t, "a", path)
	rep := f.analyze(t, "b", path)
	assert.Equal(t, 0.0, rep.Drift)
	assert.Equal(t, 10, rep.Baseline.Imports)

	f.write(t, "d.go", importsOnly(12))
	rep = f.analyze(t, "a", path)
	assert.Equal(t, 0.2, rep.Drift)
	assert.Equal(t, 10, rep.Baseline.Imports)
	require.Len(t, rep.History, 2)
	assert.Equal(t, "b", rep.History[0].SessionID)
	assert.Equal(t, 0.0, rep.History[0].Drift, "b made no change")
	assert.Equal(t, "a", rep.History[1].SessionID)
	assert.Equal(t, 0.0, rep.PreviousDrift)
	assert.Equal(t, 1, rep.ConsecutiveHigh)
}

func TestAnalyze_FirstSessionIsStable(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "e.go", importsOnly(5))
	f.analyze(t, "s1", path)
	f.write(t, "e.go", importsOnly(6))
	rep := f.analyze(t, "s1", path)
	assert.Equal(t, 0.2, rep.Drift)
	assert.Equal(t, TrendStable, rep.Trend)
}

func TestAnalyze_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.Analyze(ctx, "", "x.go")
	assert.True(t, errs.IsValidation(err))
	_, err = f.tracker.Analyze(ctx, "s1", "notes.md")
	assert.True(t, errs.IsValidation(err))
	_, err = f.tracker.Analyze(ctx, "s1", filepath.Join(f.dir, "missing.go"))
	assert.True(t, errs.IsNotFound(err))

	bad := f.write(t, "bad.go", "package p\nfunc {")
	_, err = f.tracker.Analyze(ctx, "s1", bad)
	assert.True(t, errs.IsValidation(err))

	assert.True(t, errs.IsNotFound(f.tracker.ClearReview(ctx, filepath.Join(f.dir, "never.go"))))
}

func TestAnalyze_GitBaseline(t *testing.T) {
	f := newFixture(t, WithGitBaseline(true))

	repo, err := gogit.PlainInit(f.dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	path := f.write(t, "c.go", importsOnly(10))
	_, err = wt.Add("c.go")
	require.NoError(t, err)
	_, err = wt.Commit("add c.go", &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	f.write(t, "c.go", importsOnly(12))
	rep := f.analyze(t, "s1", path)
	assert.Equal(t, 10, rep.Baseline.Imports)
	assert.Equal(t, 0.2, rep.Drift)
}
