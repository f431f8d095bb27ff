package report

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/clock"
	"github.com/highbeam/changeguard/internal/ipc"
	"github.com/highbeam/changeguard/internal/learning"
	"github.com/highbeam/changeguard/internal/session"
	"github.com/highbeam/changeguard/internal/store"
	"github.com/highbeam/changeguard/internal/verdict"
)

var baseTime = time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) (*store.Store, *clock.Manual) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clk := clock.NewManual(baseTime)
	ctx := context.Background()
	tr := session.NewTracker(s, clk, zap.NewNop())
	bridge := learning.NewBridge(s, clk, zap.NewNop())

	_, err = tr.Start(ctx, "older", "claude", "")
	require.NoError(t, err)
	require.NoError(t, tr.RecordFileChange(ctx, "older", "main.go", 40))
	for i := 0; i < 3; i++ {
		_, err = bridge.RecordFinding(ctx, "older", learning.UpstreamFinding{GuardOrRuleID: "no-panics", Severity: "high"})
		require.NoError(t, err)
	}
	clk.Advance(30 * time.Minute)
	_, err = tr.End(ctx, "older", "done")
	require.NoError(t, err)

	_, err = tr.Start(ctx, "newer", "claude", "")
	require.NoError(t, err)
	clk.Advance(15 * time.Minute)
	return s, clk
}

func TestGenerateFromStore(t *testing.T) {
	s, clk := seededStore(t)

	r, err := GenerateFromStore(context.Background(), s, clk, store.Scope{}, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Profile.SessionCount)
	require.NotEmpty(t, r.Profile.TopViolations)
	assert.Equal(t, "no-panics", r.Profile.TopViolations[0].Name)
	assert.Equal(t, 3, r.Profile.TopViolations[0].Count)

	require.Len(t, r.Sessions, 2)
	assert.Equal(t, "newer", r.Sessions[0].SessionID, "newest first")
	assert.False(t, r.Sessions[0].Ended)
	assert.Equal(t, 15.0, r.Sessions[0].DurationMinutes)
	assert.Equal(t, 3, r.Sessions[1].Violations)
}

func TestFormatter_ReportPlain(t *testing.T) {
	s, clk := seededStore(t)
	r, err := GenerateFromStore(context.Background(), s, clk, store.Scope{AITool: "claude"}, 5)
	require.NoError(t, err)

	out := Formatter{}.Report(r)
	assert.NotContains(t, out, "\033[")
	assert.Contains(t, out, "AI tool:               claude")
	assert.Contains(t, out, "Sessions:              2")
	assert.Contains(t, out, "no-panics")
	assert.Contains(t, out, "Recent Sessions")
	assert.Contains(t, out, "* still open")

	colored := Formatter{Color: true}.Report(r)
	assert.Contains(t, colored, bold+"Top Violations"+reset)
}

func TestFormatter_Result(t *testing.T) {
	res := verdict.New("drift_check")
	res.Summary = "main.go drifted"
	res.Escalate(verdict.StatusFail)
	res.SessionContext = &verdict.SessionContext{DurationMinutes: 12.5, EntropyScore: 0.31, FilesModified: 4}
	res.Add(verdict.Finding{
		RuleID:   "drift.critical",
		Severity: verdict.SeverityError,
		FilePath: "main.go",
		Message:  "structure changed by 1.25",
		Pedagogy: verdict.Pedagogy{Why: "w", HowToFix: "h", Prevention: "p"},
	})

	out := Formatter{}.Result(res)
	lines := strings.Split(out, "\n")
	assert.Equal(t, "FAIL drift_check", lines[0])
	assert.Equal(t, "main.go drifted", lines[1])
	assert.Equal(t, "session: 12.5 min, entropy 0.31, 4 files", lines[2])
	assert.Contains(t, out, "  error    drift.critical (main.go)\n")
	assert.Contains(t, out, "    fix:  h\n")

	colored := Formatter{Color: true}.Result(res)
	assert.True(t, strings.HasPrefix(colored, bold+red+"FAIL"+reset))
}

func TestFormatter_Status(t *testing.T) {
	out := Formatter{}.Status(&ipc.StatusData{
		Uptime: "2m0s",
		PID:    42,
		Tools:  []string{"session_start", "drift_check"},
		Store:  store.Stats{SchemaVersion: 3, Sessions: 7, SizeBytes: 1536},
	})
	assert.Contains(t, out, "DB Size:             1.5 KB")
	assert.Contains(t, out, "Sessions:            7")
	assert.Contains(t, out, "Tools:               session_start, drift_check")
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, humanBytes(tt.in))
	}
}
