package brief

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/clock"
	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/learning"
	"github.com/highbeam/changeguard/internal/store"
	"github.com/highbeam/changeguard/internal/verdict"
)

func newEnforcer(t *testing.T, policy Policy) (*Enforcer, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	clk := clock.NewManual(time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC))
	return NewEnforcer(s, clk, learning.NewBridge(s, clk, zap.NewNop()), zap.NewNop(), policy), s
}

// plainPolicy has no bonus vocabulary so scores are exact.
func plainPolicy() Policy {
	return Policy{FillerPhrases: defaultFillers, ActionVerbs: []string{"zzz"}, TechTerms: []string{"zzz"}}
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{0, LevelInsufficient},
		{39.99, LevelInsufficient},
		{40, LevelMinimal},
		{59.99, LevelMinimal},
		{60, LevelAdequate},
		{79.99, LevelAdequate},
		{80, LevelStrong},
		{100, LevelStrong},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LevelFor(tc.score), "%v", tc.score)
	}
}

func TestModeAssess(t *testing.T) {
	cases := []struct {
		mode    Mode
		score   float64
		status  verdict.Status
		flagged bool
	}{
		{ModeStrict, 59.99, verdict.StatusFail, true},
		{ModeStrict, 60, verdict.StatusPass, false},
		{ModeNormal, 19.99, verdict.StatusFail, true},
		{ModeNormal, 20, verdict.StatusWarn, false},
		{ModeNormal, 59.99, verdict.StatusWarn, false},
		{ModeNormal, 60, verdict.StatusPass, false},
	}
	for _, tc := range cases {
		status, flagged := tc.mode.Assess(tc.score)
		assert.Equal(t, tc.status, status, "%v %v", tc.mode, tc.score)
		assert.Equal(t, tc.flagged, flagged, "%v %v", tc.mode, tc.score)
	}
}

func TestScore_RequiredOnlyIsAdequate(t *testing.T) {
	b := plainPolicy().Score(map[string]string{
		"intent":      "Return 404 from the session lookup when the id is unknown",
		"constraints": "No schema changes; keep the response body stable",
		"affects":     "session handler and its tests",
	})
	assert.Equal(t, 60.0, b.Score)
	assert.Equal(t, LevelAdequate, b.Level)
	assert.Equal(t, []string{"tradeoffs", "rollback", "dependencies"}, b.Missing)
	assert.Empty(t, b.Vague)
}

func TestScore_AllFieldsIsHundred(t *testing.T) {
	b := plainPolicy().Score(map[string]string{
		"intent":       "Return 404 from the session lookup when the id is unknown",
		"constraints":  "No schema changes",
		"affects":      "session handler",
		"tradeoffs":    "Slightly more code in the handler",
		"rollback":     "Revert the commit",
		"dependencies": "None beyond the store package",
	})
	assert.Equal(t, 100.0, b.Score)
	assert.Equal(t, LevelStrong, b.Level)
	assert.Equal(t, 13.33, b.Fields[3].Points)
}

func TestScore_FillerCountsAsAbsent(t *testing.T) {
	b := plainPolicy().Score(map[string]string{
		"intent":      "just fix it",
		"constraints": "whatever",
		"affects":     "the payment retry loop in billing/retry.go",
		"rollback":    "revert",
	})
	assert.Equal(t, round2(20+40.0/3), b.Score)
	assert.Equal(t, LevelInsufficient, b.Level)
	assert.Equal(t, []string{"intent", "constraints"}, b.Vague)
	assert.Equal(t, "fix it", b.Fields[0].Filler)
}

func TestScore_FillerInsideRealSentenceIsNotVague(t *testing.T) {
	b := plainPolicy().Score(map[string]string{
		"intent": "fix it so the login handler returns 401 for expired tokens",
	})
	assert.Empty(t, b.Vague)
	assert.Equal(t, 20.0, b.Score)
}

func TestScore_BonusNeverCrossesLevel(t *testing.T) {
	b := DefaultPolicy().Score(map[string]string{
		"intent":      "Add a TTL cache to the registry lookup in internal/hallucination/registry.go",
		"constraints": "Keep the API stable; no migration; timeout stays 3s",
		"affects":     "registry handler and query path",
	})
	assert.Equal(t, 60.0, b.Score)
	assert.Equal(t, LevelAdequate, b.Level)
	assert.Equal(t, 5.0, b.Bonus, "capped by max bonus")
	assert.Equal(t, 65.0, b.AdjustedScore)
	assert.NotEmpty(t, b.BonusReasons)

	generous := DefaultPolicy()
	generous.MaxBonus = 20
	near := generous.Score(map[string]string{
		"intent":      "Add retry with timeout to the API handler in cmd/server/main.go",
		"constraints": "no schema migration",
		"affects":     "api handler",
		"tradeoffs":   "more latency under failure",
	})
	assert.Equal(t, 73.33, near.Score)
	assert.Equal(t, 79.99, near.AdjustedScore)
	assert.Equal(t, 6.66, near.Bonus)
	assert.Equal(t, LevelAdequate, LevelFor(near.AdjustedScore))
}

func TestEvaluate_PersistsAndRecordsEvent(t *testing.T) {
	e, s := newEnforcer(t, plainPolicy())
	ctx := context.Background()
	raw := json.RawMessage(`{
		"intent": "Rename Store.Get to Store.Lookup",
		"constraints": ["no behaviour change", "keep old name as deprecated alias"],
		"affects": ["internal/store", "internal/daemon"]
	}`)

	ev, err := e.Evaluate(ctx, "sess-1", raw, 0)
	require.NoError(t, err)
	assert.Equal(t, 60.0, ev.Score)
	assert.Equal(t, ModeNormal, ev.Mode)
	assert.Equal(t, verdict.StatusPass, ev.Status)
	assert.NotZero(t, ev.RecordID)

	strict, err := e.Evaluate(ctx, "sess-1", json.RawMessage(`{"intent": "Rename Store.Get"}`), ModeStrict)
	require.NoError(t, err)
	assert.True(t, strict.Flagged)
	assert.Equal(t, verdict.StatusFail, strict.Status)

	hist, err := e.History(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "adequate", hist[0].Level)
	assert.Equal(t, "insufficient", hist[1].Level)

	events, err := s.SessionEvents(ctx, "sess-1", "brief_score")
	require.NoError(t, err)
	require.Len(t, events, 2)
	var p learning.BriefScore
	require.NoError(t, json.Unmarshal(events[1].Payload, &p))
	assert.Equal(t, "strict", p.Mode)
	assert.True(t, p.Flagged)
	assert.Contains(t, p.Missing, "constraints")
}

func TestEvaluate_MalformedIsValidationError(t *testing.T) {
	e, s := newEnforcer(t, Policy{})
	ctx := context.Background()
	bad := []string{
		``,
		`not json`,
		`["intent"]`,
		`{"intent": 42}`,
		`{"intent": ["ok", 3]}`,
		`{"intnet": "typo"}`,
	}
	for _, raw := range bad {
		_, err := e.Evaluate(ctx, "sess-1", json.RawMessage(raw), 0)
		assert.True(t, errs.IsValidation(err), "input %q: %v", raw, err)
	}
	hist, err := s.BriefHistory(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, hist, "validation happens before storage")
}

func TestHistory_RequiresSession(t *testing.T) {
	e, _ := newEnforcer(t, Policy{})
	_, err := e.History(context.Background(), " ")
	assert.True(t, errs.IsValidation(err))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Strict ")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)
	_, err = ParseMode("lenient")
	assert.Error(t, err)
}
