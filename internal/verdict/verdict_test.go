package verdict

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/highbeam/changeguard/internal/errs"
)

func TestStatus_Worse(t *testing.T) {
	assert.Equal(t, StatusWarn, StatusPass.Worse(StatusWarn))
	assert.Equal(t, StatusBlock, StatusBlock.Worse(StatusFail))
	assert.Equal(t, StatusFail, StatusFail.Worse(StatusPass))
}

func TestResult_JSONShape(t *testing.T) {
	r := New("session_entropy")
	r.Pedagogy = Pedagogy{Why: "w", HowToFix: "h", Prevention: "p"}
	r.Escalate(StatusWarn)
	r.Add(Finding{RuleID: "entropy.warning", Severity: SeverityWarning, Message: "m"})
	r.SessionContext = &SessionContext{DurationMinutes: 12, EntropyScore: 0.4, FilesModified: 3}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "warn", decoded["status"])

	findings := decoded["findings"].([]any)
	require.Len(t, findings, 1)
	f := findings[0].(map[string]any)
	assert.Equal(t, "warning", f["severity"])
	ped := f["pedagogy"].(map[string]any)
	assert.Equal(t, "w", ped["why"])
	assert.Equal(t, "h", ped["howToFix"])
	assert.Equal(t, "p", ped["prevention"])

	ctx := decoded["sessionContext"].(map[string]any)
	assert.Equal(t, float64(3), ctx["filesModified"])
}

func TestAdd_FillsMissingPedagogy(t *testing.T) {
	r := New("x")
	r.Pedagogy = Pedagogy{Why: "why", HowToFix: "fix", Prevention: "prevent"}
	r.Add(Finding{RuleID: "a", Severity: SeverityInfo, Message: "m", Pedagogy: Pedagogy{Why: "own"}})

	require.Len(t, r.Findings, 1)
	assert.Equal(t, "own", r.Findings[0].Pedagogy.Why)
	assert.True(t, r.Findings[0].Pedagogy.Complete())
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"error", SeverityError},
		{"HIGH", SeverityError},
		{"warning", SeverityWarning},
		{"medium", SeverityWarning},
		{"info", SeverityInfo},
		{"critical", SeverityCritical},
	}
	for _, tt := range tests {
		got, err := ParseSeverity(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseSeverity("catastrophic")
	assert.Error(t, err)
}

func TestFromError_EveryFindingHasPedagogy(t *testing.T) {
	cases := []error{
		errs.Validation("session_id", "required"),
		errs.NotFound("session", "s1"),
		errs.Degraded("lookup", errors.New("timeout")),
		errs.Storage("insert", errors.New("locked")),
		errors.New("boom"),
	}
	wantStatus := []Status{StatusFail, StatusWarn, StatusWarn, StatusFail, StatusFail}

	for i, err := range cases {
		r := FromError("tool", err)
		assert.Equal(t, wantStatus[i], r.Status, err.Error())
		require.NotEmpty(t, r.Findings)
		for _, f := range r.Findings {
			assert.True(t, f.Pedagogy.Complete(), "finding %s lacks pedagogy", f.RuleID)
		}
	}
}
