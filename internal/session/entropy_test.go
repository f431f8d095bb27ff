package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/highbeam/changeguard/internal/verdict"
)

func TestScore_AllMaxIsCritical(t *testing.T) {
	score, f := Score(Inputs{Duration: 2 * time.Hour, Files: 50, Violations: 30, ChangedLines: 5000})
	assert.Equal(t, 1.0, score)
	assert.Equal(t, LevelCritical, LevelFor(score))
	assert.Equal(t, Factors{Duration: 0.3, Files: 0.2, Violations: 0.3, Lines: 0.2}, f)
}

func TestScore_Zero(t *testing.T) {
	score, _ := Score(Inputs{})
	assert.Equal(t, 0.0, score)
	assert.Equal(t, LevelSafe, LevelFor(score))
}

func TestLevelFor_BoundariesGoUp(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{0.0, LevelSafe},
		{0.299999, LevelSafe},
		{0.3, LevelWarning},
		{0.599999, LevelWarning},
		{0.6, LevelElevated},
		{0.799999, LevelElevated},
		{0.8, LevelCritical},
		{1.0, LevelCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LevelFor(tc.score), "score %v", tc.score)
	}
}

func TestScore_ExactBoundariesFromInputs(t *testing.T) {
	// 60 minutes alone saturates duration: 0.30.
	score, _ := Score(Inputs{Duration: time.Hour})
	assert.Equal(t, 0.3, score)
	assert.Equal(t, LevelWarning, LevelFor(score))

	// Duration plus violations saturated: 0.60.
	score, _ = Score(Inputs{Duration: time.Hour, Violations: 10})
	assert.Equal(t, 0.6, score)
	assert.Equal(t, LevelElevated, LevelFor(score))

	// Plus all files: 0.80.
	score, _ = Score(Inputs{Duration: time.Hour, Violations: 10, Files: 20})
	assert.Equal(t, 0.8, score)
	assert.Equal(t, LevelCritical, LevelFor(score))
}

func TestScore_MonotoneInEachInput(t *testing.T) {
	base := Inputs{Duration: 10 * time.Minute, Files: 3, Violations: 1, ChangedLines: 40}
	baseScore, _ := Score(base)

	bumps := []Inputs{
		{Duration: base.Duration + 5*time.Minute, Files: base.Files, Violations: base.Violations, ChangedLines: base.ChangedLines},
		{Duration: base.Duration, Files: base.Files + 1, Violations: base.Violations, ChangedLines: base.ChangedLines},
		{Duration: base.Duration, Files: base.Files, Violations: base.Violations + 1, ChangedLines: base.ChangedLines},
		{Duration: base.Duration, Files: base.Files, Violations: base.Violations, ChangedLines: base.ChangedLines + 10},
	}
	for i, in := range bumps {
		s, _ := Score(in)
		assert.Greater(t, s, baseScore, "bump %d", i)
	}

	// Past the cap nothing changes.
	a, _ := Score(Inputs{Files: 20})
	b, _ := Score(Inputs{Files: 200})
	assert.Equal(t, a, b)
}

func TestLevel_Status(t *testing.T) {
	assert.Equal(t, verdict.StatusPass, LevelSafe.Status())
	assert.Equal(t, verdict.StatusWarn, LevelWarning.Status())
	assert.Equal(t, verdict.StatusWarn, LevelElevated.Status())
	assert.Equal(t, verdict.StatusFail, LevelCritical.Status())
}
