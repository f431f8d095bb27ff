// Package brief scores the change-intent brief an AI assistant writes
// before editing code.
package brief

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/highbeam/changeguard/internal/verdict"
)

// Level is the quality band of a brief score.
type Level int

const (
	LevelInsufficient Level = iota + 1
	LevelMinimal
	LevelAdequate
	LevelStrong
)

func (l Level) String() string {
	switch l {
	case LevelInsufficient:
		return "insufficient"
	case LevelMinimal:
		return "minimal"
	case LevelAdequate:
		return "adequate"
	case LevelStrong:
		return "strong"
	default:
		return "unspecified"
	}
}

func (l Level) MarshalJSON() ([]byte, error) { return json.Marshal(l.String()) }

// LevelFor maps a score to its band.
func LevelFor(score float64) Level {
	switch {
	case score >= 80:
		return LevelStrong
	case score >= 60:
		return LevelAdequate
	case score >= 40:
		return LevelMinimal
	default:
		return LevelInsufficient
	}
}

// ceiling is the lowest score of the next band, or 100.
func (l Level) ceiling() float64 {
	switch l {
	case LevelInsufficient:
		return 40
	case LevelMinimal:
		return 60
	case LevelAdequate:
		return 80
	default:
		return 100
	}
}

// Mode is an enforcement policy.
type Mode int

const (
	ModeNormal Mode = iota + 1
	ModeStrict
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeStrict:
		return "strict"
	default:
		return "unspecified"
	}
}

func (m Mode) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return ModeNormal, nil
	case "strict":
		return ModeStrict, nil
	default:
		return 0, fmt.Errorf("unknown brief mode %q (want strict or normal)", s)
	}
}

// Assess applies the mode to a score. Strict flags anything below 60;
// normal flags below 20 and warns below 60.
func (m Mode) Assess(score float64) (status verdict.Status, flagged bool) {
	switch {
	case m == ModeStrict && score < 60:
		return verdict.StatusFail, true
	case score < 20:
		return verdict.StatusFail, true
	case score < 60:
		return verdict.StatusWarn, false
	default:
		return verdict.StatusPass, false
	}
}
