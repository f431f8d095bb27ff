package session

import (
	"encoding/json"
	"math"
	"time"

	"github.com/highbeam/changeguard/internal/verdict"
)

// Factor caps and weights. Each factor saturates at its cap, so the
// weighted sum lies in [0, 1].
const (
	durationCap  = 60.0 // minutes
	filesCap     = 20.0
	violationCap = 10.0
	linesCap     = 500.0

	durationWeight  = 0.30
	filesWeight     = 0.20
	violationWeight = 0.30
	linesWeight     = 0.20
)

// Level is the entropy band of a session.
type Level int

const (
	LevelSafe Level = iota + 1
	LevelWarning
	LevelElevated
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelSafe:
		return "safe"
	case LevelWarning:
		return "warning"
	case LevelElevated:
		return "elevated"
	case LevelCritical:
		return "critical"
	default:
		return "unspecified"
	}
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// Status maps the band onto a tool status.
func (l Level) Status() verdict.Status {
	switch l {
	case LevelSafe:
		return verdict.StatusPass
	case LevelWarning, LevelElevated:
		return verdict.StatusWarn
	default:
		return verdict.StatusFail
	}
}

// LevelFor returns the band of score. Boundary values belong to the
// higher band.
func LevelFor(score float64) Level {
	switch {
	case score >= 0.8:
		return LevelCritical
	case score >= 0.6:
		return LevelElevated
	case score >= 0.3:
		return LevelWarning
	default:
		return LevelSafe
	}
}

// Factors is the weighted contribution of each input.
type Factors struct {
	Duration   float64 `json:"duration"`
	Files      float64 `json:"files"`
	Violations float64 `json:"violations"`
	Lines      float64 `json:"lines"`
}

// Inputs are the raw session measurements entropy is computed from.
type Inputs struct {
	Duration     time.Duration
	Files        int
	Violations   int
	ChangedLines int
}

// Score computes the entropy of in. It is monotone non-decreasing in
// every input.
func Score(in Inputs) (float64, Factors) {
	f := Factors{
		Duration:   capped(in.Duration.Minutes(), durationCap) * durationWeight,
		Files:      capped(float64(in.Files), filesCap) * filesWeight,
		Violations: capped(float64(in.Violations), violationCap) * violationWeight,
		Lines:      capped(float64(in.ChangedLines), linesCap) * linesWeight,
	}
	total := f.Duration + f.Files + f.Violations + f.Lines
	return round6(math.Min(math.Max(total, 0), 1)), f
}

func capped(v, limit float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Min(v/limit, 1)
}

// round6 removes float noise so that band boundaries compare exactly.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
