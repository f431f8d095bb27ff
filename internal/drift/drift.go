package drift

import (
	"encoding/json"
	"math"
)

// Drift returns the mean relative change |after-before|/before over the
// metrics that are non-zero in before. Exported names compare by count.
// Identical inputs yield exactly 0.
func Drift(before, after Metrics) float64 {
	pairs := [][2]float64{
		{float64(before.Imports), float64(after.Imports)},
		{float64(before.Types), float64(after.Types)},
		{float64(before.Functions), float64(after.Functions)},
		{float64(before.ExternalDeps), float64(after.ExternalDeps)},
		{before.AvgComplexity, after.AvgComplexity},
		{float64(len(before.ExportedNames)), float64(len(after.ExportedNames))},
	}
	var sum float64
	var n int
	for _, p := range pairs {
		if p[0] == 0 {
			continue
		}
		sum += math.Abs(p[1]-p[0]) / p[0]
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*1e6) / 1e6
}

// Band classifies a drift value.
type Band int

const (
	BandNormal Band = iota + 1
	BandWarning
	BandCritical
)

func (b Band) String() string {
	switch b {
	case BandNormal:
		return "normal"
	case BandWarning:
		return "warning"
	case BandCritical:
		return "critical"
	default:
		return "unspecified"
	}
}

func (b Band) MarshalJSON() ([]byte, error) { return json.Marshal(b.String()) }

// BandFor returns the band of d: below 5% normal, up to 15% warning,
// above 15% critical.
func BandFor(d float64) Band {
	switch {
	case d > 0.15:
		return BandCritical
	case d >= 0.05:
		return BandWarning
	default:
		return BandNormal
	}
}

// Trend is the direction of drift between consecutive sessions.
type Trend int

const (
	TrendStable Trend = iota + 1
	TrendAccelerating
	TrendDecelerating
)

func (t Trend) String() string {
	switch t {
	case TrendStable:
		return "stable"
	case TrendAccelerating:
		return "accelerating"
	case TrendDecelerating:
		return "decelerating"
	default:
		return "unspecified"
	}
}

func (t Trend) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

// stableDelta is two percentage points.
const stableDelta = 0.02

// Velocity returns the drift of the latest session in history and its
// trend against the session before it. A lone session has no trend and
// reports stable.
func Velocity(history []float64) (float64, Trend) {
	if len(history) == 0 {
		return 0, TrendStable
	}
	current := history[len(history)-1]
	if len(history) == 1 {
		return current, TrendStable
	}
	delta := current - history[len(history)-2]
	switch {
	case math.Abs(delta) <= stableDelta+1e-9:
		return current, TrendStable
	case delta > 0:
		return current, TrendAccelerating
	default:
		return current, TrendDecelerating
	}
}

// escalationThreshold and escalationRun define when a file requires
// review: escalationRun consecutive sessions above the threshold.
const (
	escalationThreshold = 0.10
	escalationRun       = 3
)

// TrailingHigh counts the consecutive sessions at the end of history with
// drift above the escalation threshold.
func TrailingHigh(history []float64) int {
	n := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] <= escalationThreshold {
			break
		}
		n++
	}
	return n
}
