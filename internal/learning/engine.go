package learning

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/store"
)

const (
	// improvementWindow is the number of sessions compared on each side.
	improvementWindow = 5
	// improvementDeadband is the rate below which a trend is steady.
	improvementDeadband = 0.02
	defaultTopN         = 5
	hotspotMinCount     = 2
)

// Engine aggregates the event log into profiles. It reads sessions and
// learning_events only.
type Engine struct {
	store  *store.Store
	logger *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(s *store.Store, logger *zap.Logger) *Engine {
	return &Engine{store: s, logger: logger}
}

// Profile summarizes a developer's history within a scope.
type Profile struct {
	Scope               store.Scope            `json:"scope"`
	SessionCount        int                    `json:"sessionCount"`
	AverageBriefScore   float64                `json:"averageBriefScore"`
	BriefCount          int                    `json:"briefCount"`
	TopViolations       []store.ViolationCount `json:"topViolations"`
	HallucinationRate   float64                `json:"hallucinationRate"`
	HallucinationChecks int                    `json:"hallucinationChecks"`
	DriftHotspots       []store.Hotspot        `json:"driftHotspots"`
	ImprovementRate     float64                `json:"improvementRate"`
	Trend               string                 `json:"trend"`
}

// Profile builds the profile for scope. topN <= 0 uses the default.
func (e *Engine) Profile(ctx context.Context, scope store.Scope, topN int) (*Profile, error) {
	if topN <= 0 {
		topN = defaultTopN
	}
	p := &Profile{Scope: scope}

	var err error
	if p.SessionCount, err = e.store.CountSessions(ctx, scope); err != nil {
		return nil, err
	}
	if p.AverageBriefScore, p.BriefCount, err = e.store.AverageBriefScore(ctx, scope); err != nil {
		return nil, err
	}
	p.AverageBriefScore = round2(p.AverageBriefScore)
	if p.TopViolations, err = e.store.TopViolations(ctx, scope, topN); err != nil {
		return nil, err
	}
	if p.TopViolations == nil {
		p.TopViolations = []store.ViolationCount{}
	}

	flagged, total, err := e.store.HallucinationCounts(ctx, scope)
	if err != nil {
		return nil, err
	}
	p.HallucinationChecks = total
	if total > 0 {
		p.HallucinationRate = round2(float64(flagged) / float64(total))
	}

	if p.DriftHotspots, err = e.store.DriftHotspots(ctx, scope, hotspotMinCount, topN); err != nil {
		return nil, err
	}
	if p.DriftHotspots == nil {
		p.DriftHotspots = []store.Hotspot{}
	}

	rate, ok, err := e.ImprovementRate(ctx, scope)
	if err != nil {
		return nil, err
	}
	p.ImprovementRate = rate
	p.Trend = trendName(rate, ok)

	e.logger.Debug("profile built",
		zap.String("project_path", scope.ProjectPath),
		zap.String("ai_tool", scope.AITool),
		zap.Int("sessions", p.SessionCount))
	return p, nil
}

// ImprovementRate compares the mean composite quality of the most recent
// sessions with the sessions before them. Positive means improving. Sessions
// that recorded nothing are left out; ok is false when fewer than two
// sessions remain.
func (e *Engine) ImprovementRate(ctx context.Context, scope store.Scope) (rate float64, ok bool, err error) {
	all, err := e.store.SessionQualities(ctx, scope)
	if err != nil {
		return 0, false, err
	}
	qs := all[:0]
	for _, q := range all {
		if hasData(q) {
			qs = append(qs, q)
		}
	}
	window := improvementWindow
	if len(qs)/2 < window {
		window = len(qs) / 2
	}
	if window == 0 {
		return 0, false, nil
	}

	recent := qs[len(qs)-window:]
	previous := qs[len(qs)-2*window : len(qs)-window]
	return round4(meanQuality(recent) - meanQuality(previous)), true, nil
}

// Quality is the composite [0,1] quality of one session: the mean of the
// brief score, violation, hallucination and drift components that the
// session has data for.
func Quality(q store.SessionQuality) float64 {
	parts := []float64{1 / (1 + float64(q.Violations))}
	if q.BriefScore != nil {
		parts = append(parts, clamp01(*q.BriefScore/100))
	}
	if q.HallucinationChecks > 0 {
		parts = append(parts, 1-float64(q.Hallucinations)/float64(q.HallucinationChecks))
	}
	if q.AvgDrift != nil {
		parts = append(parts, 1-clamp01(*q.AvgDrift))
	}
	var sum float64
	for _, p := range parts {
		sum += p
	}
	return sum / float64(len(parts))
}

// hasData reports whether the session recorded anything Quality scores.
func hasData(q store.SessionQuality) bool {
	return q.Violations > 0 || q.BriefScore != nil || q.HallucinationChecks > 0 || q.AvgDrift != nil
}

func meanQuality(qs []store.SessionQuality) float64 {
	var sum float64
	for _, q := range qs {
		sum += Quality(q)
	}
	return sum / float64(len(qs))
}

func trendName(rate float64, ok bool) string {
	switch {
	case !ok:
		return "insufficient_data"
	case rate > improvementDeadband:
		return "improving"
	case rate < -improvementDeadband:
		return "declining"
	default:
		return "steady"
	}
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
