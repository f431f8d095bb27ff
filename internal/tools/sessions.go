package tools

import (
	"context"
	"fmt"

	"github.com/highbeam/changeguard/internal/learning"
	"github.com/highbeam/changeguard/internal/session"
	"github.com/highbeam/changeguard/internal/store"
	"github.com/highbeam/changeguard/internal/verdict"
)

var sessionPedagogy = verdict.Pedagogy{
	Why:        "Every verdict is tied to a session so that entropy, drift and learning history accumulate per unit of AI-assisted work.",
	HowToFix:   "Nothing to fix. Call session_end when the task is complete.",
	Prevention: "Start a new session for each distinct task instead of reusing one long session.",
}

var entropyPedagogy = map[session.Level]verdict.Pedagogy{
	session.LevelWarning: {
		Why:        "The session is accumulating duration, files or violations faster than a focused change usually does.",
		HowToFix:   "Check that every modified file still belongs to the task in the brief.",
		Prevention: "Scope sessions to one change and commit working increments.",
	},
	session.LevelElevated: {
		Why:        "Long sessions that touch many files with repeated violations lose coherence; the assistant's context no longer covers everything it changed.",
		HowToFix:   "Commit what works, then review the remaining diff file by file before continuing.",
		Prevention: "Split large tasks into several sessions, each with its own brief.",
	},
	session.LevelCritical: {
		Why:        "Entropy is at the level where AI-assisted sessions most often introduce regressions that nobody reviewed.",
		HowToFix:   "Stop, end this session, review the full diff and start a fresh session with a new brief.",
		Prevention: "End sessions before they reach an hour or twenty files.",
	},
}

// SessionStart opens a session, or fills blank metadata on an existing one.
func (s *Suite) SessionStart(ctx context.Context, args SessionStartArgs) *verdict.Result {
	c := s.begin(NameSessionStart, args.SessionID)
	if err := check(&args); err != nil {
		return c.fail(ctx, err)
	}
	sess, err := s.sessions.Start(ctx, args.SessionID, args.AITool, args.ProjectPath)
	if err != nil {
		return c.fail(ctx, err)
	}
	res := verdict.New(NameSessionStart)
	res.Pedagogy = sessionPedagogy
	res.Summary = fmt.Sprintf("session %s started", sess.ID)
	res.Data = viewSession(sess)
	return c.done(ctx, res)
}

// SessionEnd closes a session and reports its final entropy.
func (s *Suite) SessionEnd(ctx context.Context, args SessionEndArgs) *verdict.Result {
	c := s.begin(NameSessionEnd, args.SessionID)
	if err := check(&args); err != nil {
		return c.fail(ctx, err)
	}
	sess, err := s.sessions.End(ctx, args.SessionID, args.Reason)
	if err != nil {
		return c.fail(ctx, err)
	}
	reading, err := s.sessions.Entropy(ctx, args.SessionID)
	if err != nil {
		return c.fail(ctx, err)
	}
	res := entropyResult(NameSessionEnd, reading)
	res.Summary = fmt.Sprintf("session %s ended (%s); final %s", sess.ID, sess.EndedReason, reading.Summary())
	res.Data = map[string]any{"session": viewSession(sess), "entropy": reading}
	return c.done(ctx, res)
}

// RecordFileChange adds a modified file to the session and returns the
// updated entropy.
func (s *Suite) RecordFileChange(ctx context.Context, args FileChangeArgs) *verdict.Result {
	c := s.begin(NameRecordFileChange, args.SessionID)
	if err := check(&args); err != nil {
		return c.fail(ctx, err)
	}
	if err := s.sessions.RecordFileChange(ctx, args.SessionID, args.FilePath, args.DeltaLines); err != nil {
		return c.fail(ctx, err)
	}
	reading, err := s.sessions.Entropy(ctx, args.SessionID)
	if err != nil {
		return c.fail(ctx, err)
	}
	res := entropyResult(NameRecordFileChange, reading)
	res.Summary = fmt.Sprintf("recorded %s (%+d lines); %s", args.FilePath, args.DeltaLines, reading.Summary())
	return c.done(ctx, res)
}

// SessionEntropy reports the current entropy of a session.
func (s *Suite) SessionEntropy(ctx context.Context, args SessionArgs) *verdict.Result {
	c := s.begin(NameSessionEntropy, args.SessionID)
	if err := check(&args); err != nil {
		return c.fail(ctx, err)
	}
	reading, err := s.sessions.Entropy(ctx, args.SessionID)
	if err != nil {
		return c.fail(ctx, err)
	}
	return c.done(ctx, entropyResult(NameSessionEntropy, reading))
}

func entropyResult(tool string, r *session.Reading) *verdict.Result {
	res := verdict.New(tool)
	res.Summary = r.Summary()
	res.Data = r
	p, elevated := entropyPedagogy[r.Level]
	if !elevated {
		res.Pedagogy = sessionPedagogy
		return res
	}
	res.Pedagogy = p
	sev := verdict.SeverityWarning
	if r.Level == session.LevelCritical {
		sev = verdict.SeverityError
	}
	factor, weight := dominantFactor(r.Factors)
	res.Add(verdict.Finding{
		RuleID:   "session.entropy." + r.Level.String(),
		Severity: sev,
		Message:  fmt.Sprintf("session entropy %.2f is %s; largest contributor is %s (%.2f)", r.Score, r.Level, factor, weight),
		Details: map[string]any{
			"score":   r.Score,
			"factors": r.Factors,
		},
	})
	res.Escalate(r.Level.Status())
	return res
}

func dominantFactor(f session.Factors) (string, float64) {
	name, best := "duration", f.Duration
	for _, c := range []struct {
		name string
		v    float64
	}{{"files", f.Files}, {"violations", f.Violations}, {"changed lines", f.Lines}} {
		if c.v > best {
			name, best = c.name, c.v
		}
	}
	return name, best
}

// RecordFinding forwards a guard or lint finding into the learning log
// and counts it as a session violation.
func (s *Suite) RecordFinding(ctx context.Context, args RecordFindingArgs) *verdict.Result {
	c := s.begin(NameRecordFinding, args.SessionID)
	if err := check(&args); err != nil {
		return c.fail(ctx, err)
	}
	sev, err := s.bridge.RecordFinding(ctx, args.SessionID, learning.UpstreamFinding{
		GuardOrRuleID: args.GuardOrRuleID,
		Severity:      args.Severity,
		FilePath:      args.FilePath,
		Message:       args.Message,
	})
	if err != nil {
		return c.fail(ctx, err)
	}
	res := verdict.New(NameRecordFinding)
	res.Pedagogy = verdict.Pedagogy{
		Why:        "Recurring guard findings show which mistakes an assistant keeps making in this project.",
		HowToFix:   "Address the finding itself; it now counts toward the session's violation total.",
		Prevention: "Review developer_profile periodically and add the top violations to your briefs as constraints.",
	}
	res.Summary = fmt.Sprintf("recorded %s (%s) as a violation", args.GuardOrRuleID, sev)
	res.Data = map[string]any{"guardOrRuleId": args.GuardOrRuleID, "severity": sev}
	return c.done(ctx, res)
}

// hallucinationRateWarn is the share of flagged imports above which a
// profile warns.
const hallucinationRateWarn = 0.2

// DeveloperProfile aggregates the learning history of a project, an AI
// tool or everything.
func (s *Suite) DeveloperProfile(ctx context.Context, args ProfileArgs) *verdict.Result {
	c := s.begin(NameDeveloperProfile, "")
	if err := check(&args); err != nil {
		return c.fail(ctx, err)
	}
	p, err := s.engine.Profile(ctx, store.Scope{ProjectPath: args.ProjectPath, AITool: args.AITool}, args.TopN)
	if err != nil {
		return c.fail(ctx, err)
	}
	res := verdict.New(NameDeveloperProfile)
	res.Pedagogy = verdict.Pedagogy{
		Why:        "The profile is rebuilt from every recorded event, so it shows habits rather than single incidents.",
		HowToFix:   "Work on the top violation first; it has the largest effect on the improvement rate.",
		Prevention: "Turn recurring violations and drift hotspots into explicit brief constraints.",
	}
	res.Summary = fmt.Sprintf("%d sessions, average brief %.1f, hallucination rate %.0f%%, trend %s",
		p.SessionCount, p.AverageBriefScore, p.HallucinationRate*100, p.Trend)
	res.Data = p

	for _, v := range p.TopViolations {
		res.Add(verdict.Finding{
			RuleID:   "profile.recurring_violation",
			Severity: verdict.SeverityInfo,
			Message:  fmt.Sprintf("%s fired %d times", v.Name, v.Count),
			Details:  map[string]any{"name": v.Name, "count": v.Count},
		})
	}
	for _, h := range p.DriftHotspots {
		res.Add(verdict.Finding{
			RuleID:   "profile.drift_hotspot",
			Severity: verdict.SeverityInfo,
			FilePath: h.FilePath,
			Message:  fmt.Sprintf("%s drifted in %d sessions (max %.0f%%)", h.FilePath, h.Flagged, h.MaxDrift*100),
		})
	}
	if p.HallucinationChecks > 0 && p.HallucinationRate > hallucinationRateWarn {
		res.Add(verdict.Finding{
			RuleID:   "profile.hallucination_rate",
			Severity: verdict.SeverityWarning,
			Message:  fmt.Sprintf("%.0f%% of checked imports were hallucinated or typosquats", p.HallucinationRate*100),
			Pedagogy: verdict.Pedagogy{
				Why:        "A high hallucination rate means imports are being accepted without verification.",
				HowToFix:   "Run hallucination_check on every file before installing its dependencies.",
				Prevention: "Pin dependencies in go.mod before asking the assistant to use them.",
			},
		})
		res.Escalate(verdict.StatusWarn)
	}
	if p.Trend == "declining" {
		res.Add(verdict.Finding{
			RuleID:   "profile.declining",
			Severity: verdict.SeverityWarning,
			Message:  fmt.Sprintf("session quality is declining (improvement rate %.2f)", p.ImprovementRate),
		})
		res.Escalate(verdict.StatusWarn)
	}
	return c.done(ctx, res)
}
