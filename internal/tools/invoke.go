package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/telemetry"
	"github.com/highbeam/changeguard/internal/verdict"
)

// Tool names.
const (
	NameSessionStart       = "session_start"
	NameSessionEnd         = "session_end"
	NameRecordFileChange   = "record_file_change"
	NameSessionEntropy     = "session_entropy"
	NameDriftCheck         = "drift_check"
	NameDriftClearReview   = "drift_clear_review"
	NameHallucinationCheck = "hallucination_check"
	NamePromptShield       = "prompt_shield"
	NameBriefCheck         = "brief_check"
	NameRecordFinding      = "record_finding"
	NameDeveloperProfile   = "developer_profile"
)

// Spec describes one tool.
type Spec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	invoke      func(ctx context.Context, s *Suite, raw json.RawMessage) *verdict.Result
}

var specs = []Spec{
	{
		Name:        NameSessionStart,
		Description: "Open an AI-assisted session (or resume it) and record the assistant and project it belongs to.",
		invoke:      bind(NameSessionStart, (*Suite).SessionStart),
	},
	{
		Name:        NameSessionEnd,
		Description: "Close a session and report its final entropy.",
		invoke:      bind(NameSessionEnd, (*Suite).SessionEnd),
	},
	{
		Name:        NameRecordFileChange,
		Description: "Record a modified file and its changed-line count; returns the updated session entropy.",
		invoke:      bind(NameRecordFileChange, (*Suite).RecordFileChange),
	},
	{
		Name:        NameSessionEntropy,
		Description: "Report session entropy from duration, files modified, violations and changed lines.",
		invoke:      bind(NameSessionEntropy, (*Suite).SessionEntropy),
	},
	{
		Name:        NameDriftCheck,
		Description: "Snapshot a Go file's structure and report drift against its baseline, velocity, trend and review escalation.",
		invoke:      bind(NameDriftCheck, (*Suite).DriftCheck),
	},
	{
		Name:        NameDriftClearReview,
		Description: "Clear the review-required flag of a file after a human reviewed it.",
		invoke:      bind(NameDriftClearReview, (*Suite).DriftClearReview),
	},
	{
		Name:        NameHallucinationCheck,
		Description: "Verify imports through four levels (local, registry, API surface, version) and flag hallucinated packages and typosquats.",
		invoke:      bind(NameHallucinationCheck, (*Suite).HallucinationCheck),
	},
	{
		Name:        NamePromptShield,
		Description: "Scan text, a file or a structured tool payload for prompt-injection patterns, including base64 and invisible-character evasion.",
		invoke:      bind(NamePromptShield, (*Suite).PromptShield),
	},
	{
		Name:        NameBriefCheck,
		Description: "Score a change-intent brief (intent, constraints, affects, tradeoffs, rollback, dependencies) in strict or normal mode.",
		invoke:      bind(NameBriefCheck, (*Suite).BriefCheck),
	},
	{
		Name:        NameRecordFinding,
		Description: "Record a finding from an external guard, linter or static-analysis tool as a session violation.",
		invoke:      bind(NameRecordFinding, (*Suite).RecordFinding),
	},
	{
		Name:        NameDeveloperProfile,
		Description: "Aggregate learning history into a profile: brief scores, top violations, hallucination rate, drift hotspots and improvement trend.",
		invoke:      bind(NameDeveloperProfile, (*Suite).DeveloperProfile),
	},
}

var byName = func() map[string]*Spec {
	m := make(map[string]*Spec, len(specs))
	for i := range specs {
		m[specs[i].Name] = &specs[i]
	}
	return m
}()

// Specs lists every tool in registration order.
func Specs() []Spec {
	return append([]Spec(nil), specs...)
}

// Describe returns the description of a tool, or "" if it is unknown.
func Describe(name string) string {
	if sp, ok := byName[name]; ok {
		return sp.Description
	}
	return ""
}

// Invoke decodes raw into the named tool's argument struct and runs it.
// Unknown tools and undecodable arguments yield fail results, never
// errors.
func (s *Suite) Invoke(ctx context.Context, name string, raw json.RawMessage) *verdict.Result {
	sp, ok := byName[name]
	if !ok {
		names := make([]string, 0, len(byName))
		for n := range byName {
			names = append(names, n)
		}
		sort.Strings(names)
		s.logger.Debug("unknown tool", zap.String("tool", name))
		res := verdict.FromError(name, errs.Validation("tool", "unknown tool %q (available: %v)", name, names))
		telemetry.ObserveVerdict("unknown", res.Status.String(), 0)
		return res
	}
	return sp.invoke(ctx, s, raw)
}

// bind adapts a typed tool method to raw JSON arguments. Unknown fields
// are rejected.
func bind[In any](name string, fn func(*Suite, context.Context, In) *verdict.Result) func(context.Context, *Suite, json.RawMessage) *verdict.Result {
	return func(ctx context.Context, s *Suite, raw json.RawMessage) *verdict.Result {
		var in In
		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(trimmed))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&in); err != nil {
				return s.begin(name, "").fail(ctx, errs.Validation("arguments", "%v", err))
			}
		}
		return fn(s, ctx, in)
	}
}
