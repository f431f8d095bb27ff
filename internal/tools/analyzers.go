package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/highbeam/changeguard/internal/brief"
	"github.com/highbeam/changeguard/internal/drift"
	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/hallucination"
	"github.com/highbeam/changeguard/internal/shield"
	"github.com/highbeam/changeguard/internal/verdict"
)

// DriftCheck snapshots a Go file and reports its drift velocity.
func (s *Suite) DriftCheck(ctx context.Context, args DriftCheckArgs) *verdict.Result {
	c := s.begin(NameDriftCheck, args.SessionID)
	if err := check(&args); err != nil {
		return c.fail(ctx, err)
	}
	rep, err := s.drift.Analyze(ctx, args.SessionID, args.FilePath)
	if err != nil {
		return c.fail(ctx, err)
	}

	res := verdict.New(NameDriftCheck)
	res.Data = rep
	res.Summary = fmt.Sprintf("%s drift %.1f%% (%s, %s)", rep.FilePath, rep.Drift*100, rep.Band, rep.Trend)
	res.Pedagogy = verdict.Pedagogy{
		Why:        "Structural drift measures how much of a file's shape (imports, types, functions, complexity, exported names) changed against its baseline.",
		HowToFix:   "Nothing to fix while drift stays normal.",
		Prevention: "Keep each session's edits to a file proportional to the change described in the brief.",
	}

	if rep.Band != drift.BandNormal {
		sev, status := verdict.SeverityWarning, verdict.StatusWarn
		if rep.Band == drift.BandCritical {
			sev, status = verdict.SeverityError, verdict.StatusFail
		}
		msg := fmt.Sprintf("structure changed %.1f%% against the baseline", rep.Drift*100)
		if rep.Trend == drift.TrendAccelerating {
			msg += fmt.Sprintf(", accelerating from %.1f%% in the previous session", rep.PreviousDrift*100)
		}
		res.Add(verdict.Finding{
			RuleID:   "drift." + rep.Band.String(),
			Severity: sev,
			FilePath: rep.FilePath,
			Message:  msg,
			Pedagogy: verdict.Pedagogy{
				Why:        "Large structural changes in one session are where assistants silently rewrite code they were not asked to touch.",
				HowToFix:   "Diff the file against its baseline and revert changes outside the brief's scope.",
				Prevention: "List the files and functions a change affects in the brief before editing.",
			},
			Details: map[string]any{
				"drift":        rep.Drift,
				"velocity":     rep.Velocity,
				"trend":        rep.Trend,
				"addedNames":   rep.AddedNames,
				"removedNames": rep.RemovedNames,
			},
		})
		res.Escalate(status)
	}
	if rep.ReviewRequired {
		res.Add(verdict.Finding{
			RuleID:   "drift.review_required",
			Severity: verdict.SeverityError,
			FilePath: rep.FilePath,
			Message:  fmt.Sprintf("drift exceeded 10%% in %d consecutive sessions; a human review is required", rep.ConsecutiveHigh),
			Pedagogy: verdict.Pedagogy{
				Why:        "A file that keeps drifting across sessions is being redesigned piecemeal without anyone owning the design.",
				HowToFix:   "Review the file end to end, then call drift_clear_review with its path.",
				Prevention: "Plan structural rewrites explicitly instead of letting them accumulate session by session.",
			},
			Details: map[string]any{"consecutiveHigh": rep.ConsecutiveHigh, "newlyFlagged": rep.NewlyFlagged},
		})
		res.Escalate(verdict.StatusFail)
	}
	return c.done(ctx, res)
}

// DriftClearReview acknowledges that a flagged file has been reviewed.
func (s *Suite) DriftClearReview(ctx context.Context, args DriftClearArgs) *verdict.Result {
	c := s.begin(NameDriftClearReview, "")
	if err := check(&args); err != nil {
		return c.fail(ctx, err)
	}
	if err := s.drift.ClearReview(ctx, args.FilePath); err != nil {
		return c.fail(ctx, err)
	}
	res := verdict.New(NameDriftClearReview)
	res.Pedagogy = verdict.Pedagogy{
		Why:        "Clearing the review restarts escalation from zero for this file.",
		HowToFix:   "Nothing to fix.",
		Prevention: "Clear a review only after reading the file, not to silence the warning.",
	}
	res.Summary = fmt.Sprintf("review cleared for %s", args.FilePath)
	return c.done(ctx, res)
}

// HallucinationCheck verifies the imports of a Go file or an explicit
// import list.
func (s *Suite) HallucinationCheck(ctx context.Context, args HallucinationArgs) *verdict.Result {
	c := s.begin(NameHallucinationCheck, args.SessionID)
	if err := check(&args); err != nil {
		return c.fail(ctx, err)
	}

	var (
		rep *hallucination.Report
		err error
	)
	if args.FilePath != "" {
		rep, err = s.checker.CheckFile(ctx, args.SessionID, args.FilePath)
	} else {
		eco := hallucination.EcosystemGo
		if args.Ecosystem != "" {
			if eco, err = hallucination.ParseEcosystem(args.Ecosystem); err != nil {
				return c.fail(ctx, errs.Validation("ecosystem", "%v", err))
			}
		}
		rep, err = s.checker.CheckImports(ctx, args.SessionID, eco, args.Imports, args.ProjectDir)
	}
	if err != nil {
		return c.fail(ctx, err)
	}
	if err := c.ensure(ctx); err != nil {
		return c.fail(ctx, err)
	}
	return c.done(ctx, hallucinationResult(rep))
}

func hallucinationResult(rep *hallucination.Report) *verdict.Result {
	res := verdict.New(NameHallucinationCheck)
	res.Data = rep
	res.Status = rep.Status()
	res.Summary = fmt.Sprintf("%d imports checked: %d hallucinated, %d possible typosquats, %d unverified",
		len(rep.Imports), rep.Hallucinated, rep.Typosquats, rep.Unknown)
	res.Pedagogy = verdict.Pedagogy{
		Why:        "Assistants invent plausible package names and APIs; an attacker who registers an invented name gets code execution on install.",
		HowToFix:   "Nothing to fix when every import verified.",
		Prevention: "Verify imports before installing dependencies an assistant suggested.",
	}

	for _, ir := range rep.Imports {
		switch ir.Verdict {
		case hallucination.VerdictHallucinated:
			res.Add(verdict.Finding{
				RuleID:   "hallucination." + ir.FailedLevel,
				Severity: verdict.SeverityError,
				FilePath: rep.FilePath,
				Message:  fmt.Sprintf("import %q failed the %s check: %s", ir.Path, ir.FailedLevel, ir.Evidence),
				Pedagogy: hallucinatedPedagogy(ir),
				Details:  importDetails(ir),
			})
		case hallucination.VerdictTyposquat:
			res.Add(verdict.Finding{
				RuleID:   "hallucination.typosquat",
				Severity: verdict.SeverityWarning,
				FilePath: rep.FilePath,
				Message:  fmt.Sprintf("import %q does not exist but is %.0f%% similar to %q", ir.Path, ir.Similarity*100, ir.Suggestion),
				Pedagogy: verdict.Pedagogy{
					Why:        "Names one edit away from a popular package are the ones slopsquatters register.",
					HowToFix:   fmt.Sprintf("Replace %q with %q if that was intended, and never install the misspelled name.", ir.Path, ir.Suggestion),
					Prevention: "Copy import paths from the package's documentation rather than from generated code.",
				},
				Details: importDetails(ir),
			})
		case hallucination.VerdictUnknown:
			res.Add(verdict.Finding{
				RuleID:   "hallucination.unverified",
				Severity: verdict.SeverityInfo,
				FilePath: rep.FilePath,
				Message:  fmt.Sprintf("import %q could not be verified: %s", ir.Path, unknownDetail(ir)),
				Pedagogy: verdict.Pedagogy{
					Why:        "Existence could not be confirmed or disproved: the registry was unreachable, or the import name does not match a known distribution.",
					HowToFix:   "Re-run the check when the network is available, or confirm which package provides the import.",
					Prevention: "Build the offline package filter for disconnected work and declare dependencies in a manifest.",
				},
				Details: importDetails(ir),
			})
		}
	}
	return res
}

// unknownDetail is the detail of the first level that could not decide.
func unknownDetail(ir hallucination.ImportResult) string {
	for _, lr := range ir.Levels {
		if lr.Outcome == hallucination.OutcomeUnknown && lr.Detail != "" {
			return lr.Detail
		}
	}
	return ir.Evidence
}

func hallucinatedPedagogy(ir hallucination.ImportResult) verdict.Pedagogy {
	switch ir.FailedLevel {
	case hallucination.LevelSurface.String():
		return verdict.Pedagogy{
			Why:        "The package exists but does not export " + strings.Join(ir.MissingSymbols, ", ") + "; the assistant invented part of its API.",
			HowToFix:   "Look the package up at the pinned version and use the functions it actually exports.",
			Prevention: "Ask the assistant to cite the package documentation for any API it has not used in this codebase before.",
		}
	case hallucination.LevelVersion.String():
		return verdict.Pedagogy{
			Why:        "The pinned version is not one the registry publishes, so the build or install will fail or fetch something else.",
			HowToFix:   "Pin a version the registry lists, for example the latest release.",
			Prevention: "Let the package manager choose versions instead of accepting generated version strings.",
		}
	default:
		return verdict.Pedagogy{
			Why:        "The import does not resolve to any real package; installing it would fetch whatever an attacker registers under that name.",
			HowToFix:   "Remove the import and find the real package that provides the functionality.",
			Prevention: "Verify every new dependency before adding it to go.mod, requirements.txt or package.json.",
		}
	}
}

func importDetails(ir hallucination.ImportResult) map[string]any {
	d := map[string]any{"import": ir.Path, "class": ir.Class, "levels": ir.Levels}
	if ir.Package != "" {
		d["package"] = ir.Package
	}
	if ir.Suggestion != "" {
		d["suggestion"] = ir.Suggestion
		d["similarity"] = ir.Similarity
	}
	if len(ir.MissingSymbols) > 0 {
		d["missingSymbols"] = ir.MissingSymbols
	}
	return d
}

// PromptShield scans every source given (text, file, tool payload) for
// prompt injection and merges the hits.
func (s *Suite) PromptShield(ctx context.Context, args ShieldArgs) *verdict.Result {
	c := s.begin(NamePromptShield, args.SessionID)
	if err := check(&args); err != nil {
		return c.fail(ctx, err)
	}
	if args.Text == "" && args.FilePath == "" && args.Payload == nil {
		return c.fail(ctx, errs.Validation("text", "one of text, filePath or payload is required"))
	}

	var reports []*shield.Report
	if args.Text != "" {
		reports = append(reports, s.shield.ScanText(ctx, args.SessionID, args.Text))
	}
	if args.FilePath != "" {
		fileRep, err := s.shield.ScanFile(ctx, args.SessionID, args.FilePath)
		if err != nil {
			return c.fail(ctx, err)
		}
		reports = append(reports, fileRep)
	}
	if args.Payload != nil {
		reports = append(reports, s.shield.ScanPayload(ctx, args.SessionID, args.Payload))
	}
	if err := c.ensure(ctx); err != nil {
		return c.fail(ctx, err)
	}
	rep := shield.Merge(reports...)

	res := verdict.New(NamePromptShield)
	res.Data = rep
	res.Status = rep.Status()
	res.Summary = fmt.Sprintf("%d injection patterns in %d scanned strings", len(rep.Matches), rep.Scanned)
	res.Pedagogy = verdict.Pedagogy{
		Why:        "Content an assistant reads can carry instructions that redirect it; the shield looks for the known shapes of those instructions.",
		HowToFix:   "Nothing to fix when no pattern matched.",
		Prevention: "Treat files, web pages and tool output as data, never as instructions.",
	}
	for _, r := range reports {
		filePath := ""
		if r.Source == "file" {
			filePath = args.FilePath
		}
		for _, m := range r.Matches {
			sev := verdict.SeverityWarning
			if m.Category.Blocking() {
				sev = verdict.SeverityCritical
			}
			res.Add(verdict.Finding{
				RuleID:   "shield." + m.Category.String(),
				Severity: sev,
				FilePath: filePath,
				Message:  fmt.Sprintf("%s at %s: %q", m.Pattern, m.Location, m.Excerpt),
				Pedagogy: shieldPedagogy[m.Category],
				Details:  map[string]any{"source": r.Source, "location": m.Location, "decoded": m.Decoded},
			})
		}
	}
	return c.done(ctx, res)
}

var shieldPedagogy = map[shield.Category]verdict.Pedagogy{
	shield.CategorySystemOverride: {
		Why:        "Text that tells the assistant to ignore its instructions is the classic injection; following it discards every guard.",
		HowToFix:   "Do not pass this content to the assistant; strip or quote the offending passage.",
		Prevention: "Keep untrusted content out of the instruction channel and label it as quoted data.",
	},
	shield.CategoryRoleHijack: {
		Why:        "Role reassignment tries to make the assistant adopt a persona with different rules.",
		HowToFix:   "Review where the text came from before letting the assistant act on it.",
		Prevention: "Pin the assistant's role in the system prompt and reject content that renegotiates it.",
	},
	shield.CategoryExfiltration: {
		Why:        "The content asks the assistant to reveal its prompt or send secrets somewhere.",
		HowToFix:   "Block the content and rotate any credential that may have been exposed.",
		Prevention: "Never give an assistant network egress and secrets in the same session.",
	},
	shield.CategoryEncodingEvasion: {
		Why:        "Encoded or invisible text hides instructions from human reviewers while the model still reads them.",
		HowToFix:   "Decode the content, review it as plain text and remove hidden characters.",
		Prevention: "Normalize and strip invisible characters from content before it reaches the assistant.",
	},
	shield.CategoryDelimiterEscape: {
		Why:        "Fake role markers or chat-template tokens try to close the data section and open a new instruction section.",
		HowToFix:   "Escape or remove the delimiter tokens before passing the content on.",
		Prevention: "Wrap untrusted content in delimiters the content itself cannot produce.",
	},
}

// BriefCheck scores a change-intent brief under the requested or default
// enforcement mode.
func (s *Suite) BriefCheck(ctx context.Context, args BriefArgs) *verdict.Result {
	c := s.begin(NameBriefCheck, args.SessionID)
	if err := check(&args); err != nil {
		return c.fail(ctx, err)
	}
	var mode brief.Mode
	if args.Mode != "" {
		m, err := brief.ParseMode(args.Mode)
		if err != nil {
			return c.fail(ctx, errs.Validation("mode", "%v", err))
		}
		mode = m
	}
	raw, err := json.Marshal(args.Brief)
	if err != nil {
		return c.fail(ctx, errs.Validation("brief", "%v", err))
	}
	ev, err := s.brief.Evaluate(ctx, args.SessionID, raw, mode)
	if err != nil {
		return c.fail(ctx, err)
	}
	if err := c.ensure(ctx); err != nil {
		return c.fail(ctx, err)
	}

	res := verdict.New(NameBriefCheck)
	res.Data = ev
	res.Status = ev.Status
	res.Summary = fmt.Sprintf("brief scored %.2f (%s, adjusted %.2f) in %s mode", ev.Score, ev.Level, ev.AdjustedScore, ev.Mode)
	res.Pedagogy = verdict.Pedagogy{
		Why:        "A brief that states intent, constraints and affected scope gives every later check something to compare the change against.",
		HowToFix:   "Fill in the missing fields with concrete files, behaviours and limits.",
		Prevention: "Write the brief before the first edit, and update it when the plan changes.",
	}

	sev := verdict.SeverityWarning
	if ev.Flagged {
		sev = verdict.SeverityError
	}
	for _, fs := range ev.Fields {
		switch {
		case fs.Vague:
			res.Add(verdict.Finding{
				RuleID:   "brief.vague." + fs.Name,
				Severity: sev,
				Message:  fmt.Sprintf("%s is filler (%q) and scores as absent", fs.Name, fs.Filler),
				Pedagogy: verdict.Pedagogy{
					Why:        "Phrases like \"fix it\" carry no information a reviewer or a later check can verify.",
					HowToFix:   "Say what changes, where, and what must stay the same.",
					Prevention: "Name a file, a function or a behaviour in every required field.",
				},
			})
		case !fs.Present && fs.Required:
			res.Add(verdict.Finding{
				RuleID:   "brief.missing." + fs.Name,
				Severity: sev,
				Message:  fmt.Sprintf("required field %s is missing", fs.Name),
			})
		case !fs.Present:
			res.Add(verdict.Finding{
				RuleID:   "brief.optional." + fs.Name,
				Severity: verdict.SeverityInfo,
				Message:  fmt.Sprintf("optional field %s would add %.2f points", fs.Name, 40.0/float64(len(brief.OptionalFields))),
			})
		}
	}
	return c.done(ctx, res)
}
