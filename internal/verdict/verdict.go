// Package verdict defines the structured result every analyzer returns:
// a status, findings that each carry a pedagogy block, and an optional
// session context.
package verdict

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the overall outcome of one analyzer call.
type Status int

const (
	StatusPass Status = iota + 1
	StatusWarn
	StatusFail
	StatusBlock
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	case StatusBlock:
		return "block"
	default:
		return "unspecified"
	}
}

// Worse returns the more severe of s and o.
func (s Status) Worse(o Status) Status {
	if o > s {
		return o
	}
	return s
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "pass":
		*s = StatusPass
	case "warn":
		*s = StatusWarn
	case "fail":
		*s = StatusFail
	case "block":
		*s = StatusBlock
	default:
		return fmt.Errorf("unknown status %q", name)
	}
	return nil
}

// Severity ranks a single finding.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unspecified"
	}
}

// ParseSeverity maps the severity vocabularies used by upstream lint and
// static-analysis producers onto Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "note", "low", "hint":
		return SeverityInfo, nil
	case "warning", "warn", "medium", "moderate":
		return SeverityWarning, nil
	case "error", "high", "fail":
		return SeverityError, nil
	case "critical", "blocker", "fatal":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Pedagogy explains a finding to the developer.
type Pedagogy struct {
	Why        string `json:"why"`
	HowToFix   string `json:"howToFix"`
	Prevention string `json:"prevention"`
}

// Complete reports whether all three explanations are present.
func (p Pedagogy) Complete() bool {
	return p.Why != "" && p.HowToFix != "" && p.Prevention != ""
}

// Finding is one observation made by an analyzer.
type Finding struct {
	RuleID   string         `json:"ruleId"`
	Severity Severity       `json:"severity"`
	FilePath string         `json:"filePath,omitempty"`
	Message  string         `json:"message"`
	Pedagogy Pedagogy       `json:"pedagogy"`
	Details  map[string]any `json:"details,omitempty"`
}

// SessionContext summarizes the session a result belongs to.
type SessionContext struct {
	DurationMinutes float64 `json:"durationMinutes"`
	EntropyScore    float64 `json:"entropyScore"`
	FilesModified   int     `json:"filesModified"`
}

// Result is the structured verdict returned for every tool invocation.
type Result struct {
	Tool           string          `json:"tool"`
	Status         Status          `json:"status"`
	Summary        string          `json:"summary"`
	Findings       []Finding       `json:"findings"`
	Pedagogy       Pedagogy        `json:"pedagogy"`
	SessionContext *SessionContext `json:"sessionContext,omitempty"`
	Data           any             `json:"data,omitempty"`
}

// New returns a passing result for tool with an empty findings list.
func New(tool string) *Result {
	return &Result{
		Tool:     tool,
		Status:   StatusPass,
		Findings: []Finding{},
	}
}

// Add appends a finding. A finding whose pedagogy is incomplete is filled
// from the result-level pedagogy so that no finding ships without one.
func (r *Result) Add(f Finding) {
	if f.Pedagogy.Why == "" {
		f.Pedagogy.Why = r.Pedagogy.Why
	}
	if f.Pedagogy.HowToFix == "" {
		f.Pedagogy.HowToFix = r.Pedagogy.HowToFix
	}
	if f.Pedagogy.Prevention == "" {
		f.Pedagogy.Prevention = r.Pedagogy.Prevention
	}
	r.Findings = append(r.Findings, f)
}

// Escalate raises the status to s if s is worse.
func (r *Result) Escalate(s Status) {
	r.Status = r.Status.Worse(s)
}

// Count returns the number of findings at severity sev.
func (r *Result) Count(sev Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}
