// Package learning records what every analyzer observed as an append-only
// event log and aggregates that log into developer profiles.
package learning

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the payload of a learning event.
type Kind int

const (
	KindViolation Kind = iota + 1
	KindBriefScore
	KindDrift
	KindHallucination
	KindConfigIssue
	KindInjection
)

func (k Kind) String() string {
	switch k {
	case KindViolation:
		return "violation"
	case KindBriefScore:
		return "brief_score"
	case KindDrift:
		return "drift"
	case KindHallucination:
		return "hallucination"
	case KindConfigIssue:
		return "config_issue"
	case KindInjection:
		return "injection"
	default:
		return "unspecified"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindViolation; k <= KindInjection; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Payload is implemented by every typed event payload.
type Payload interface {
	Kind() Kind
}

// Violation is an upstream guard or rule finding.
type Violation struct {
	GuardName string `json:"guardName"`
	Severity  string `json:"severity"`
	FilePath  string `json:"filePath,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (Violation) Kind() Kind { return KindViolation }

// BriefScore is one brief evaluation.
type BriefScore struct {
	Score         float64  `json:"score"`
	AdjustedScore float64  `json:"adjustedScore"`
	Level         string   `json:"level"`
	Mode          string   `json:"mode"`
	Flagged       bool     `json:"flagged"`
	Missing       []string `json:"missing,omitempty"`
}

func (BriefScore) Kind() Kind { return KindBriefScore }

// Drift is one drift check of a file.
type Drift struct {
	FilePath       string  `json:"filePath"`
	Drift          float64 `json:"drift"`
	Velocity       float64 `json:"velocity"`
	Trend          string  `json:"trend"`
	Band           string  `json:"band"`
	ReviewRequired bool    `json:"reviewRequired"`
}

func (Drift) Kind() Kind { return KindDrift }

// Hallucination is the verdict on one non-stdlib import.
type Hallucination struct {
	ImportPath  string  `json:"importPath"`
	Ecosystem   string  `json:"ecosystem"`
	Verdict     string  `json:"verdict"`
	FailedLevel string  `json:"failedLevel,omitempty"`
	Suggestion  string  `json:"suggestion,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
}

func (Hallucination) Kind() Kind { return KindHallucination }

// ConfigIssue reports a misconfiguration noticed while serving a call.
type ConfigIssue struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

func (ConfigIssue) Kind() Kind { return KindConfigIssue }

// Injection is one prompt-injection category hit.
type Injection struct {
	Category string `json:"category"`
	Location string `json:"location,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
}

func (Injection) Kind() Kind { return KindInjection }
