// Package hallucination verifies that imports written by an AI assistant
// refer to packages and symbols that actually exist, in four escalating
// levels, and flags near-miss names as possible slopsquatting.
package hallucination

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is one verification stage.
type Level int

const (
	LevelLocal Level = iota + 1
	LevelRegistry
	LevelSurface
	LevelVersion
)

// Levels lists every level in evaluation order.
var Levels = []Level{LevelLocal, LevelRegistry, LevelSurface, LevelVersion}

func (l Level) String() string {
	switch l {
	case LevelLocal:
		return "local"
	case LevelRegistry:
		return "registry"
	case LevelSurface:
		return "surface"
	case LevelVersion:
		return "version"
	default:
		return "unspecified"
	}
}

func (l Level) MarshalJSON() ([]byte, error) { return json.Marshal(l.String()) }

// Outcome is the result of one level.
type Outcome int

const (
	OutcomeSkipped Outcome = iota + 1
	OutcomePass
	OutcomeFail
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomePass:
		return "pass"
	case OutcomeFail:
		return "fail"
	case OutcomeUnknown:
		return "unknown"
	default:
		return "unspecified"
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) { return json.Marshal(o.String()) }

// Verdict is the overall judgement on one import.
type Verdict int

const (
	VerdictOK Verdict = iota + 1
	VerdictUnknown
	VerdictTyposquat
	VerdictHallucinated
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictUnknown:
		return "unknown"
	case VerdictTyposquat:
		return "possible_typosquat"
	case VerdictHallucinated:
		return "hallucinated"
	default:
		return "unspecified"
	}
}

func (v Verdict) MarshalJSON() ([]byte, error) { return json.Marshal(v.String()) }

// Ecosystem is a package registry family.
type Ecosystem int

const (
	EcosystemGo Ecosystem = iota + 1
	EcosystemPyPI
	EcosystemNPM
)

func (e Ecosystem) String() string {
	switch e {
	case EcosystemGo:
		return "go"
	case EcosystemPyPI:
		return "pypi"
	case EcosystemNPM:
		return "npm"
	default:
		return "unspecified"
	}
}

func (e Ecosystem) MarshalJSON() ([]byte, error) { return json.Marshal(e.String()) }

// ParseEcosystem accepts the registry name or its language.
func ParseEcosystem(s string) (Ecosystem, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "go", "golang":
		return EcosystemGo, nil
	case "pypi", "python", "pip":
		return EcosystemPyPI, nil
	case "npm", "node", "javascript", "typescript", "js", "ts":
		return EcosystemNPM, nil
	default:
		return 0, fmt.Errorf("unknown ecosystem %q (want go, pypi or npm)", s)
	}
}

// LevelResult is the outcome of one level for one import.
type LevelResult struct {
	Level   Level   `json:"level"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
}
