package tools

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/hallucination"
)

// Every argument field is optional at the JSON level so that a missing
// value reaches the validator and comes back as a fail result with
// pedagogy rather than a protocol error.

// SessionStartArgs opens or resumes a session.
type SessionStartArgs struct {
	SessionID   string `json:"sessionId,omitempty" validate:"required" jsonschema:"identifier of the AI-assisted session"`
	AITool      string `json:"aiTool,omitempty" jsonschema:"name of the assistant driving the session"`
	ProjectPath string `json:"projectPath,omitempty" jsonschema:"absolute path of the project root"`
}

// SessionEndArgs closes a session.
type SessionEndArgs struct {
	SessionID string `json:"sessionId,omitempty" validate:"required" jsonschema:"identifier of the session to close"`
	Reason    string `json:"reason,omitempty" jsonschema:"why the session ended; defaults to completed"`
}

// FileChangeArgs records one modified file.
type FileChangeArgs struct {
	SessionID  string `json:"sessionId,omitempty" validate:"required" jsonschema:"identifier of the session"`
	FilePath   string `json:"filePath,omitempty" validate:"required" jsonschema:"path of the modified file"`
	DeltaLines int    `json:"deltaLines,omitempty" validate:"gte=0" jsonschema:"number of lines added or removed"`
}

// SessionArgs names a session.
type SessionArgs struct {
	SessionID string `json:"sessionId,omitempty" validate:"required" jsonschema:"identifier of the session"`
}

// DriftCheckArgs snapshots one Go file.
type DriftCheckArgs struct {
	SessionID string `json:"sessionId,omitempty" validate:"required" jsonschema:"identifier of the session"`
	FilePath  string `json:"filePath,omitempty" validate:"required" jsonschema:"path of the Go file to measure"`
}

// DriftClearArgs acknowledges a drift review.
type DriftClearArgs struct {
	FilePath string `json:"filePath,omitempty" validate:"required" jsonschema:"path of the reviewed file"`
}

// HallucinationArgs verifies either a Go file or an explicit import list.
type HallucinationArgs struct {
	SessionID  string                 `json:"sessionId,omitempty" jsonschema:"identifier of the session"`
	FilePath   string                 `json:"filePath,omitempty" validate:"required_without=Imports" jsonschema:"Go source file whose imports are checked"`
	Ecosystem  string                 `json:"ecosystem,omitempty" validate:"omitempty,oneof=go golang pypi python pip npm node javascript typescript js ts" jsonschema:"package ecosystem of the imports: go, pypi or npm"`
	Imports    []hallucination.Import `json:"imports,omitempty" validate:"required_without=FilePath,dive" jsonschema:"imports to verify when no file is given"`
	ProjectDir string                 `json:"projectDir,omitempty" jsonschema:"directory used to locate go.mod for an import list"`
}

// ShieldArgs scans text, a file or a structured tool payload. Exactly one
// source is used, in that order of preference.
type ShieldArgs struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"identifier of the session"`
	Text      string `json:"text,omitempty" jsonschema:"raw text to scan"`
	FilePath  string `json:"filePath,omitempty" jsonschema:"file whose content is scanned"`
	Payload   any    `json:"payload,omitempty" jsonschema:"structured tool input whose string leaves are scanned"`
}

// BriefArgs scores a change-intent brief.
type BriefArgs struct {
	SessionID string         `json:"sessionId,omitempty" jsonschema:"identifier of the session"`
	Brief     map[string]any `json:"brief,omitempty" validate:"required" jsonschema:"brief with intent, constraints, affects and optional tradeoffs, rollback, dependencies"`
	Mode      string         `json:"mode,omitempty" validate:"omitempty,oneof=strict normal" jsonschema:"enforcement mode: strict or normal"`
}

// RecordFindingArgs forwards an upstream guard or rule finding.
type RecordFindingArgs struct {
	SessionID     string `json:"sessionId,omitempty" validate:"required" jsonschema:"identifier of the session"`
	GuardOrRuleID string `json:"guardOrRuleId,omitempty" validate:"required" jsonschema:"identifier of the guard or rule that fired"`
	Severity      string `json:"severity,omitempty" validate:"required" jsonschema:"severity such as info, warning, error or critical"`
	FilePath      string `json:"filePath,omitempty" jsonschema:"file the finding refers to"`
	Message       string `json:"message,omitempty" jsonschema:"human readable description"`
}

// ProfileArgs scopes a developer profile.
type ProfileArgs struct {
	ProjectPath string `json:"projectPath,omitempty" jsonschema:"restrict to sessions of this project"`
	AITool      string `json:"aiTool,omitempty" jsonschema:"restrict to sessions of this assistant"`
	TopN        int    `json:"topN,omitempty" validate:"gte=0,lte=50" jsonschema:"number of violations and hotspots to list"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// check validates args and converts the first violated rule into an
// errs.ValidationError.
func check(args any) error {
	err := validate.Struct(args)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errs.Validation("arguments", "%v", err)
	}
	fe := verrs[0]
	t := reflect.TypeOf(args)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	field := strings.TrimPrefix(fe.Namespace(), t.Name()+".")
	switch fe.Tag() {
	case "required", "required_without":
		return errs.Validation(field, "is required")
	case "oneof":
		return errs.Validation(field, "must be one of %s, got %v", fe.Param(), fe.Value())
	case "gte", "lte":
		return errs.Validation(field, "must be %s %s, got %v", fe.Tag(), fe.Param(), fe.Value())
	default:
		return errs.Validation(field, "failed %s check", fe.Tag())
	}
}
