package brief

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/clock"
	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/learning"
	"github.com/highbeam/changeguard/internal/store"
	"github.com/highbeam/changeguard/internal/verdict"
)

// schemaJSON describes the accepted shape. Missing fields are scored,
// not rejected; wrong types and unknown fields are rejected.
const schemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"intent":       {"$ref": "#/$defs/text"},
		"constraints":  {"$ref": "#/$defs/text"},
		"affects":      {"$ref": "#/$defs/text"},
		"tradeoffs":    {"$ref": "#/$defs/text"},
		"rollback":     {"$ref": "#/$defs/text"},
		"dependencies": {"$ref": "#/$defs/text"}
	},
	"$defs": {
		"text": {
			"oneOf": [
				{"type": "string"},
				{"type": "array", "items": {"type": "string"}}
			]
		}
	}
}`

var briefSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("brief schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("brief.json", doc); err != nil {
		panic(fmt.Sprintf("brief schema: %v", err))
	}
	return c.MustCompile("brief.json")
}

// Evaluation is a scored, persisted brief.
type Evaluation struct {
	Breakdown
	SessionID string         `json:"sessionId,omitempty"`
	Mode      Mode           `json:"mode"`
	Status    verdict.Status `json:"status"`
	Flagged   bool           `json:"flagged"`
	RecordID  int64          `json:"recordId"`
}

// Enforcer validates, scores and records briefs.
type Enforcer struct {
	store  *store.Store
	clock  clock.Clock
	bridge *learning.Bridge
	logger *zap.Logger
	policy Policy
}

// NewEnforcer creates an Enforcer. Empty policy vocabularies fall back to
// the built-in lists.
func NewEnforcer(s *store.Store, c clock.Clock, bridge *learning.Bridge, logger *zap.Logger, policy Policy) *Enforcer {
	def := DefaultPolicy()
	if policy.Mode == 0 {
		policy.Mode = def.Mode
	}
	if len(policy.FillerPhrases) == 0 {
		policy.FillerPhrases = def.FillerPhrases
	}
	if len(policy.ActionVerbs) == 0 {
		policy.ActionVerbs = def.ActionVerbs
	}
	if len(policy.TechTerms) == 0 {
		policy.TechTerms = def.TechTerms
	}
	return &Enforcer{store: s, clock: c, bridge: bridge, logger: logger, policy: policy}
}

// DefaultMode is the configured enforcement mode.
func (e *Enforcer) DefaultMode() Mode { return e.policy.Mode }

// Evaluate validates raw against the brief shape, scores it, persists a
// BriefRecord and emits a brief_score event. A zero mode uses the
// configured default.
func (e *Enforcer) Evaluate(ctx context.Context, sessionID string, raw json.RawMessage, mode Mode) (*Evaluation, error) {
	if mode == 0 {
		mode = e.policy.Mode
	}
	fields, err := decode(raw)
	if err != nil {
		return nil, err
	}

	ev := &Evaluation{
		Breakdown: e.policy.Score(fields),
		SessionID: sessionID,
		Mode:      mode,
	}
	ev.Status, ev.Flagged = mode.Assess(ev.Score)

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return nil, errs.Validation("brief", "%v", err)
	}
	rec := &store.BriefRecord{
		SessionID:  sessionID,
		Brief:      compact.Bytes(),
		Score:      ev.Score,
		Level:      ev.Level.String(),
		RecordedAt: e.clock.Now(),
	}
	if err := e.store.InsertBrief(ctx, rec); err != nil {
		return nil, err
	}
	ev.RecordID = rec.ID

	e.bridge.RecordSafe(ctx, sessionID, learning.BriefScore{
		Score:         ev.Score,
		AdjustedScore: ev.AdjustedScore,
		Level:         ev.Level.String(),
		Mode:          mode.String(),
		Flagged:       ev.Flagged,
		Missing:       ev.Missing,
	})
	e.logger.Debug("brief evaluated",
		zap.String("session_id", sessionID),
		zap.Float64("score", ev.Score),
		zap.Stringer("level", ev.Level),
		zap.Stringer("mode", mode))
	return ev, nil
}

// History lists the evaluated briefs of a session, oldest first.
func (e *Enforcer) History(ctx context.Context, sessionID string) ([]store.BriefRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errs.Validation("sessionId", "must not be empty")
	}
	return e.store.BriefHistory(ctx, sessionID)
}

// decode checks the shape and flattens each field to text.
func decode(raw json.RawMessage) (map[string]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errs.Validation("brief", "must not be empty")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Validation("brief", "not valid JSON: %v", err)
	}
	if err := briefSchema.Validate(doc); err != nil {
		return nil, errs.Validation("brief", "%v", err)
	}

	obj := doc.(map[string]any)
	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case string:
			fields[k] = t
		case []any:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				if s, ok := p.(string); ok && strings.TrimSpace(s) != "" {
					parts = append(parts, s)
				}
			}
			fields[k] = strings.Join(parts, "\n")
		}
	}
	return fields, nil
}
