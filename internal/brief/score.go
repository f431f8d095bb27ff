package brief

import (
	"math"
	"regexp"
	"strings"
)

const (
	requiredPoints = 20.0
	optionalTotal  = 40.0
)

// Field names, required first.
var (
	RequiredFields = []string{"intent", "constraints", "affects"}
	OptionalFields = []string{"tradeoffs", "rollback", "dependencies"}
)

var defaultFillers = []string{
	"fix it", "fix this", "fix the bug", "fix bug", "make it work", "make it better",
	"whatever", "stuff", "things", "tbd", "todo", "n/a", "na", "none", "idk",
	"as needed", "do the thing", "just do it", "update code", "clean up", "etc", "misc",
}

var defaultVerbs = []string{
	"add", "remove", "rename", "refactor", "fix", "replace", "extract", "migrate",
	"implement", "introduce", "delete", "update", "move", "split", "validate",
	"cache", "retry", "deprecate", "inline", "guard",
}

var defaultTerms = []string{
	"api", "endpoint", "schema", "migration", "index", "transaction", "goroutine",
	"mutex", "cache", "ttl", "latency", "timeout", "retry", "idempotent",
	"concurrency", "handler", "middleware", "interface", "struct", "query",
}

var (
	pathRef   = regexp.MustCompile(`\b[\w.-]+/[\w./-]*[\w-]|\b[\w-]+\.(go|py|ts|tsx|js|jsx|sql|ya?ml|json|md|proto|toml|sh)\b`)
	nonWord   = regexp.MustCompile(`[^\p{L}\p{N}/]+`)
	spaceRuns = regexp.MustCompile(`\s+`)
)

// Policy holds the scoring vocabulary and bonus sizes.
type Policy struct {
	Mode          Mode
	FillerPhrases []string
	ActionVerbs   []string
	TechTerms     []string
	VerbBonus     float64
	PathBonus     float64
	TermBonus     float64
	MaxBonus      float64
}

// DefaultPolicy returns the built-in vocabulary.
func DefaultPolicy() Policy {
	return Policy{
		Mode:          ModeNormal,
		FillerPhrases: defaultFillers,
		ActionVerbs:   defaultVerbs,
		TechTerms:     defaultTerms,
		VerbBonus:     2,
		PathBonus:     2,
		TermBonus:     1,
		MaxBonus:      5,
	}
}

// FieldScore is the contribution of one brief field.
type FieldScore struct {
	Name     string  `json:"name"`
	Required bool    `json:"required"`
	Present  bool    `json:"present"`
	Vague    bool    `json:"vague,omitempty"`
	Filler   string  `json:"filler,omitempty"`
	Points   float64 `json:"points"`
}

// Breakdown is the pure scoring result of a brief.
type Breakdown struct {
	Score         float64      `json:"score"`
	Bonus         float64      `json:"bonus"`
	AdjustedScore float64      `json:"adjustedScore"`
	Level         Level        `json:"level"`
	Fields        []FieldScore `json:"fields"`
	Missing       []string     `json:"missing,omitempty"`
	Vague         []string     `json:"vague,omitempty"`
	BonusReasons  []string     `json:"bonusReasons,omitempty"`
}

// Score rates a brief whose fields have been flattened to text. A
// required field that is only filler scores as absent. Bonuses never move
// the brief into a higher level.
func (p Policy) Score(fields map[string]string) Breakdown {
	var b Breakdown
	for _, name := range RequiredFields {
		fs := FieldScore{Name: name, Required: true}
		text := strings.TrimSpace(fields[name])
		fs.Present = text != ""
		if fs.Present {
			if filler, ok := p.filler(text); ok {
				fs.Vague, fs.Filler = true, filler
				b.Vague = append(b.Vague, name)
			} else {
				fs.Points = requiredPoints
			}
		}
		if !fs.Present {
			b.Missing = append(b.Missing, name)
		}
		b.Score += fs.Points
		b.Fields = append(b.Fields, fs)
	}
	optional := 0
	for _, name := range OptionalFields {
		fs := FieldScore{Name: name}
		if strings.TrimSpace(fields[name]) != "" {
			fs.Present = true
			fs.Points = round2(optionalTotal / float64(len(OptionalFields)))
			optional++
		} else {
			b.Missing = append(b.Missing, name)
		}
		b.Fields = append(b.Fields, fs)
	}
	b.Score += optionalTotal * float64(optional) / float64(len(OptionalFields))
	b.Score = round2(math.Max(0, math.Min(100, b.Score)))
	b.Level = LevelFor(b.Score)

	bonus := p.bonus(fields, &b)
	b.AdjustedScore = b.Score
	if bonus > 0 {
		limit := b.Level.ceiling()
		if b.Level != LevelStrong {
			limit -= 0.01
		}
		b.AdjustedScore = round2(math.Min(b.Score+bonus, limit))
		b.Bonus = round2(b.AdjustedScore - b.Score)
	}
	return b
}

func (p Policy) bonus(fields map[string]string, b *Breakdown) float64 {
	intent := normalize(fields["intent"])
	var all []string
	for _, name := range append(append([]string{}, RequiredFields...), OptionalFields...) {
		all = append(all, fields[name])
	}
	joined := strings.Join(all, "\n")
	words := " " + normalize(joined) + " "

	total := 0.0
	for _, v := range p.ActionVerbs {
		if containsWord(" "+intent+" ", v) {
			total += p.VerbBonus
			b.BonusReasons = append(b.BonusReasons, "action verb: "+v)
			break
		}
	}
	if m := pathRef.FindString(joined); m != "" {
		total += p.PathBonus
		b.BonusReasons = append(b.BonusReasons, "path reference: "+m)
	}
	for _, term := range p.TechTerms {
		if containsWord(words, term) {
			total += p.TermBonus
			b.BonusReasons = append(b.BonusReasons, "technical term: "+term)
		}
	}
	if p.MaxBonus > 0 && total > p.MaxBonus {
		total = p.MaxBonus
	}
	return total
}

// filler reports whether text is a filler phrase padded with at most two
// other words.
func (p Policy) filler(text string) (string, bool) {
	norm := normalize(text)
	if norm == "" {
		return "", true
	}
	n := len(strings.Fields(norm))
	for _, f := range p.FillerPhrases {
		fn := normalize(f)
		if fn == "" {
			continue
		}
		if norm == fn {
			return f, true
		}
		if n <= len(strings.Fields(fn))+2 && containsWord(" "+norm+" ", fn) {
			return f, true
		}
	}
	return "", false
}

func normalize(s string) string {
	s = nonWord.ReplaceAllString(strings.ToLower(s), " ")
	return strings.TrimSpace(spaceRuns.ReplaceAllString(s, " "))
}

// containsWord matches phrase on word boundaries inside a space-padded
// normalized string.
func containsWord(padded, phrase string) bool {
	return strings.Contains(padded, " "+normalize(phrase)+" ")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
