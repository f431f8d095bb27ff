// Package shield scans text, files and structured tool payloads for
// prompt-injection phrasing. It keeps no state between calls.
package shield

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/learning"
	"github.com/highbeam/changeguard/internal/verdict"
)

const maxExcerpt = 80

// Match is one pattern hit.
type Match struct {
	Category Category `json:"category"`
	Pattern  string   `json:"pattern"`
	Location string   `json:"location"`
	Excerpt  string   `json:"excerpt"`
	Decoded  bool     `json:"decoded,omitempty"`
}

// Report lists every hit of one scan.
type Report struct {
	Source  string  `json:"source"`
	Scanned int     `json:"scanned"`
	Matches []Match `json:"matches"`
}

// Categories returns the distinct categories hit, in Categories order.
func (r *Report) Categories() []Category {
	hit := make(map[Category]bool)
	for _, m := range r.Matches {
		hit[m.Category] = true
	}
	var out []Category
	for _, c := range Categories {
		if hit[c] {
			out = append(out, c)
		}
	}
	return out
}

// Status is block when a blocking category was hit, warn on any other
// hit and pass otherwise.
func (r *Report) Status() verdict.Status {
	status := verdict.StatusPass
	for _, m := range r.Matches {
		if m.Category.Blocking() {
			return verdict.StatusBlock
		}
		status = verdict.StatusWarn
	}
	return status
}

// Merge combines reports of one call. Source lists the parts joined by +.
func Merge(reports ...*Report) *Report {
	if len(reports) == 1 {
		return reports[0]
	}
	out := &Report{Matches: []Match{}}
	sources := make([]string, 0, len(reports))
	for _, r := range reports {
		sources = append(sources, r.Source)
		out.Scanned += r.Scanned
		out.Matches = append(out.Matches, r.Matches...)
	}
	out.Source = strings.Join(sources, "+")
	return out
}

// Shield runs the category matchers.
type Shield struct {
	bridge *learning.Bridge
	logger *zap.Logger
}

// New creates a Shield. bridge may be nil.
func New(bridge *learning.Bridge, logger *zap.Logger) *Shield {
	return &Shield{bridge: bridge, logger: logger}
}

// ScanText scans raw text.
func (s *Shield) ScanText(ctx context.Context, sessionID, text string) *Report {
	rep := &Report{Source: "text", Matches: []Match{}}
	scanLines(rep, text, "text")
	s.record(ctx, sessionID, rep)
	return rep
}

// ScanFile scans a file's content. Locations are path:line.
func (s *Shield) ScanFile(ctx context.Context, sessionID, path string) (*Report, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.Validation("filePath", "must not be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("file", path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rep := &Report{Source: "file", Matches: []Match{}}
	scanLines(rep, string(data), path)
	s.record(ctx, sessionID, rep)
	return rep, nil
}

// ScanPayload scans every string leaf and map key of a decoded JSON
// value. Locations are JSON paths rooted at $.
func (s *Shield) ScanPayload(ctx context.Context, sessionID string, payload any) *Report {
	rep := &Report{Source: "payload", Matches: []Match{}}
	walk(rep, payload)
	s.record(ctx, sessionID, rep)
	return rep
}

// record emits one injection event per category hit.
func (s *Shield) record(ctx context.Context, sessionID string, rep *Report) {
	if len(rep.Matches) == 0 {
		return
	}
	s.logger.Info("prompt injection detected",
		zap.String("session_id", sessionID),
		zap.String("source", rep.Source),
		zap.Int("matches", len(rep.Matches)))
	if sessionID == "" {
		return
	}
	seen := make(map[Category]bool)
	for _, m := range rep.Matches {
		if seen[m.Category] {
			continue
		}
		seen[m.Category] = true
		s.bridge.RecordSafe(ctx, sessionID, learning.Injection{
			Category: m.Category.String(),
			Location: m.Location,
			Excerpt:  m.Excerpt,
		})
	}
}

type frame struct {
	v   any
	loc string
}

// walk visits every string leaf and map key depth first with an explicit
// stack, so nesting depth has no limit.
func walk(rep *Report, root any) {
	stack := []frame{{v: root, loc: "$"}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch t := f.v.(type) {
		case string:
			rep.Scanned++
			loc := f.loc
			scanString(rep, t, func(int) string { return loc })
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for i := len(keys) - 1; i >= 0; i-- {
				child := childPath(f.loc, keys[i])
				stack = append(stack,
					frame{v: t[keys[i]], loc: child},
					frame{v: keys[i], loc: child + "{key}"})
			}
		case []any:
			for i := len(t) - 1; i >= 0; i-- {
				stack = append(stack, frame{v: t[i], loc: fmt.Sprintf("%s[%d]", f.loc, i)})
			}
		case []string:
			for i := len(t) - 1; i >= 0; i-- {
				stack = append(stack, frame{v: t[i], loc: fmt.Sprintf("%s[%d]", f.loc, i)})
			}
		case map[string]string:
			m := make(map[string]any, len(t))
			for k, e := range t {
				m[k] = e
			}
			stack = append(stack, frame{v: m, loc: f.loc})
		}
	}
}

func childPath(parent, key string) string {
	for _, r := range key {
		if !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return parent + "[" + strconv.Quote(key) + "]"
		}
	}
	if key == "" {
		return parent + `[""]`
	}
	return parent + "." + key
}

// scanLines scans text and reports locations as prefix:line.
func scanLines(rep *Report, text, prefix string) {
	rep.Scanned++
	scanString(rep, text, func(offset int) string {
		return prefix + ":" + strconv.Itoa(1+strings.Count(text[:offset], "\n"))
	})
}

func scanString(rep *Report, s string, locate func(offset int) string) {
	for _, c := range Categories {
		for _, p := range phrasePatterns[c] {
			loc := p.re.FindStringIndex(s)
			if loc == nil {
				continue
			}
			rep.Matches = append(rep.Matches, Match{
				Category: c,
				Pattern:  p.detail,
				Location: locate(loc[0]),
				Excerpt:  excerpt(s[loc[0]:loc[1]]),
			})
		}
	}
	scanEncoded(rep, s, locate)
}

// scanEncoded decodes base64 candidates and re-runs the phrase matchers
// of the other categories on the decoded text.
func scanEncoded(rep *Report, s string, locate func(offset int) string) {
	for _, loc := range base64Candidate.FindAllStringIndex(s, -1) {
		decoded, ok := decodeBase64(s[loc[0]:loc[1]])
		if !ok {
			continue
		}
		if hit, detail := matchDecoded(decoded); hit {
			rep.Matches = append(rep.Matches, Match{
				Category: CategoryEncodingEvasion,
				Pattern:  "base64-encoded " + detail,
				Location: locate(loc[0]),
				Excerpt:  excerpt(decoded),
				Decoded:  true,
			})
		}
	}
}

func matchDecoded(text string) (bool, string) {
	for _, c := range Categories {
		if c == CategoryEncodingEvasion {
			continue
		}
		for _, p := range phrasePatterns[c] {
			if p.re.MatchString(text) {
				return true, c.String() + ": " + p.detail
			}
		}
	}
	return false, ""
}

var encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.RawURLEncoding,
}

// decodeBase64 accepts the candidate only when it decodes to mostly
// printable UTF-8 under one of the standard alphabets.
func decodeBase64(candidate string) (string, bool) {
	for _, enc := range encodings {
		b, err := enc.DecodeString(candidate)
		if err != nil || !utf8.Valid(b) {
			continue
		}
		text := string(b)
		if printableRatio(text) >= 0.9 {
			return text, true
		}
	}
	return "", false
}

func printableRatio(s string) float64 {
	total, printable := 0, 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\t' || r == '\r' {
			printable++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(printable) / float64(total)
}

func excerpt(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n == maxExcerpt {
			b.WriteString("…")
			break
		}
		if unicode.IsPrint(r) || r == ' ' {
			b.WriteRune(r)
		} else {
			fmt.Fprintf(&b, "U+%04X", r)
		}
		n++
	}
	return b.String()
}
