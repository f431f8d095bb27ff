package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/highbeam/changeguard/internal/ipc"
	"github.com/highbeam/changeguard/internal/learning"
	"github.com/highbeam/changeguard/internal/session"
	"github.com/highbeam/changeguard/internal/verdict"
)

// ANSI escape codes for terminal formatting.
const (
	bold   = "\033[1m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	reset  = "\033[0m"
)

// Formatter renders reports for a terminal. With Color unset it emits
// plain text.
type Formatter struct {
	Color bool
}

func (f Formatter) paint(code, s string) string {
	if !f.Color {
		return s
	}
	return code + s + reset
}

func (f Formatter) heading(b *strings.Builder, title string, width int) {
	b.WriteString(f.paint(bold, title) + "\n")
	b.WriteString(strings.Repeat("=", width) + "\n\n")
}

// Result formats one tool verdict.
func (f Formatter) Result(r *verdict.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", f.paint(bold+statusColor(r.Status), strings.ToUpper(r.Status.String())), f.paint(bold, r.Tool))
	if r.Summary != "" {
		fmt.Fprintf(&b, "%s\n", r.Summary)
	}
	if sc := r.SessionContext; sc != nil {
		fmt.Fprintf(&b, "session: %.1f min, entropy %.2f, %d files\n", sc.DurationMinutes, sc.EntropyScore, sc.FilesModified)
	}

	if len(r.Findings) > 0 {
		b.WriteString("\n")
	}
	for _, fd := range r.Findings {
		sev := fmt.Sprintf("%-8s", fd.Severity)
		fmt.Fprintf(&b, "  %s %s", f.paint(severityColor(fd.Severity), sev), fd.RuleID)
		if fd.FilePath != "" {
			fmt.Fprintf(&b, " (%s)", fd.FilePath)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "    %s\n", fd.Message)
		fmt.Fprintf(&b, "    why:  %s\n", fd.Pedagogy.Why)
		fmt.Fprintf(&b, "    fix:  %s\n", fd.Pedagogy.HowToFix)
		fmt.Fprintf(&b, "    next: %s\n", fd.Pedagogy.Prevention)
	}

	if len(r.Findings) == 0 && r.Pedagogy.Complete() {
		fmt.Fprintf(&b, "\nwhy:  %s\n", r.Pedagogy.Why)
		fmt.Fprintf(&b, "next: %s\n", r.Pedagogy.Prevention)
	}
	return b.String()
}

// Report formats the profile and the most recent sessions.
func (f Formatter) Report(r *Report) string {
	var b strings.Builder
	b.WriteString(f.Profile(r.Profile))

	if len(r.Sessions) == 0 {
		return b.String()
	}
	b.WriteString("\n" + f.paint(bold, "Recent Sessions") + "\n")
	b.WriteString(strings.Repeat("-", 78) + "\n")
	fmt.Fprintf(&b, "%-24s %8s %6s %6s %6s %8s %-9s\n", "Session", "Minutes", "Files", "Lines", "Viol.", "Entropy", "Level")
	b.WriteString(strings.Repeat("-", 78) + "\n")

	shown := r.Sessions
	if len(shown) > maxSessions {
		shown = shown[:maxSessions]
	}
	for _, s := range shown {
		id := s.SessionID
		if len(id) > 23 {
			id = id[:20] + "..."
		}
		level := s.Level.String()
		if !s.Ended {
			level += "*"
		}
		fmt.Fprintf(&b, "%-24s %8.1f %6d %6d %6d %8.2f %s\n",
			id, s.DurationMinutes, s.FilesModified, s.ChangedLines, s.Violations, s.Score,
			f.paint(levelColor(s.Level), level))
	}
	if len(r.Sessions) > maxSessions {
		fmt.Fprintf(&b, "... and %d more sessions\n", len(r.Sessions)-maxSessions)
	}
	b.WriteString("* still open\n")
	return b.String()
}

// Profile formats a developer profile.
func (f Formatter) Profile(p *learning.Profile) string {
	var b strings.Builder
	f.heading(&b, "changeguard - Developer Profile", 40)

	if p.Scope.ProjectPath != "" {
		fmt.Fprintf(&b, "%-22s %s\n", "Project:", p.Scope.ProjectPath)
	}
	if p.Scope.AITool != "" {
		fmt.Fprintf(&b, "%-22s %s\n", "AI tool:", p.Scope.AITool)
	}
	fmt.Fprintf(&b, "%-22s %d\n", "Sessions:", p.SessionCount)
	fmt.Fprintf(&b, "%-22s %.2f (%d briefs)\n", "Average brief score:", p.AverageBriefScore, p.BriefCount)
	fmt.Fprintf(&b, "%-22s %s (%d checks)\n", "Hallucination rate:",
		f.paint(rateColor(p.HallucinationRate), fmt.Sprintf("%.1f%%", p.HallucinationRate*100)), p.HallucinationChecks)
	fmt.Fprintf(&b, "%-22s %+.2f %s\n", "Improvement:", p.ImprovementRate, f.paint(trendColor(p.Trend), p.Trend))

	if len(p.TopViolations) > 0 {
		b.WriteString("\n" + f.paint(bold, "Top Violations") + "\n")
		b.WriteString(strings.Repeat("-", 40) + "\n")
		for _, v := range p.TopViolations {
			fmt.Fprintf(&b, "%-32s %6d\n", v.Name, v.Count)
		}
	}
	if len(p.DriftHotspots) > 0 {
		b.WriteString("\n" + f.paint(bold, "Drift Hotspots") + "\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		fmt.Fprintf(&b, "%-40s %8s %9s\n", "File", "Flagged", "Max drift")
		for _, h := range p.DriftHotspots {
			name := h.FilePath
			if len(name) > 39 {
				name = "..." + name[len(name)-36:]
			}
			fmt.Fprintf(&b, "%-40s %8d %9.2f\n", name, h.Flagged, h.MaxDrift)
		}
	}
	return b.String()
}

// Status formats daemon StatusData as a terminal-friendly table.
func (f Formatter) Status(status *ipc.StatusData) string {
	var b strings.Builder
	f.heading(&b, "changeguard - Daemon Status", 40)

	fmt.Fprintf(&b, "%-20s %s\n", "Uptime:", status.Uptime)
	fmt.Fprintf(&b, "%-20s %d\n", "PID:", status.PID)
	fmt.Fprintf(&b, "%-20s %d\n", "Schema version:", status.Store.SchemaVersion)
	fmt.Fprintf(&b, "%-20s %s\n", "DB Size:", humanBytes(status.Store.SizeBytes))
	fmt.Fprintf(&b, "%-20s %d\n", "Sessions:", status.Store.Sessions)
	fmt.Fprintf(&b, "%-20s %d\n", "Drift snapshots:", status.Store.Snapshots)
	fmt.Fprintf(&b, "%-20s %d\n", "Cached packages:", status.Store.CachedPackages)
	fmt.Fprintf(&b, "%-20s %d\n", "Briefs:", status.Store.Briefs)
	fmt.Fprintf(&b, "%-20s %d\n", "Learning events:", status.Store.Events)
	fmt.Fprintf(&b, "%-20s %s\n", "Tools:", strings.Join(status.Tools, ", "))
	return b.String()
}

// FormatJSON marshals any value as indented JSON.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

func statusColor(s verdict.Status) string {
	switch s {
	case verdict.StatusPass:
		return green
	case verdict.StatusWarn:
		return yellow
	default:
		return red
	}
}

func severityColor(s verdict.Severity) string {
	switch s {
	case verdict.SeverityInfo:
		return green
	case verdict.SeverityWarning:
		return yellow
	default:
		return red
	}
}

func levelColor(l session.Level) string {
	return statusColor(l.Status())
}

// rateColor: >20% = red, >5% = yellow.
func rateColor(rate float64) string {
	switch {
	case rate > 0.2:
		return red
	case rate > 0.05:
		return yellow
	default:
		return green
	}
}

func trendColor(trend string) string {
	switch trend {
	case "improving":
		return green
	case "declining":
		return red
	default:
		return yellow
	}
}

// humanBytes formats bytes as a human-readable string (KB, MB, GB).
func humanBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)

	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
