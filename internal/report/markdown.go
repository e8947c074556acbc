package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// RenderMarkdown writes d as a markdown document. Output depends only on d;
// the final line carries the generation timestamp.
func RenderMarkdown(w io.Writer, d Data) error {
	bw := bufio.NewWriter(w)
	p := func(format string, args ...any) {
		fmt.Fprintf(bw, format, args...)
	}

	p("# BugLens %s\n\n", Version)

	p("## Context\n")
	p("- session: %s\n", d.SessionID)
	p("- focus: %s\n", d.Focus)
	p("- total events: %d\n", d.TotalEvents)
	p("- analyzed events: %d\n", d.AnalyzedEvents)
	if d.Skipped > 0 {
		p("- skipped lines: %d\n", d.Skipped)
	}
	p("- error windows: %d\n", d.WindowCount)
	for _, u := range d.Unresolved {
		p("- unresolved chunk id: %s", u.ID)
		if len(u.Suggestions) > 0 {
			p(" (did you mean %s?)", strings.Join(u.Suggestions, ", "))
		}
		p("\n")
	}

	p("\n## Symptoms\n")
	p("- Expected: Normal execution flow\n")
	p("- Actual: %d suspicious patterns detected\n", d.SuspectCount)
	p("- Error density: %.2f\n", d.TopDensity)

	p("\n## Key Logs (excerpt)\n")
	if len(d.KeyLogs) == 0 {
		p("- none\n")
	}
	for _, e := range d.KeyLogs {
		kv, err := json.Marshal(e.KV)
		if err != nil {
			return fmt.Errorf("render kv: %w", err)
		}
		p("- [%s:%s] %s %s\n", e.Module, e.Func, e.Msg, kv)
	}

	p("\n## Candidate Chunks\n")
	if len(d.Chunks) == 0 {
		p("- none\n")
	}
	for _, c := range d.Chunks {
		p("\n### %s\n", c.Title)
		p("- id: `%s`\n", c.ID)
		p("- type: %s\n", c.Meta.Type)
		p("- refs: %s\n", strings.Join(c.Refs, ", "))
		p("\n```\n%s\n```\n", c.Excerpt)
	}

	p("\n## Analysis\n")
	p("### Clusters\n")
	if len(d.Clusters) == 0 {
		p("- none\n")
	}
	for _, c := range d.Clusters {
		p("- %s: %d events, %d errors\n", c.Key, c.Count, c.ErrorCount)
	}
	p("\n### Suspects\n")
	if len(d.Suspects) == 0 {
		p("- none\n")
	}
	for _, s := range d.Suspects {
		p("- %s:%s (%s): %s\n", s.Module, s.Func, s.Type, s.Evidence)
	}

	p("\n## Hypotheses\n")
	for i, h := range d.Hypotheses {
		if i > 0 {
			p("\n")
		}
		p("%d) %s\n", i+1, h.Title)
		p("   - Evidence: %s\n", h.Evidence)
		p("   - Risk: %s\n", h.Risk)
		p("   - Verify: %s\n", h.Verify)
	}

	p("\n## Suggested Patch (high-level)\n")
	for _, line := range d.Patch {
		p("- %s\n", line)
	}

	p("\n---\nGenerated at: %s\n", d.GeneratedAt.Format(time.RFC3339))
	return bw.Flush()
}

// Markdown renders d to a string.
func Markdown(d Data) (string, error) {
	var sb strings.Builder
	if err := RenderMarkdown(&sb, d); err != nil {
		return "", err
	}
	return sb.String(), nil
}
