package report

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// DefaultConclusion is used when a session is ended without one.
const DefaultConclusion = "Session completed"

// Summary closes a session: what was concluded, the evidence behind it and
// where the artifacts live.
type Summary struct {
	SessionID   string    `json:"sid"`
	Conclusion  string    `json:"conclusion"`
	KeyEvidence []string  `json:"key_evidence"`
	NextSteps   []string  `json:"next_steps"`
	Resources   []string  `json:"resources"`
	Source      string    `json:"source,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// RenderSummary writes s as the session summary document.
func RenderSummary(w io.Writer, s Summary) error {
	bw := bufio.NewWriter(w)
	p := func(format string, args ...any) {
		fmt.Fprintf(bw, format, args...)
	}
	list := func(items []string, empty string) {
		if len(items) == 0 {
			p("%s\n", empty)
			return
		}
		for _, it := range items {
			p("- %s\n", it)
		}
	}

	p("# Session Summary\n\n")
	p("## Conclusion\n%s\n", s.Conclusion)

	p("\n## Key Evidence\n")
	list(s.KeyEvidence, "No key evidence recorded")
	if s.Source != "" {
		p("\n_Derived from %s._\n", s.Source)
	}

	p("\n## Next Steps\n")
	list(s.NextSteps, "No next steps recorded")

	p("\n## Resources\n")
	if len(s.Resources) == 0 {
		p("- none\n")
	}
	for _, link := range s.Resources {
		p("- [%s](%s)\n", path.Base(link), link)
	}

	p("\n## Metadata\n")
	p("- Session ID: %s\n", s.SessionID)
	p("- Completed: %s\n", s.CompletedAt.UTC().Format(time.RFC3339))
	return bw.Flush()
}

// SummaryMarkdown renders s to a string.
func SummaryMarkdown(s Summary) (string, error) {
	var sb strings.Builder
	if err := RenderSummary(&sb, s); err != nil {
		return "", err
	}
	return sb.String(), nil
}
