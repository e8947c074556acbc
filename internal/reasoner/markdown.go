package reasoner

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dairui1/vdt/internal/model"
)

// RenderMarkdown writes a human-readable rendition of a reasoner result.
func RenderMarkdown(w io.Writer, task, backend string, res *model.ReasonerResult) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Analysis Results\n\n")
	fmt.Fprintf(&b, "- Task: %s\n- Backend: %s\n\n", task, backend)

	for i, in := range res.Insights {
		fmt.Fprintf(&b, "## Insight %d: %s\n\n", i+1, in.Title)
		fmt.Fprintf(&b, "Confidence: %.0f%%\n\n", in.Confidence*100)
		if len(in.Evidence) > 0 {
			b.WriteString("Evidence:\n")
			for _, e := range in.Evidence {
				fmt.Fprintf(&b, "- %s\n", e)
			}
			b.WriteString("\n")
		}
	}

	if len(res.Suspects) > 0 {
		b.WriteString("## Suspects\n\n")
		for _, s := range res.Suspects {
			fmt.Fprintf(&b, "- %s%s: %s\n", s.File, formatLines(s.Lines), s.Rationale)
		}
		b.WriteString("\n")
	}

	if res.PatchSuggestion != "" {
		b.WriteString("## Patch Suggestion\n\n```diff\n")
		b.WriteString(strings.TrimRight(res.PatchSuggestion, "\n"))
		b.WriteString("\n```\n\n")
	}

	if len(res.NextSteps) > 0 {
		b.WriteString("## Next Steps\n\n")
		for i, s := range res.NextSteps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
		b.WriteString("\n")
	}

	if res.Notes != "" {
		fmt.Fprintf(&b, "## Notes\n\n%s\n", res.Notes)
	}

	_, err := w.Write(b.Bytes())
	return err
}

func formatLines(lines []int) string {
	if len(lines) == 0 {
		return ""
	}
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = fmt.Sprint(l)
	}
	return ":" + strings.Join(parts, ",")
}
