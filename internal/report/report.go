// Package report builds the BugLens analysis report. Build aggregates
// findings into a Data value with no I/O; renderers turn Data into text.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dairui1/vdt/internal/analyze"
	"github.com/dairui1/vdt/internal/model"
)

// Version is printed in the report heading.
const Version = "v0.1"

// MaxKeyLogs caps the key log excerpt.
const MaxKeyLogs = 10

// keyLogContext is the number of events kept on each side of an error.
const keyLogContext = 2

// Hypothesis is one rule-derived explanation of the observed failures.
type Hypothesis struct {
	Title    string `json:"title"`
	Evidence string `json:"evidence"`
	Risk     string `json:"risk"`
	Verify   string `json:"verify"`
}

// Data is everything the report shows, in render order.
type Data struct {
	SessionID      string               `json:"sid"`
	Focus          string               `json:"focus"`
	TotalEvents    int                  `json:"total_events"`
	AnalyzedEvents int                  `json:"analyzed_events"`
	Skipped        int                  `json:"skipped"`
	WindowCount    int                  `json:"error_windows"`
	SuspectCount   int                  `json:"suspect_count"`
	TopDensity     float64              `json:"top_density"`
	KeyLogs        []model.Event        `json:"key_logs"`
	Chunks         []model.Chunk        `json:"chunks"`
	Clusters       []model.Cluster      `json:"clusters"`
	Suspects       []model.Suspect      `json:"suspects"`
	Hypotheses     []Hypothesis         `json:"hypotheses"`
	Patch          []string             `json:"patch"`
	Unresolved     []analyze.Unresolved `json:"unresolved,omitempty"`
	GeneratedAt    time.Time            `json:"generated_at"`
}

// Build assembles report data from findings. It performs no I/O; now is
// the only input that varies between otherwise identical runs.
func Build(sessionID string, f *analyze.Findings, now time.Time) Data {
	d := Data{
		SessionID:      sessionID,
		Focus:          DescribeFocus(f.Focus),
		TotalEvents:    f.TotalEvents,
		AnalyzedEvents: len(f.Events),
		Skipped:        f.Skipped,
		WindowCount:    len(f.Windows),
		SuspectCount:   len(f.Suspects),
		KeyLogs:        KeyLogs(f.Events, MaxKeyLogs),
		Chunks:         nonNil(f.Chunks),
		Clusters:       nonNil(f.Clusters),
		Suspects:       nonNil(f.Suspects),
		Hypotheses:     Hypotheses(f.Suspects, f.Clusters),
		Patch:          PatchSuggestion(f.Suspects),
		Unresolved:     f.Unresolved,
		GeneratedAt:    now.UTC(),
	}
	if len(f.Windows) > 0 {
		d.TopDensity = f.Windows[0].Density
	}
	return d
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// DescribeFocus renders focus as "module:func" with "all" for empty
// filters, followed by the time range and selected ids when present.
func DescribeFocus(f model.Focus) string {
	mod, fn := f.Module, f.Func
	if mod == "" {
		mod = "all"
	}
	if fn == "" {
		fn = "all"
	}
	s := mod + ":" + fn
	if f.TimeRange != nil {
		s += fmt.Sprintf(" time=[%d,%d]", f.TimeRange[0], f.TimeRange[1])
	}
	if len(f.SelectedIDs) > 0 {
		s += " ids=" + strings.Join(f.SelectedIDs, ",")
	}
	return s
}

// KeyLogs returns each error event with up to two events of context on
// either side, in stream order, without duplicates, capped at max.
func KeyLogs(events []model.Event, max int) []model.Event {
	var idx []int
	seen := make(map[int]bool)
	for i := 0; i < len(events) && len(idx) < max; i++ {
		if !events[i].IsError() {
			continue
		}
		lo := i - keyLogContext
		if lo < 0 {
			lo = 0
		}
		hi := i + keyLogContext + 1
		if hi > len(events) {
			hi = len(events)
		}
		for j := lo; j < hi; j++ {
			if !seen[j] {
				seen[j] = true
				idx = append(idx, j)
			}
		}
	}
	if len(idx) > max {
		idx = idx[:max]
	}
	out := make([]model.Event, len(idx))
	for i, j := range idx {
		out[i] = events[j]
	}
	return out
}

// Hypotheses applies the report's rules in priority order: the top suspect,
// then any cluster failing more than half its calls, then a generic
// fallback when neither applies. At least one hypothesis is returned.
func Hypotheses(suspects []model.Suspect, clusters []model.Cluster) []Hypothesis {
	var out []Hypothesis
	if len(suspects) > 0 {
		top := suspects[0]
		out = append(out, Hypothesis{
			Title:    fmt.Sprintf("%s:%s error handling issue", top.Module, top.Func),
			Evidence: top.Evidence,
			Risk:     "May affect related functionality in same module",
			Verify:   fmt.Sprintf("Add defensive checks in %s and test edge cases", top.Func),
		})
	}
	for _, c := range clusters {
		if float64(c.ErrorCount) > float64(c.Count)/2 {
			out = append(out, Hypothesis{
				Title:    "Systemic error in core flow",
				Evidence: "Multiple functions showing high error rates",
				Risk:     "Core functionality may be unstable",
				Verify:   "Review input validation and error propagation",
			})
			break
		}
	}
	if len(out) == 0 {
		out = append(out, Hypothesis{
			Title:    "Intermittent issue requiring more data",
			Evidence: "Low error density but some failures observed",
			Risk:     "Issue may be environment or timing dependent",
			Verify:   "Run capture with longer duration or different scenarios",
		})
	}
	return out
}

// PatchSuggestion returns the high-level patch advice lines.
func PatchSuggestion(suspects []model.Suspect) []string {
	if len(suspects) == 0 {
		return []string{
			"Add more logging to identify root cause",
			"Consider edge case handling",
		}
	}
	top := suspects[0]
	return []string{
		fmt.Sprintf("Review %s:%s for error handling", top.Module, top.Func),
		"Add input validation and defensive coding",
		"Consider adding retry logic if appropriate",
	}
}
