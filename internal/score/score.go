// Package score computes the reasoning complexity score of a session: a
// weighted blend of seven signals read from the session's log artifacts.
// The router escalates to a costlier backend when the score crosses its
// threshold.
package score

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dairui1/vdt/internal/churn"
	"github.com/dairui1/vdt/internal/eventlog"
	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"
)

// Metric weights.
const (
	WeightErrorDensity      = 0.25
	WeightStacktraceNovelty = 0.20
	WeightContextSpan       = 0.15
	WeightChurn             = 0.15
	WeightRepeatFailures    = 0.10
	WeightEntropyLogs       = 0.10
	WeightSpecMismatch      = 0.05
)

// NeutralChurn is used when no churn evidence is available.
const NeutralChurn = 0.3

const (
	repeatPrefixLen   = 100
	noveltyScale      = 10.0
	entropyScale      = 3.0
	specMismatchValue = 0.2
)

// Artifact names under a session's logs directory.
var (
	ConsoleFiles = []string{"console.rec.ndjson", "console.replay.ndjson", "console.ndjson"}
	ActionFiles  = []string{"actions.rec.ndjson", "actions.replay.ndjson", "actions.ndjson"}
	EntropyFiles = []string{"devserver.ndjson", "console.rec.ndjson", "console.replay.ndjson"}
	replayFile   = "actions.replay.ndjson"
)

// Calculator computes metrics and scores for session directories.
type Calculator struct {
	Churn  churn.Provider
	Logger *slog.Logger
}

// New returns a Calculator measuring churn from session diffs.
func New(logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{Churn: churn.DiffProvider{}, Logger: logger}
}

// Score returns the weighted complexity score of sessionDir in [0,1]. A
// session with no log artifacts scores exactly 0.
func (c *Calculator) Score(sessionDir string) float64 {
	m, ok := c.Metrics(sessionDir)
	if !ok {
		return 0
	}
	return Combine(m)
}

// Combine applies the metric weights and clamps the result to [0,1].
func Combine(m model.ReasoningMetrics) float64 {
	s := WeightErrorDensity*m.ErrorDensity +
		WeightStacktraceNovelty*m.StacktraceNovelty +
		WeightContextSpan*m.ContextSpan +
		WeightChurn*m.Churn +
		WeightRepeatFailures*m.RepeatFailures +
		WeightEntropyLogs*m.EntropyLogs +
		WeightSpecMismatch*m.SpecMismatch
	return clamp(s)
}

// Metrics computes every signal for sessionDir. ok is false when the session
// holds no log artifact at all, in which case every metric is zero. Each
// signal treats its own missing or unreadable files as contributing zero.
func (c *Calculator) Metrics(sessionDir string) (model.ReasoningMetrics, bool) {
	logs := filepath.Join(sessionDir, "logs")
	if !hasLogArtifact(logs) {
		return model.ReasoningMetrics{}, false
	}
	m := model.ReasoningMetrics{
		ErrorDensity:      c.errorDensity(logs),
		StacktraceNovelty: c.stacktraceNovelty(logs),
		ContextSpan:       c.contextSpan(logs),
		Churn:             NeutralChurn,
		RepeatFailures:    c.repeatFailures(logs),
		EntropyLogs:       c.entropyLogs(logs),
		SpecMismatch:      c.specMismatch(logs),
	}
	if c.Churn != nil {
		if v, ok := c.Churn.Churn(sessionDir); ok {
			m.Churn = clamp(v)
		}
	}
	return m, true
}

func hasLogArtifact(logs string) bool {
	names := append(append(append([]string{}, ConsoleFiles...), ActionFiles...), EntropyFiles...)
	names = append(names, eventlog.CaptureNames...)
	for _, n := range names {
		if _, err := os.Stat(filepath.Join(logs, n)); err == nil {
			return true
		}
	}
	return false
}

// scan runs fn over every object in the named artifacts, skipping missing
// files.
func (c *Calculator) scan(logs string, names []string, fn func(map[string]any)) {
	for _, n := range names {
		err := eventlog.ScanObjects(filepath.Join(logs, n), fn)
		if err != nil && fault.CodeOf(err) != fault.ArtifactMissing {
			c.Logger.Debug("score: skipping artifact", "file", n, "err", err)
		}
	}
}

func (c *Calculator) lines(logs string, names []string) int {
	total := 0
	for _, n := range names {
		k, err := eventlog.CountLines(filepath.Join(logs, n))
		if err != nil {
			continue
		}
		total += k
	}
	return total
}

// errorDensity is the fraction of console lines whose type is "error".
func (c *Calculator) errorDensity(logs string) float64 {
	total := c.lines(logs, ConsoleFiles)
	if total == 0 {
		return 0
	}
	errs := 0
	c.scan(logs, ConsoleFiles, func(o map[string]any) {
		if isError(o) {
			errs++
		}
	})
	return clamp(float64(errs) / float64(total))
}

// stacktraceNovelty counts distinct first stack lines among error events.
func (c *Calculator) stacktraceNovelty(logs string) float64 {
	seen := make(map[string]bool)
	c.scan(logs, ConsoleFiles, func(o map[string]any) {
		if !isError(o) {
			return
		}
		stack, _ := o["stack"].(string)
		if stack == "" {
			return
		}
		first, _, _ := strings.Cut(stack, "\n")
		seen[first] = true
	})
	return clamp(float64(len(seen)) / noveltyScale)
}

// contextSpan grows with both the duration and the number of recorded
// actions: (minutes/10) * (actions/50).
func (c *Calculator) contextSpan(logs string) float64 {
	var (
		count  int
		lo, hi float64
	)
	c.scan(logs, ActionFiles, func(o map[string]any) {
		ts, ok := o["ts"].(float64)
		if !ok || ts == 0 {
			return
		}
		if count == 0 || ts < lo {
			lo = ts
		}
		if count == 0 || ts > hi {
			hi = ts
		}
		count++
	})
	if count == 0 {
		return 0
	}
	minutes := (hi - lo) / 60000
	return clamp((minutes / 10) * (float64(count) / 50))
}

// repeatFailures is the share of error messages whose 100-char prefix
// occurs more than once.
func (c *Calculator) repeatFailures(logs string) float64 {
	counts := make(map[string]int)
	c.scan(logs, ConsoleFiles, func(o map[string]any) {
		if o["type"] != "error" {
			return
		}
		args, ok := o["args"].([]any)
		if !ok || len(args) == 0 || !truthy(args[0]) {
			return
		}
		counts[prefix(stringify(args[0]), repeatPrefixLen)]++
	})
	total, repeated := 0, 0
	for _, n := range counts {
		total += n
		if n > 1 {
			repeated += n
		}
	}
	if total == 0 {
		return 0
	}
	return float64(repeated) / float64(total)
}

// entropyLogs is the Shannon entropy (base 2) of level/type values over
// three bits.
func (c *Calculator) entropyLogs(logs string) float64 {
	counts := make(map[string]int)
	total := 0
	c.scan(logs, EntropyFiles, func(o map[string]any) {
		key, _ := o["level"].(string)
		if key == "" {
			key, _ = o["type"].(string)
		}
		if key == "" {
			return
		}
		counts[key]++
		total++
	})
	if total == 0 {
		return 0
	}
	var h float64
	for _, n := range counts {
		p := float64(n) / float64(total)
		h -= p * math.Log2(p)
	}
	return clamp(h / entropyScale)
}

// specMismatch flags the presence of replay artifacts.
func (c *Calculator) specMismatch(logs string) float64 {
	if n, err := eventlog.CountLines(filepath.Join(logs, replayFile)); err == nil && n > 0 {
		return specMismatchValue
	}
	return 0
}

func isError(o map[string]any) bool {
	return o["type"] == "error" || o["level"] == "error"
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	}
	return true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clamp(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
