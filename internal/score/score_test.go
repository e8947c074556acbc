package score

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dairui1/vdt/internal/churn"
	"github.com/dairui1/vdt/internal/logging"
	"github.com/dairui1/vdt/internal/model"
)

func writeLogs(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	logs := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logs, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(logs, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScoreNoArtifacts(t *testing.T) {
	c := &Calculator{Churn: churn.Fixed(1), Logger: logging.Discard()}
	dir := t.TempDir()
	if got := c.Score(dir); got != 0 {
		t.Errorf("Score(empty) = %v, want exactly 0", got)
	}
	os.MkdirAll(filepath.Join(dir, "logs"), 0o755)
	if got := c.Score(dir); got != 0 {
		t.Errorf("Score(empty logs dir) = %v, want exactly 0", got)
	}
}

func TestScoreCaptureOnlyUsesNeutralChurn(t *testing.T) {
	dir := t.TempDir()
	writeLogs(t, dir, map[string]string{"capture.ndjson": ""})
	c := New(logging.Discard())
	m, ok := c.Metrics(dir)
	if !ok {
		t.Fatal("capture should count as a log artifact")
	}
	if m.Churn != NeutralChurn {
		t.Errorf("Churn = %v, want %v", m.Churn, NeutralChurn)
	}
	if got := c.Score(dir); !near(got, WeightChurn*NeutralChurn) {
		t.Errorf("Score = %v", got)
	}
}

func TestMetrics(t *testing.T) {
	dir := t.TempDir()
	console := strings.Join([]string{
		`{"type":"error","stack":"E1\n  at x","args":["boom"]}`,
		`{"type":"error","stack":"E2","args":["boom"]}`,
		`{"type":"log","args":["hi"]}`,
		`{"type":"error","args":["other"]}`,
		`garbage`,
	}, "\n")
	writeLogs(t, dir, map[string]string{
		"console.rec.ndjson":    console,
		"actions.ndjson":        "{\"ts\":1000}\n{\"ts\":601000}\n{\"ts\":0}\n",
		"actions.replay.ndjson": "{\"ts\":301000}\n",
	})
	c := &Calculator{Churn: churn.Fixed(0.5), Logger: logging.Discard()}
	m, ok := c.Metrics(dir)
	if !ok {
		t.Fatal("expected artifacts")
	}

	entropy := -(0.75*math.Log2(0.75) + 0.25*math.Log2(0.25)) / 3
	want := model.ReasoningMetrics{
		ErrorDensity:      3.0 / 5,
		StacktraceNovelty: 0.2,
		ContextSpan:       (10.0 / 10) * (3.0 / 50),
		Churn:             0.5,
		RepeatFailures:    2.0 / 3,
		EntropyLogs:       entropy,
		SpecMismatch:      0.2,
	}
	checks := []struct {
		name      string
		got, want float64
	}{
		{"error_density", m.ErrorDensity, want.ErrorDensity},
		{"stacktrace_novelty", m.StacktraceNovelty, want.StacktraceNovelty},
		{"context_span", m.ContextSpan, want.ContextSpan},
		{"churn", m.Churn, want.Churn},
		{"repeat_failures", m.RepeatFailures, want.RepeatFailures},
		{"entropy_logs", m.EntropyLogs, want.EntropyLogs},
		{"spec_mismatch", m.SpecMismatch, want.SpecMismatch},
	}
	for _, ck := range checks {
		if !near(ck.got, ck.want) {
			t.Errorf("%s = %v, want %v", ck.name, ck.got, ck.want)
		}
	}
	if got := c.Score(dir); !near(got, Combine(want)) {
		t.Errorf("Score = %v, want %v", got, Combine(want))
	}
}

func TestCombineClamps(t *testing.T) {
	all := model.ReasoningMetrics{
		ErrorDensity: 1, StacktraceNovelty: 1, ContextSpan: 1, Churn: 1,
		RepeatFailures: 1, EntropyLogs: 1, SpecMismatch: 1,
	}
	if got := Combine(all); got != 1 {
		t.Errorf("Combine(all ones) = %v", got)
	}
	if got := Combine(model.ReasoningMetrics{}); got != 0 {
		t.Errorf("Combine(zero) = %v", got)
	}
}

func TestWeightsSumToOne(t *testing.T) {
	sum := WeightErrorDensity + WeightStacktraceNovelty + WeightContextSpan + WeightChurn +
		WeightRepeatFailures + WeightEntropyLogs + WeightSpecMismatch
	if !near(sum, 1) {
		t.Errorf("weights sum to %v", sum)
	}
}

func TestChurnFromPatches(t *testing.T) {
	dir := t.TempDir()
	writeLogs(t, dir, map[string]string{"console.ndjson": `{"type":"log"}`})
	os.MkdirAll(filepath.Join(dir, "patches"), 0o755)
	diff := "--- a/x.go\n+++ b/x.go\n@@ -1,1 +1,2 @@\n a\n+b\n"
	os.WriteFile(filepath.Join(dir, "patches", "fix.diff"), []byte(diff), 0o644)

	m, _ := New(logging.Discard()).Metrics(dir)
	if !near(m.Churn, 1.0/churn.ChangedLinesScale) {
		t.Errorf("Churn = %v", m.Churn)
	}
}
