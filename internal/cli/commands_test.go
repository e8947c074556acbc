package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/service"
)

func TestSessionStartListShow(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	sid := startSession(t, root)

	out := mustRun(t, "session", "list", "--root", root)
	if !strings.Contains(out, "SID") || !strings.Contains(out, sid) {
		t.Errorf("list output missing session %s:\n%s", sid, out)
	}
	if !strings.Contains(out, "db flake") {
		t.Errorf("list output missing note:\n%s", out)
	}

	out = mustRun(t, "session", "show", sid, "--root", root)
	for _, want := range []string{"Session:  " + sid, "TTL:      7 days", "vdt://sessions/" + sid + "/logs/"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}

	if _, err := os.Stat(filepath.Join(root, "vdt.db")); err != nil {
		t.Errorf("expected database under root: %v", err)
	}
}

func TestSessionListEmpty(t *testing.T) {
	resetFlags(t)
	out := mustRun(t, "session", "list", "--root", t.TempDir())
	if !strings.Contains(out, "No sessions found.") {
		t.Errorf("got %q", out)
	}
}

func TestSessionListInvalidSince(t *testing.T) {
	resetFlags(t)
	_, _, err := run(t, "session", "list", "--root", t.TempDir(), "--since", "xd")
	if err == nil || !strings.Contains(err.Error(), "invalid --since") {
		t.Errorf("expected --since error, got %v", err)
	}
}

func TestSessionShowJSON(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	sid := startSession(t, root)

	out := mustRun(t, "session", "show", sid, "--root", root, "--json")
	var info service.SessionInfo
	env := decodeEnvelope(t, out, &info)
	if env.IsError {
		t.Fatalf("unexpected error envelope: %s", out)
	}
	if info.ID != sid || info.Note != "db flake" || info.TTLDays != 7 {
		t.Errorf("info = %+v", info)
	}
}

func TestSessionShowNotFoundJSON(t *testing.T) {
	resetFlags(t)
	out, _, err := run(t, "session", "show", "2026-01-01-nothere", "--root", t.TempDir(), "--json")
	if err == nil {
		t.Fatal("expected error for missing session")
	}
	env := decodeEnvelope(t, out, nil)
	if !env.IsError || env.Message == "" {
		t.Errorf("expected error envelope, got %s", out)
	}
}

func TestSessionEnd(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	sid := startSession(t, root)

	out := mustRun(t, "session", "end", sid, "--root", root, "--conclusion", "pool exhausted")
	for _, want := range []string{"Ended session " + sid, "Conclusion: pool exhausted", "Key evidence:", "db:connect"} {
		if !strings.Contains(out, want) {
			t.Errorf("end output missing %q:\n%s", want, out)
		}
	}
	data, err := os.ReadFile(filepath.Join(root, "sessions", sid, "analysis", "summary.md"))
	if err != nil {
		t.Fatalf("summary not written: %v", err)
	}
	if !strings.Contains(string(data), "## Conclusion\npool exhausted") {
		t.Errorf("summary:\n%s", data)
	}

	resetFlags(t)
	out = mustRun(t, "session", "end", sid, "--root", root, "--json", "--next", "add pool metrics")
	var res service.EndResult
	decodeEnvelope(t, out, &res)
	if res.Conclusion != "Session completed" || len(res.NextSteps) != 1 || len(res.KeyEvidence) != 0 {
		t.Errorf("end result = %+v", res)
	}
	if res.SummaryLink != "vdt://sessions/"+sid+"/analysis/summary.md" {
		t.Errorf("summary link = %q", res.SummaryLink)
	}
}

func TestAnalyzeWritesReport(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	sid := startSession(t, root)

	out := mustRun(t, "analyze", "--sid", sid, "--root", root)
	for _, want := range []string{"vdt://sessions/" + sid + "/analysis/buglens.md", "Events:   12 analyzed of 12", "Top suspects:"} {
		if !strings.Contains(out, want) {
			t.Errorf("analyze output missing %q:\n%s", want, out)
		}
	}
	report := filepath.Join(root, "sessions", sid, "analysis", "buglens.md")
	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(data), "db") {
		t.Errorf("report does not mention the failing module:\n%s", data)
	}
}

func TestAnalyzeFocusFlags(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	sid := startSession(t, root)

	out := mustRun(t, "analyze", "--sid", sid, "--root", root, "--module", "db", "--json")
	var res service.AnalyzeResult
	decodeEnvelope(t, out, &res)
	if res.Summary.AnalyzedEvents != 6 {
		t.Errorf("analyzed = %d, want 6 db events", res.Summary.AnalyzedEvents)
	}
	if res.Summary.TotalEvents != 12 {
		t.Errorf("total = %d, want 12", res.Summary.TotalEvents)
	}

	out = mustRun(t, "analyze", "--sid", sid, "--root", root, "--from", "0", "--to", "1000", "--json")
	decodeEnvelope(t, out, &res)
	if res.Summary.AnalyzedEvents != 3 {
		t.Errorf("analyzed = %d, want 3 events in [0,1000]", res.Summary.AnalyzedEvents)
	}
}

func TestAnalyzeTimeRangeValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"from only", []string{"--from", "5"}, "given together"},
		{"reversed", []string{"--from", "10", "--to", "5"}, "is after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			args := append([]string{"analyze", "--sid", "x", "--root", t.TempDir()}, tt.args...)
			_, _, err := run(t, args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestAnalyzeRequiresSID(t *testing.T) {
	resetFlags(t)
	_, _, err := run(t, "analyze", "--root", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "sid") {
		t.Errorf("expected required flag error, got %v", err)
	}
}

func TestChunksAndClarify(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	sid := startSession(t, root)

	out := mustRun(t, "chunks", "--sid", sid, "--root", root)
	for _, want := range []string{"rapid_errors_0", "function_db_connect", "rapid_sequence"} {
		if !strings.Contains(out, want) {
			t.Errorf("chunks output missing %q:\n%s", want, out)
		}
	}

	out, stderr, err := run(t, "clarify", "--sid", sid, "--root", root, "--select", "rapid_errors_0,function_db_conect")
	if err != nil {
		t.Fatalf("clarify: %v", err)
	}
	if !strings.Contains(out, "Selected: rapid_errors_0") {
		t.Errorf("clarify output = %q", out)
	}
	if !strings.Contains(stderr, `unknown chunk id "function_db_conect"`) || !strings.Contains(stderr, "function_db_connect") {
		t.Errorf("expected warning with suggestion, got %q", stderr)
	}

	data, err := os.ReadFile(filepath.Join(root, "sessions", sid, "analysis", "clarify.json"))
	if err != nil {
		t.Fatalf("read clarify sidecar: %v", err)
	}
	if strings.Contains(string(data), "function_db_conect") {
		t.Errorf("unknown id was persisted: %s", data)
	}
}

func TestClarifyAllUnknown(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	sid := startSession(t, root)

	out, _, err := run(t, "clarify", "--sid", sid, "--root", root, "--select", "module_dbb", "--json")
	if err == nil {
		t.Fatal("expected error when no id resolves")
	}
	env := decodeEnvelope(t, out, nil)
	if !env.IsError || !strings.Contains(env.Hint, "module_db") {
		t.Errorf("envelope = %+v", env)
	}

	out = mustRun(t, "errors", "--sid", sid, "--root", root)
	if !strings.Contains(out, "clarify") {
		t.Errorf("expected clarify failure in error log:\n%s", out)
	}
}

func TestScoreCmd(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	sid := startSession(t, root)

	out := mustRun(t, "score", "--sid", sid, "--root", root)
	for _, want := range []string{"Score:", "threshold 0.55", "error_density", "spec_mismatch"} {
		if !strings.Contains(out, want) {
			t.Errorf("score output missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, "score", "--sid", sid, "--root", root, "--json")
	var res service.ScoreResult
	decodeEnvelope(t, out, &res)
	if !res.HasArtifacts {
		t.Error("expected HasArtifacts with a capture")
	}
	if res.Score < 0 || res.Score > 1 {
		t.Errorf("score %v out of [0,1]", res.Score)
	}
	if res.Threshold != 0.55 {
		t.Errorf("threshold = %v, want 0.55", res.Threshold)
	}
}

// writeEchoBackend configures a cli backend under root that answers every
// task with a fixed JSON result.
func writeEchoBackend(t *testing.T, root string) {
	t.Helper()
	cfg := `default_backend = "echo"
fallback_backend = "echo"

[backends.echo]
type = "cli"
cmd = "sh"
args = ["-c", "cat >/dev/null; echo '{\"insights\":[{\"title\":\"pool exhausted\",\"evidence\":[\"event 0\"],\"confidence\":0.8}],\"next_steps\":[\"raise pool size\"]}'"]
cost_hint = "low"

[routing]
analyze_log = "echo"
propose_patch = "echo"
review_patch = "echo"
auto = "echo"
`
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "reasoners.toml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReasonAndHistory(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	writeEchoBackend(t, root)
	sid := startSession(t, root)

	out := mustRun(t, "reason", "--sid", sid, "--root", root, "--task", model.TaskAnalyzeLog)
	for _, want := range []string{"Backend:  echo after 1 attempt(s)", "pool exhausted", "raise pool size"} {
		if !strings.Contains(out, want) {
			t.Errorf("reason output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "sessions", sid, "analysis", "reasoner_analyze_log.json")); err != nil {
		t.Errorf("expected saved result: %v", err)
	}

	out = mustRun(t, "backends", "--history", "--root", root, "--json")
	var hist service.HistoryResult
	decodeEnvelope(t, out, &hist)
	if len(hist.Attempts) != 1 || hist.Attempts[0].Backend != "echo" || !hist.Attempts[0].OK {
		t.Errorf("attempts = %+v", hist.Attempts)
	}
	if len(hist.Stats) != 1 || hist.Stats[0].SuccessRate() != 1 {
		t.Errorf("stats = %+v", hist.Stats)
	}

	out = mustRun(t, "backends", "--history", "--root", root)
	if !strings.Contains(out, "BACKEND") || !strings.Contains(out, "100%") {
		t.Errorf("history table:\n%s", out)
	}
}

func TestReasonInvalidTask(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	writeEchoBackend(t, root)
	sid := startSession(t, root)

	out, _, err := run(t, "reason", "--sid", sid, "--root", root, "--task", "summarize", "--json")
	if err == nil {
		t.Fatal("expected error for unknown task")
	}
	if env := decodeEnvelope(t, out, nil); !env.IsError {
		t.Errorf("expected error envelope, got %s", out)
	}
}

func TestBackendsCmd(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	writeEchoBackend(t, root)

	out := mustRun(t, "backends", "--root", root)
	for _, want := range []string{"NAME", "echo", "Routing:", "analyze_log", "advanced threshold"} {
		if !strings.Contains(out, want) {
			t.Errorf("backends output missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, "backends", "--root", root, "--json")
	var res service.BackendsResult
	decodeEnvelope(t, out, &res)
	var echo *service.BackendStatus
	for i := range res.Backends {
		if res.Backends[i].Name == "echo" {
			echo = &res.Backends[i]
		}
	}
	if echo == nil {
		t.Fatalf("echo backend missing: %+v", res.Backends)
	}
	if !echo.Loaded || echo.Role != "default" {
		t.Errorf("echo = %+v", echo)
	}
}

func TestBackendsWritesDefaultConfig(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	mustRun(t, "backends", "--root", root)
	if _, err := os.Stat(filepath.Join(root, "reasoners.toml")); err != nil {
		t.Errorf("expected default reasoners.toml: %v", err)
	}
}

func TestErrorsEmpty(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	sid := startSession(t, root)
	out := mustRun(t, "errors", "--sid", sid, "--root", root)
	if !strings.Contains(out, "No errors recorded.") {
		t.Errorf("got %q", out)
	}
}

func TestErrorsInvalidSID(t *testing.T) {
	resetFlags(t)
	if _, _, err := run(t, "errors", "--sid", "../etc", "--root", t.TempDir()); err == nil {
		t.Fatal("expected error for invalid session id")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"24h", "24h0m0s", false},
		{"7d", "168h0m0s", false},
		{"30m", "30m0s", false},
		{"", "", true},
		{"xd", "", true},
		{"abc", "", true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got.String() != tt.want {
			t.Errorf("parseDuration(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}
