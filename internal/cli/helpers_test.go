package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dairui1/vdt/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags restores the package-level flag variables between tests and
// points the config file at a temp dir.
func resetFlags(t *testing.T) {
	t.Helper()
	jsonOutput = false
	dbPath = ""
	logLevel = "warn"
	configPath = filepath.Join(t.TempDir(), "config.toml")
	// Flag sets outlive a single Execute; forget which flags earlier tests
	// passed so the config overlay and --from/--to pairing see a clean slate.
	clearChanged(rootCmd)

	sessionNote, sessionTTL, sessionCapture, sessionRepo = "", 7, "", ""
	sessionSince, sessionLimit = "", 0
	endConclusion, endEvidence, endNextSteps = "", nil, nil
	analyzeSID, analyzeModule, analyzeFunc = "", "", ""
	analyzeFrom, analyzeTo, analyzeSelect = 0, 0, nil
	chunksSID, chunksExcerpt = "", false
	clarifySID, clarifySelect, clarifyNotes = "", nil, ""
	scoreSID = ""
	reasonSID, reasonTask, reasonBackend = "", "analyze_log", ""
	reasonLogs, reasonCode, reasonConstraints = nil, nil, nil
	reasonReport, reasonDiff, reasonQuestion, reasonModel = "", "", "", ""
	reasonNoRedact = false
	backendsHistory, backendsSID, backendsBackend, backendsTask, backendsSince = false, "", "", "", ""
	backendsLimit = 20
	errorsSID, errorsLimit = "", 0

	t.Cleanup(func() {
		configPath = config.Path()
		jsonOutput = false
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
}

func clearChanged(c *cobra.Command) {
	unset := func(f *pflag.Flag) { f.Changed = false }
	c.PersistentFlags().VisitAll(unset)
	c.Flags().VisitAll(unset)
	for _, sub := range c.Commands() {
		clearChanged(sub)
	}
}

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errBuf bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errBuf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errBuf.String(), err
}

// mustRun is run that fails the test on error.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := run(t, args...)
	if err != nil {
		t.Fatalf("vdt %s: %v\nstderr: %s", strings.Join(args, " "), err, stderr)
	}
	return out
}

// envelope mirrors the JSON response envelope.
type envelope struct {
	IsError bool            `json:"isError"`
	Message string          `json:"message"`
	Hint    string          `json:"hint"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, out string, data any) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decode envelope: %v\n%s", err, out)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v\n%s", err, env.Data)
		}
	}
	return env
}

// writeCapture writes twelve events: db:connect errors alternating with
// app:tick infos, half a second apart.
func writeCapture(t *testing.T) string {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < 12; i++ {
		level, mod, fn := "info", "app", "tick"
		if i%2 == 0 {
			level, mod, fn = "error", "db", "connect"
		}
		fmt.Fprintf(&sb, `{"ts":%d,"level":%q,"module":%q,"func":%q,"msg":"event %d","kv":{"attempt":%d}}`+"\n",
			i*500, level, mod, fn, i, i)
	}
	path := filepath.Join(t.TempDir(), "capture.ndjson")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// startSession creates a session from a fresh capture under root.
func startSession(t *testing.T, root string) string {
	t.Helper()
	out := mustRun(t, "session", "start", "--root", root, "--note", "db flake", "--capture", writeCapture(t))
	sid := strings.TrimSpace(out)
	if sid == "" {
		t.Fatal("session start printed no id")
	}
	return sid
}
