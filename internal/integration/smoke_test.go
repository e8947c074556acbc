//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSmokeHelp(t *testing.T) {
	e := newEnv(t)
	out := e.mustRun("--help")
	for _, want := range []string{"BugLens", "session", "analyze", "reason"} {
		if !strings.Contains(out, want) {
			t.Errorf("help missing %q:\n%s", want, out)
		}
	}
}

func TestSmokeVersion(t *testing.T) {
	e := newEnv(t)
	out := e.mustRun("version")
	if !strings.HasPrefix(out, "vdt ") {
		t.Errorf("version = %q", out)
	}
}

func TestSmokeSessionLayout(t *testing.T) {
	e := newEnv(t)
	sid := e.startSession()
	if sid == "" {
		t.Fatal("no session id printed")
	}
	dir := filepath.Join(e.root, "sessions", sid)
	for _, sub := range []string{"logs", "analysis", "patches"} {
		if fi, err := os.Stat(filepath.Join(dir, sub)); err != nil || !fi.IsDir() {
			t.Errorf("missing %s/: %v", sub, err)
		}
	}
	if _, err := os.Stat(filepath.Join(e.root, "vdt.db")); err != nil {
		t.Errorf("database not created under root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(e.root, "reasoners.toml")); err != nil {
		t.Errorf("default reasoners.toml not written: %v", err)
	}
}

func TestSmokeJSONDefaultFormat(t *testing.T) {
	e := newEnv(t)
	e.writeConfig("default_format = \"json\"\n")
	out := e.mustRun("session", "list")
	var list []map[string]any
	if env := e.decode(out, &list); env.IsError {
		t.Fatalf("unexpected error envelope: %s", out)
	}
	if len(list) != 0 {
		t.Errorf("expected no sessions, got %d", len(list))
	}
}
