package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dairui1/vdt/internal/config"
)

func TestConfigCmdShowEmpty(t *testing.T) {
	resetFlags(t)

	out := mustRun(t, "config")
	if !strings.Contains(out, "KEY") || !strings.Contains(out, "VALUE") {
		t.Errorf("expected table headers, got: %s", out)
	}
	for _, key := range config.ValidKeys() {
		if !strings.Contains(out, key) {
			t.Errorf("expected key %s, got: %s", key, out)
		}
	}
	if !strings.Contains(out, "(not set)") {
		t.Errorf("expected (not set) for empty values, got: %s", out)
	}
}

func TestConfigCmdGet(t *testing.T) {
	resetFlags(t)
	c := &config.Config{Root: "/var/lib/vdt", WindowSize: 80}
	if err := c.SaveTo(configPath); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"root", "/var/lib/vdt"},
		{"window_size", "80"},
		{"max_retries", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			out := mustRun(t, "config", tt.key)
			if got := strings.TrimSpace(out); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigCmdSet(t *testing.T) {
	resetFlags(t)

	out := mustRun(t, "config", "max_retries", "0")
	if !strings.Contains(out, "max_retries = 0") {
		t.Errorf("unexpected output: %q", out)
	}

	c, err := config.LoadFrom(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxRetries == nil || *c.MaxRetries != 0 {
		t.Errorf("max_retries not persisted: %+v", c.MaxRetries)
	}
	if got := c.Retries(2); got != 0 {
		t.Errorf("Retries = %d, want 0", got)
	}
}

func TestConfigCmdSetInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"nonexistent", "x"},
		{"default_format", "yaml"},
		{"density_threshold", "1.5"},
		{"window_size", "-1"},
		{"log_level", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			resetFlags(t)
			if _, _, err := run(t, "config", tt.key, tt.value); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestConfigCmdShowJSON(t *testing.T) {
	resetFlags(t)
	c := &config.Config{DBPath: "/custom/vdt.db", DefaultFormat: "table"}
	if err := c.SaveTo(configPath); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "config", "--json")
	var got config.Config
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out)
	}
	if got.DBPath != "/custom/vdt.db" {
		t.Errorf("db_path: got %q, want %q", got.DBPath, "/custom/vdt.db")
	}
}

func TestConfigCmdTooManyArgs(t *testing.T) {
	resetFlags(t)
	if _, _, err := run(t, "config", "a", "b", "c"); err == nil {
		t.Error("expected error for too many args")
	}
}

func TestConfigOverlaysFlags(t *testing.T) {
	resetFlags(t)
	root := t.TempDir()
	c := &config.Config{Root: root, DefaultFormat: "json"}
	if err := c.SaveTo(configPath); err != nil {
		t.Fatal(err)
	}
	out := mustRun(t, "session", "list")
	env := decodeEnvelope(t, out, nil)
	if env.IsError {
		t.Fatalf("unexpected error: %s", out)
	}
	if _, err := os.Stat(filepath.Join(root, "vdt.db")); err != nil {
		t.Errorf("expected database under configured root: %v", err)
	}
	if rootDir != root {
		t.Errorf("rootDir = %q, want %q from config", rootDir, root)
	}
}

func TestConfigFlag(t *testing.T) {
	resetFlags(t)
	alt := filepath.Join(t.TempDir(), "alt.toml")
	c := &config.Config{Root: "/srv/vdt"}
	if err := c.SaveTo(alt); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "config", "root", "--config", alt)
	if got := strings.TrimSpace(out); got != "/srv/vdt" {
		t.Errorf("got %q, want /srv/vdt", got)
	}
}
