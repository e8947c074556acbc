//go:build integration

// Package integration provides end-to-end tests that exercise the compiled vdt
// binary. Tests in this package are excluded from normal `go test ./...` runs
// and require the build tag: go test -tags integration ./internal/integration/
//
// TestMain builds the vdt binary once into a temporary directory. Each test
// creates an isolated vdtEnv with its own HOME, config, session root and
// database so tests can run in parallel.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// vdtBin holds the path to the compiled vdt binary, set once in TestMain.
var vdtBin string

func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "vdt-integration-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration: create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmp)

	bin := filepath.Join(tmp, "vdt")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/vdt")
	cmd.Dir = modRoot()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "integration: build vdt binary: %v\n", err)
		os.Exit(1)
	}

	vdtBin = bin
	os.Exit(m.Run())
}

// modRoot walks up from the working directory until go.mod is found.
func modRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		panic(fmt.Sprintf("integration: getwd: %v", err))
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			panic("integration: could not find go.mod in any parent directory")
		}
		dir = parent
	}
}

// vdtEnv is an isolated environment for running vdt commands. The config
// file under HOME points the session root at a temp dir.
type vdtEnv struct {
	t       *testing.T
	home    string
	root    string // session root
	cfgPath string
}

func newEnv(t *testing.T) *vdtEnv {
	t.Helper()
	home := t.TempDir()
	root := filepath.Join(home, "work", ".vdt")

	cfgDir := filepath.Join(home, ".vdt")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	e := &vdtEnv{t: t, home: home, root: root, cfgPath: filepath.Join(cfgDir, "config.toml")}
	e.writeConfig("")
	return e
}

// writeConfig rewrites config.toml. The root line is always included to
// keep sessions sandboxed.
func (e *vdtEnv) writeConfig(extra string) {
	e.t.Helper()
	cfg := fmt.Sprintf("root = %q\n%s", e.root, extra)
	if err := os.WriteFile(e.cfgPath, []byte(cfg), 0o644); err != nil {
		e.t.Fatalf("write config: %v", err)
	}
}

// writeReasoners installs a reasoners.toml under the session root.
func (e *vdtEnv) writeReasoners(content string) {
	e.t.Helper()
	if err := os.MkdirAll(e.root, 0o755); err != nil {
		e.t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(e.root, "reasoners.toml"), []byte(content), 0o644); err != nil {
		e.t.Fatalf("write reasoners: %v", err)
	}
}

func (e *vdtEnv) env() []string {
	return append(os.Environ(),
		"HOME="+e.home,
		"XDG_CONFIG_HOME="+filepath.Join(e.home, ".config"),
		"OPENAI_API_KEY=",
		"OPENROUTER_API_KEY=",
	)
}

// run executes `vdt <args>` and returns stdout, stderr and any error.
func (e *vdtEnv) run(args ...string) (stdout, stderr string, err error) {
	e.t.Helper()
	cmd := exec.Command(vdtBin, args...)
	cmd.Env = e.env()
	cmd.Dir = e.home
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// mustRun is like run but calls t.Fatal if the command fails.
func (e *vdtEnv) mustRun(args ...string) string {
	e.t.Helper()
	stdout, stderr, err := e.run(args...)
	if err != nil {
		e.t.Fatalf("vdt %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}
	return stdout
}

// envelope is the JSON response shape of every --json command.
type envelope struct {
	IsError bool            `json:"isError"`
	Message string          `json:"message"`
	Hint    string          `json:"hint"`
	Data    json.RawMessage `json:"data"`
}

func (e *vdtEnv) decode(out string, data any) envelope {
	e.t.Helper()
	var env envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		e.t.Fatalf("decode envelope: %v\n%s", err, out)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			e.t.Fatalf("decode data: %v\n%s", err, env.Data)
		}
	}
	return env
}

// writeCapture writes an event capture with a burst of db:connect errors
// between app:tick infos and returns its path.
func (e *vdtEnv) writeCapture() string {
	e.t.Helper()
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		level, mod, fn := "info", "app", "tick"
		if i%2 == 0 {
			level, mod, fn = "error", "db", "connect"
		}
		fmt.Fprintf(&sb, `{"ts":%d,"level":%q,"module":%q,"func":%q,"msg":"event %d","kv":{"n":%d}}`+"\n",
			1_700_000_000_000+int64(i)*250, level, mod, fn, i, i)
	}
	path := filepath.Join(e.home, "capture.ndjson")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		e.t.Fatalf("write capture: %v", err)
	}
	return path
}

// startSession creates a session from a fresh capture and returns its id.
func (e *vdtEnv) startSession() string {
	e.t.Helper()
	out := e.mustRun("session", "start", "--note", "integration", "--capture", e.writeCapture())
	return strings.TrimSpace(out)
}
