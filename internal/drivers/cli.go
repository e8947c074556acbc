// Package drivers provides the reasoner transports: "cli" runs a local
// command with the prompt on stdin, "http" calls an OpenAI-compatible chat
// completions API. Importing the package registers both.
package drivers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/reasoner"
)

// stderrLimit bounds how much stderr is quoted in an error.
const stderrLimit = 2000

func init() {
	reasoner.RegisterDriver(model.BackendCLI, NewCLI)
}

// CLIDriver runs a local reasoning command. The combined system and user
// prompt is written to stdin and stdout is parsed as the answer.
type CLIDriver struct {
	name   string
	cmd    string
	args   []string
	logger *slog.Logger
}

// NewCLI builds a CLI driver. The command must be on PATH.
func NewCLI(name string, cfg model.BackendConfig) (reasoner.Driver, error) {
	if cfg.Cmd == "" {
		return nil, fmt.Errorf("backend %s: cmd is required for cli backends", name)
	}
	if _, err := exec.LookPath(cfg.Cmd); err != nil {
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}
	return &CLIDriver{
		name:   name,
		cmd:    cfg.Cmd,
		args:   append([]string(nil), cfg.Args...),
		logger: slog.Default().With("backend", name),
	}, nil
}

// Execute runs the command once. A non-zero exit is
// BackendExecutionFailed with the command's stderr; ctx expiry kills the
// process and is reported as BackendTimeout.
func (d *CLIDriver) Execute(ctx context.Context, task model.ReasonerTask, ec reasoner.ExecContext) (*model.ReasonerResult, error) {
	p := reasoner.Prepare(task, ec, d.logger)

	cmd := exec.CommandContext(ctx, d.cmd, d.args...)
	cmd.Stdin = strings.NewReader(p.Combined())
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	d.logger.Debug("reasoner command finished", "duration", time.Since(start), "stdout_bytes", stdout.Len())
	if err != nil {
		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.BackendTimeout, ctx.Err(), "backend %s", d.name)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fault.New(fault.BackendExecutionFailed, "%s exited with code %d. Stderr: %s",
				d.cmd, exitErr.ExitCode(), tail(stderr.String(), stderrLimit))
		}
		return nil, fault.Wrap(fault.BackendExecutionFailed, err, "failed to start %s", d.cmd)
	}
	return reasoner.ParseResult(stdout.String()), nil
}

// tail keeps the last n bytes of s, where the error usually is.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
