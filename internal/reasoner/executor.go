package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dairui1/vdt/internal/config"
	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/logging"
	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/session"
)

// DefaultMaxRetries is the number of retries after the first primary attempt.
const DefaultMaxRetries = 2

// Recorder receives one entry per driver attempt.
type Recorder interface {
	RecordAttempt(ctx context.Context, a model.Attempt) error
}

// Outcome describes a successful execution.
type Outcome struct {
	Task         string                `json:"task"`
	Backend      string                `json:"backend"`
	Selection    Selection             `json:"selection"`
	Fallback     bool                  `json:"fallback"`
	Attempts     int                   `json:"attempts"`
	Result       *model.ReasonerResult `json:"result"`
	JSONPath     string                `json:"json_path,omitempty"`
	MarkdownPath string                `json:"markdown_path,omitempty"`
}

// Adapter runs reasoner tasks: it routes, then calls the primary driver up
// to MaxRetries+1 times with exponential backoff (1s, 2s, ...), then the
// fallback backend once. Results are persisted under the session's
// analysis directory.
type Adapter struct {
	Config     *config.Reasoners
	Registry   *Registry
	Router     *Router
	MaxRetries int
	Recorder   Recorder
	Logger     *slog.Logger

	// Sleep waits between primary attempts. It returns early with ctx's
	// error when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// NewAdapter returns an Adapter with the default retry policy and a real
// clock.
func NewAdapter(cfg *config.Reasoners, reg *Registry, scorer Scorer, logger *slog.Logger) *Adapter {
	logger = logging.OrDefault(logger)
	return &Adapter{
		Config:     cfg,
		Registry:   reg,
		Router:     &Router{Config: cfg, Scorer: scorer, Logger: logger},
		MaxRetries: DefaultMaxRetries,
		Logger:     logger,
		Sleep:      sleepContext,
		Now:        time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the wait after the given 0-based failed attempt.
func Backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// Execute routes task and runs it. See ExecuteOn.
func (a *Adapter) Execute(ctx context.Context, task model.ReasonerTask, sessionDir string) (*Outcome, error) {
	sel := a.Router.Select(ctx, task.Task, sessionDir)
	return a.run(ctx, sel, task, sessionDir)
}

// ExecuteOn runs task on the named backend, bypassing routing. Retries and
// fallback still apply.
func (a *Adapter) ExecuteOn(ctx context.Context, backend string, task model.ReasonerTask, sessionDir string) (*Outcome, error) {
	return a.run(ctx, Selection{Backend: backend, Route: backend}, task, sessionDir)
}

func (a *Adapter) run(ctx context.Context, sel Selection, task model.ReasonerTask, sessionDir string) (*Outcome, error) {
	if !model.ValidTask(task.Task) {
		return nil, fault.New(fault.InvalidInput, "unknown task %q", task.Task).
			WithHint("Use one of analyze_log, propose_patch, review_patch")
	}
	logger := a.logger().With("task", task.Task, "sid", task.SessionID)
	ec := ExecContext{
		SessionDir: sessionDir,
		Timeout:    a.Config.Timeout(task.Task),
		Redact:     task.ShouldRedact(),
	}
	out := &Outcome{Task: task.Task, Selection: sel}

	primary := sel.Backend
	var lastErr error
	if drv, ok := a.Registry.Get(primary); ok {
		for attempt := 0; attempt <= a.MaxRetries; attempt++ {
			out.Attempts++
			res, err := a.attempt(ctx, drv, primary, attempt+1, false, task, ec)
			if err == nil {
				return a.finish(out, primary, false, task, res, sessionDir)
			}
			lastErr = err
			logger.Warn("reasoner attempt failed", "backend", primary, "attempt", attempt+1, "err", err)
			if ctx.Err() != nil {
				return nil, fault.Wrap(fault.CodeOf(ctx.Err()), ctx.Err(), "reasoner %s cancelled", task.Task)
			}
			if attempt < a.MaxRetries {
				if err := a.sleep(ctx, Backoff(attempt)); err != nil {
					return nil, fault.Wrap(fault.CodeOf(err), err, "reasoner %s cancelled", task.Task)
				}
			}
		}
	} else {
		lastErr = a.unavailable(primary)
		logger.Warn("primary backend not loaded", "backend", primary, "err", lastErr)
	}

	fallback := a.Config.FallbackBackend
	if fallback != "" && fallback != primary {
		if drv, ok := a.Registry.Get(fallback); ok {
			logger.Info("trying fallback backend", "backend", fallback)
			out.Attempts++
			res, err := a.attempt(ctx, drv, fallback, 1, true, task, ec)
			if err == nil {
				return a.finish(out, fallback, true, task, res, sessionDir)
			}
			lastErr = err
			logger.Warn("fallback backend failed", "backend", fallback, "err", err)
		} else {
			logger.Warn("fallback backend not loaded", "backend", fallback)
		}
	}

	return nil, fault.Wrap(fault.BackendExhausted, lastErr, "all attempts failed for %s", task.Task)
}

func (a *Adapter) unavailable(name string) error {
	if err := a.Registry.Failure(name); err != nil {
		return err
	}
	return fault.New(fault.BackendUnavailable, "backend %s is not loaded", name)
}

// attempt runs one driver call under the per-call timeout and records it.
func (a *Adapter) attempt(ctx context.Context, drv Driver, backend string, n int, fallback bool, task model.ReasonerTask, ec ExecContext) (*model.ReasonerResult, error) {
	start := a.now()
	callCtx := ctx
	if ec.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, ec.Timeout)
		defer cancel()
	}

	res, err := drv.Execute(callCtx, task, ec)
	if err == nil && res == nil {
		res = fallbackResult("backend "+backend+" returned no result", "")
	}
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !fault.Has(err, fault.BackendTimeout) {
		err = fault.Wrap(fault.BackendTimeout, err, "backend %s timed out after %s", backend, ec.Timeout)
	}

	if a.Recorder != nil {
		rec := model.Attempt{
			ID:         uuid.New().String(),
			SessionID:  task.SessionID,
			Task:       task.Task,
			Backend:    backend,
			Number:     n,
			Fallback:   fallback,
			OK:         err == nil,
			DurationMS: a.now().Sub(start).Milliseconds(),
			StartedAt:  start.UTC().Format(time.RFC3339Nano),
		}
		if err != nil {
			rec.Code = string(fault.CodeOf(err))
			rec.Error = err.Error()
		}
		if rerr := a.Recorder.RecordAttempt(context.WithoutCancel(ctx), rec); rerr != nil {
			a.logger().Warn("recording reasoner attempt", "err", rerr)
		}
	}
	return res, err
}

// savedResult is the on-disk shape of analysis/reasoner_<task>.json.
type savedResult struct {
	Task      string                `json:"task"`
	Backend   string                `json:"backend"`
	Timestamp string                `json:"timestamp"`
	Inputs    model.ReasonerInputs  `json:"inputs"`
	Result    *model.ReasonerResult `json:"result"`
}

// finish persists the result. A persistence failure is logged; the result
// is still returned.
func (a *Adapter) finish(out *Outcome, backend string, fallback bool, task model.ReasonerTask, res *model.ReasonerResult, sessionDir string) (*Outcome, error) {
	out.Backend = backend
	out.Fallback = fallback
	out.Result = res

	jsonPath, mdPath := session.ReasonerPaths(sessionDir, task.Task)
	if err := a.save(jsonPath, mdPath, backend, task, res); err != nil {
		a.logger().Warn("saving reasoner result", "task", task.Task, "err", err)
		return out, nil
	}
	out.JSONPath, out.MarkdownPath = jsonPath, mdPath
	a.logger().Info("reasoner result saved", "task", task.Task, "backend", backend, "path", jsonPath)
	return out, nil
}

func (a *Adapter) save(jsonPath, mdPath, backend string, task model.ReasonerTask, res *model.ReasonerResult) error {
	data, err := json.MarshalIndent(savedResult{
		Task:      task.Task,
		Backend:   backend,
		Timestamp: a.now().UTC().Format(time.RFC3339),
		Inputs:    task.Inputs,
		Result:    res,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := session.WriteFile(jsonPath, data); err != nil {
		return err
	}
	var md bytes.Buffer
	if err := RenderMarkdown(&md, task.Task, backend, res); err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	return session.WriteFile(mdPath, md.Bytes())
}

func (a *Adapter) sleep(ctx context.Context, d time.Duration) error {
	if a.Sleep != nil {
		return a.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (a *Adapter) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Adapter) logger() *slog.Logger {
	return logging.OrDefault(a.Logger)
}
