package service

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/dairui1/vdt/internal/eventlog"
	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/reasoner"
	"github.com/dairui1/vdt/internal/session"
	"github.com/dairui1/vdt/internal/store"
)

// ReasonRequest is a reasoner task plus an optional backend override.
type ReasonRequest struct {
	model.ReasonerTask
	// Backend bypasses routing when set.
	Backend string `json:"backend,omitempty"`
}

// Reason runs a reasoner task for a session. Inputs left empty default to
// the session capture and, when present, its BugLens report. Every driver
// attempt is recorded in the store.
func (s *Service) Reason(ctx context.Context, req ReasonRequest) (*reasoner.Outcome, error) {
	const tool = "reason"
	task := req.ReasonerTask
	dir, err := s.open(task.SessionID)
	if err != nil {
		return nil, err
	}
	task.Inputs = s.defaultInputs(task.SessionID, dir, task.Inputs)

	a := reasoner.NewAdapter(s.Reasoners, s.Registry, s.Scorer, s.Logger)
	a.MaxRetries = s.MaxRetries
	a.Recorder = s.Store
	if s.Sleep != nil {
		a.Sleep = s.Sleep
	}
	if s.Now != nil {
		a.Now = s.Now
	}

	var out *reasoner.Outcome
	if req.Backend != "" {
		out, err = a.ExecuteOn(ctx, req.Backend, task, dir)
	} else {
		out, err = a.Execute(ctx, task, dir)
	}
	if err != nil {
		return nil, s.fail(ctx, task.SessionID, tool, err)
	}
	return out, nil
}

func (s *Service) defaultInputs(sid, dir string, in model.ReasonerInputs) model.ReasonerInputs {
	if len(in.Logs) == 0 {
		if p, err := eventlog.FindCapture(filepath.Join(dir, session.LogsDir)); err == nil {
			in.Logs = []string{session.Link(sid, session.LogsDir+"/"+filepath.Base(p))}
		}
	}
	if in.PriorReport == "" {
		if _, err := os.Stat(session.ReportPath(dir)); err == nil {
			in.PriorReport = session.Link(sid, session.AnalysisDir+"/"+session.ReportFile)
		}
	}
	return in
}

// BackendStatus describes one configured backend.
type BackendStatus struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	CostHint string   `json:"cost_hint,omitempty"`
	Supports []string `json:"supports"`
	Loaded   bool     `json:"loaded"`
	Error    string   `json:"error,omitempty"`
	Role     string   `json:"role,omitempty"`
}

// BackendsResult is the backend configuration as loaded.
type BackendsResult struct {
	Backends  []BackendStatus   `json:"backends"`
	Routing   map[string]string `json:"routing"`
	Threshold float64           `json:"threshold"`
	Timeouts  map[string]int    `json:"timeouts"`
}

// Backends reports every configured backend and whether it loaded.
func (s *Service) Backends(ctx context.Context) (*BackendsResult, error) {
	cfg := s.Reasoners
	res := &BackendsResult{
		Backends:  []BackendStatus{},
		Routing:   make(map[string]string, len(cfg.Routing)),
		Threshold: cfg.Thresholds.ReasonScoreAdvanced,
		Timeouts: map[string]int{
			"default_sec": cfg.Timeouts.DefaultSec,
			"analyze_sec": cfg.Timeouts.AnalyzeSec,
			"patch_sec":   cfg.Timeouts.PatchSec,
		},
	}
	for task, route := range cfg.Routing {
		res.Routing[task] = route
	}
	for _, name := range cfg.BackendNames() {
		b := cfg.Backends[name]
		st := BackendStatus{
			Name:     name,
			Type:     b.Type,
			CostHint: b.CostHint,
			Supports: b.Supports,
		}
		if st.Supports == nil {
			st.Supports = []string{}
		}
		_, st.Loaded = s.Registry.Get(name)
		if err := s.Registry.Failure(name); err != nil {
			st.Error = err.Error()
		}
		switch name {
		case cfg.DefaultBackend:
			st.Role = "default"
		case cfg.FallbackBackend:
			st.Role = "fallback"
		}
		res.Backends = append(res.Backends, st)
	}
	return res, nil
}

// HistoryRequest filters the attempt history.
type HistoryRequest struct {
	SessionID string
	Backend   string
	Task      string
	Since     time.Time
	Limit     int
}

// HistoryResult is the recorded attempt history with per-backend totals.
type HistoryResult struct {
	Attempts []model.Attempt     `json:"attempts"`
	Stats    []store.BackendStat `json:"stats"`
}

// History returns recorded driver attempts, newest first, and per-backend
// statistics over the same period.
func (s *Service) History(ctx context.Context, req HistoryRequest) (*HistoryResult, error) {
	if req.SessionID != "" {
		if err := session.ValidateID(req.SessionID); err != nil {
			return nil, err
		}
	}
	attempts, err := s.Store.ListAttempts(ctx, store.AttemptOpts{
		SessionID: req.SessionID,
		Backend:   req.Backend,
		Task:      req.Task,
		Limit:     req.Limit,
	})
	if err != nil {
		return nil, err
	}
	stats, err := s.Store.BackendStats(ctx, req.Since)
	if err != nil {
		return nil, err
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	if stats == nil {
		stats = []store.BackendStat{}
	}
	return &HistoryResult{Attempts: attempts, Stats: stats}, nil
}
