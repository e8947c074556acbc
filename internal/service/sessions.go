package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dairui1/vdt/internal/analyze"
	"github.com/dairui1/vdt/internal/eventlog"
	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/reasoner"
	"github.com/dairui1/vdt/internal/report"
	"github.com/dairui1/vdt/internal/session"
	"github.com/dairui1/vdt/internal/store"
)

// StartRequest describes a new session.
type StartRequest struct {
	RepoRoot string `json:"repo_root,omitempty"`
	Note     string `json:"note,omitempty"`
	TTLDays  int    `json:"ttl_days,omitempty"`
	// Capture is an optional event capture file copied into logs/.
	Capture string `json:"capture,omitempty"`
}

// SessionInfo is a session plus the artifacts currently in its directory.
type SessionInfo struct {
	model.Session
	Dir       string   `json:"dir"`
	Capture   string   `json:"capture,omitempty"`
	Artifacts []string `json:"artifacts"`
}

// StartSession creates a session directory and its store row. When a
// capture is given it is imported; a failed import leaves the session in
// place and is reported in its error log.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (*SessionInfo, error) {
	repo := req.RepoRoot
	if repo == "" {
		if wd, err := os.Getwd(); err == nil {
			repo = wd
		}
	}
	sess, err := s.Sessions.Create(repo, req.Note, req.TTLDays, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.Store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	s.Logger.Info("session started", "sid", sess.ID)

	if req.Capture != "" {
		if _, err := s.Sessions.ImportCapture(sess.ID, req.Capture); err != nil {
			return nil, s.fail(ctx, sess.ID, "session_start", err)
		}
	}
	return s.describe(sess)
}

// GetSession returns a session and its artifact links. Sessions that exist
// on disk but not in the store are described from their meta.json.
func (s *Service) GetSession(ctx context.Context, sid string) (*SessionInfo, error) {
	dir, err := s.open(sid)
	if err != nil {
		return nil, err
	}
	row, err := s.Store.GetSession(ctx, sid)
	if err != nil {
		return nil, err
	}
	if row == nil {
		meta, err := session.ReadMeta(dir)
		if err != nil {
			return nil, s.fail(ctx, sid, "session_show", err)
		}
		row = &meta
	}
	return s.describe(*row)
}

// ListSessions returns stored sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, opts store.SessionOpts) ([]model.Session, error) {
	list, err := s.Store.ListSessions(ctx, opts)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Session{}
	}
	return list, nil
}

// Errors returns the session's error log, oldest first.
func (s *Service) Errors(ctx context.Context, sid string, limit int) ([]model.SessionError, error) {
	if err := session.ValidateID(sid); err != nil {
		return nil, err
	}
	list, err := s.Store.ListErrors(ctx, sid, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.SessionError{}
	}
	return list, nil
}

func (s *Service) describe(sess model.Session) (*SessionInfo, error) {
	dir := s.Sessions.Dir(sess.ID)
	info := &SessionInfo{Session: sess, Dir: dir, Artifacts: []string{}}
	if p, err := eventlog.FindCapture(filepath.Join(dir, session.LogsDir)); err == nil {
		info.Capture = session.Link(sess.ID, filepath.ToSlash(filepath.Join(session.LogsDir, filepath.Base(p))))
	}
	for _, sub := range []string{session.LogsDir, session.AnalysisDir, session.PatchesDir} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fault.Wrap(fault.Internal, err, "listing %s", sub)
		}
		for _, e := range entries {
			if e.IsDir() || e.Name()[0] == '.' {
				continue
			}
			info.Artifacts = append(info.Artifacts, session.Link(sess.ID, sub+"/"+e.Name()))
		}
	}
	return info, nil
}

// EndRequest closes a session. Evidence and next steps given here replace
// the ones derived from the session's artifacts.
type EndRequest struct {
	SessionID   string   `json:"sid"`
	Conclusion  string   `json:"conclusion,omitempty"`
	KeyEvidence []string `json:"key_evidence,omitempty"`
	NextSteps   []string `json:"next_steps,omitempty"`
}

// EndResult is the summary written by EndSession.
type EndResult struct {
	report.Summary
	SummaryLink string `json:"summary_link"`
	SummaryPath string `json:"summary_path"`
}

// EndSession writes analysis/summary.md. Without explicit evidence the
// summary is filled from the most recent reasoner result, or else from a
// fresh analysis of the capture. Ending a session twice rewrites the
// summary.
func (s *Service) EndSession(ctx context.Context, req EndRequest) (*EndResult, error) {
	const tool = "session_end"
	dir, err := s.open(req.SessionID)
	if err != nil {
		return nil, err
	}

	sum := report.Summary{
		SessionID:   req.SessionID,
		Conclusion:  strings.TrimSpace(req.Conclusion),
		KeyEvidence: append([]string{}, req.KeyEvidence...),
		NextSteps:   append([]string{}, req.NextSteps...),
		CompletedAt: s.now().UTC(),
	}
	if sum.Conclusion == "" {
		sum.Conclusion = report.DefaultConclusion
	}
	if len(sum.KeyEvidence) == 0 && len(sum.NextSteps) == 0 {
		s.deriveSummary(ctx, dir, &sum)
	}
	sum.Resources = resourceLinks(req.SessionID, dir)

	md, err := report.SummaryMarkdown(sum)
	if err != nil {
		return nil, s.fail(ctx, req.SessionID, tool, fault.Wrap(fault.Internal, err, "rendering summary"))
	}
	path := session.SummaryPath(dir)
	if err := session.WriteFile(path, []byte(md)); err != nil {
		return nil, s.fail(ctx, req.SessionID, tool, fault.Wrap(fault.Internal, err, "writing summary"))
	}
	s.Logger.Info("session ended", "sid", req.SessionID, "evidence", len(sum.KeyEvidence), "source", sum.Source)

	return &EndResult{
		Summary:     sum,
		SummaryLink: session.Link(req.SessionID, session.AnalysisDir+"/"+session.SummaryFile),
		SummaryPath: path,
	}, nil
}

// maxSummarySuspects caps the suspects listed when evidence comes from a
// fresh analysis.
const maxSummarySuspects = 3

func (s *Service) deriveSummary(ctx context.Context, dir string, sum *report.Summary) {
	if saved := reasoner.LatestResult(dir); saved != nil {
		res := saved.Result
		for _, in := range res.Insights {
			line := in.Title
			if len(in.Evidence) > 0 {
				line += ": " + strings.Join(in.Evidence, "; ")
			}
			sum.KeyEvidence = append(sum.KeyEvidence, line)
		}
		for _, sp := range res.Suspects {
			loc := sp.File
			if len(sp.Lines) > 0 {
				loc += fmt.Sprintf(" %v", sp.Lines)
			}
			sum.KeyEvidence = append(sum.KeyEvidence, fmt.Sprintf("%s: %s", loc, sp.Rationale))
		}
		sum.NextSteps = append(sum.NextSteps, res.NextSteps...)
		sum.Source = fmt.Sprintf("reasoner %s via %s", saved.Task, saved.Backend)
		return
	}

	rec, err := session.LoadClarify(dir)
	if err != nil {
		s.Logger.Warn("summary: clarify sidecar unreadable", "err", err)
	}
	f, err := s.Engine.Analyze(ctx, dir, analyze.MergeClarify(model.Focus{}, rec))
	if err != nil {
		s.Logger.Debug("summary: no findings", "err", err)
		return
	}
	if len(f.Suspects) == 0 {
		return
	}
	for i, sp := range f.Suspects {
		if i == maxSummarySuspects {
			break
		}
		sum.KeyEvidence = append(sum.KeyEvidence, fmt.Sprintf("%s:%s %s", sp.Module, sp.Func, sp.Evidence))
	}
	sum.NextSteps = append(sum.NextSteps, report.PatchSuggestion(f.Suspects)...)
	sum.Source = "BugLens analysis"
}

// resourceLinks lists the session artifacts a summary points at, skipping
// the ones that were never produced.
func resourceLinks(sid, dir string) []string {
	links := []string{session.Link(sid, session.MetaFile)}
	if p, err := eventlog.FindCapture(filepath.Join(dir, session.LogsDir)); err == nil {
		links = append(links, session.Link(sid, session.LogsDir+"/"+filepath.Base(p)))
	}
	rels := []string{session.AnalysisDir + "/" + session.ReportFile}
	for _, task := range []string{model.TaskAnalyzeLog, model.TaskProposePatch, model.TaskReviewPatch} {
		_, md := session.ReasonerPaths(dir, task)
		rels = append(rels, session.AnalysisDir+"/"+filepath.Base(md))
	}
	for _, rel := range rels {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel))); err == nil {
			links = append(links, session.Link(sid, rel))
		}
	}
	return links
}
