package service

import (
	"context"

	"github.com/dairui1/vdt/internal/analyze"
	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/report"
	"github.com/dairui1/vdt/internal/session"
)

// AnalyzeRequest selects a session and narrows the analysis.
type AnalyzeRequest struct {
	SessionID string      `json:"sid"`
	Focus     model.Focus `json:"focus"`
}

// AnalyzeResult is the outcome of an analysis run.
type AnalyzeResult struct {
	SessionID  string            `json:"sid"`
	Report     string            `json:"report"`
	ReportPath string            `json:"report_path"`
	Summary    report.Data       `json:"summary"`
	Findings   *analyze.Findings `json:"findings"`
}

// Analyze runs the analysis pipeline over the session capture, merging in
// any persisted clarify selection, and overwrites analysis/buglens.md.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	const tool = "analyze"
	dir, err := s.open(req.SessionID)
	if err != nil {
		return nil, err
	}
	rec, err := session.LoadClarify(dir)
	if err != nil {
		return nil, s.fail(ctx, req.SessionID, tool, err)
	}
	focus := analyze.MergeClarify(req.Focus, rec)

	f, err := s.Engine.Analyze(ctx, dir, focus)
	if err != nil {
		return nil, s.fail(ctx, req.SessionID, tool, err)
	}
	data := report.Build(req.SessionID, f, s.now())
	md, err := report.Markdown(data)
	if err != nil {
		return nil, s.fail(ctx, req.SessionID, tool, fault.Wrap(fault.Internal, err, "rendering report"))
	}
	path := session.ReportPath(dir)
	if err := session.WriteFile(path, []byte(md)); err != nil {
		return nil, s.fail(ctx, req.SessionID, tool, fault.Wrap(fault.Internal, err, "writing report"))
	}
	s.Logger.Info("analysis complete", "sid", req.SessionID, "events", len(f.Events), "chunks", len(f.Chunks))

	return &AnalyzeResult{
		SessionID:  req.SessionID,
		Report:     session.Link(req.SessionID, session.AnalysisDir+"/"+session.ReportFile),
		ReportPath: path,
		Summary:    data,
		Findings:   f,
	}, nil
}

// ChunksResult lists the candidate chunks of the unfocused stream. Their ids
// are the ones clarify accepts.
type ChunksResult struct {
	SessionID   string        `json:"sid"`
	Chunks      []model.Chunk `json:"chunks"`
	NeedClarify bool          `json:"need_clarify"`
}

// Chunks returns the ranked candidate chunks of a session.
func (s *Service) Chunks(ctx context.Context, sid string) (*ChunksResult, error) {
	dir, err := s.open(sid)
	if err != nil {
		return nil, err
	}
	f, err := s.Engine.Analyze(ctx, dir, model.Focus{})
	if err != nil {
		return nil, s.fail(ctx, sid, "chunks", err)
	}
	chunks := f.Chunks
	if chunks == nil {
		chunks = []model.Chunk{}
	}
	return &ChunksResult{SessionID: sid, Chunks: chunks, NeedClarify: f.NeedClarify}, nil
}

// ClarifyRequest is the answer to a clarify round.
type ClarifyRequest struct {
	SessionID   string   `json:"sid"`
	SelectedIDs []string `json:"selected_ids"`
	Notes       string   `json:"notes,omitempty"`
}

// ClarifyResult reports which ids were stored and which were rejected.
type ClarifyResult struct {
	SessionID string               `json:"sid"`
	Saved     model.ClarifyRecord  `json:"saved"`
	Unknown   []analyze.Unresolved `json:"unknown,omitempty"`
}

// Clarify validates the selected chunk ids against the session's current
// chunks and overwrites the clarify sidecar with the ones that resolve.
// Unknown ids are returned with suggestions. When ids were given and none
// resolves, nothing is written and UnknownChunk is returned.
func (s *Service) Clarify(ctx context.Context, req ClarifyRequest) (*ClarifyResult, error) {
	const tool = "clarify"
	dir, err := s.open(req.SessionID)
	if err != nil {
		return nil, err
	}
	f, err := s.Engine.Analyze(ctx, dir, model.Focus{})
	if err != nil {
		return nil, s.fail(ctx, req.SessionID, tool, err)
	}

	res := &ClarifyResult{SessionID: req.SessionID, Saved: model.ClarifyRecord{SelectedIDs: []string{}, Notes: req.Notes}}
	known := analyze.ChunkIDs(f.Chunks)
	seen := make(map[string]bool)
	for _, id := range req.SelectedIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, err := analyze.ResolveChunkID(id, f.Events, f.Windows, f.Sequences); err != nil {
			res.Unknown = append(res.Unknown, analyze.Unresolved{
				ID:          id,
				Suggestions: analyze.SuggestionIDs(analyze.Suggest(id, known)),
			})
			continue
		}
		res.Saved.SelectedIDs = append(res.Saved.SelectedIDs, id)
	}

	if len(res.Saved.SelectedIDs) == 0 && len(res.Unknown) > 0 {
		u := res.Unknown[0]
		err := fault.New(fault.UnknownChunk, "unknown chunk id %q", u.ID)
		if len(u.Suggestions) > 0 {
			err = err.WithHint("Did you mean " + u.Suggestions[0] + "?")
		}
		return res, s.fail(ctx, req.SessionID, tool, err)
	}
	for _, u := range res.Unknown {
		s.Logger.Warn("ignoring unknown chunk id", "id", u.ID, "suggestions", u.Suggestions)
	}
	if err := session.SaveClarify(dir, res.Saved); err != nil {
		return nil, s.fail(ctx, req.SessionID, tool, err)
	}
	return res, nil
}

// ScoreResult is the complexity assessment of a session.
type ScoreResult struct {
	SessionID    string                 `json:"sid"`
	Score        float64                `json:"score"`
	Metrics      model.ReasoningMetrics `json:"metrics"`
	HasArtifacts bool                   `json:"has_artifacts"`
	Threshold    float64                `json:"threshold"`
	// Advanced reports whether auto routing would pick a high-cost backend.
	Advanced bool `json:"advanced"`
}

// Score computes the reasoning metrics and weighted score of a session.
func (s *Service) Score(ctx context.Context, sid string) (*ScoreResult, error) {
	dir, err := s.open(sid)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, ok := s.Scorer.Metrics(dir)
	res := &ScoreResult{
		SessionID:    sid,
		Metrics:      m,
		HasArtifacts: ok,
		Threshold:    s.Reasoners.Thresholds.ReasonScoreAdvanced,
	}
	if ok {
		res.Score = s.Scorer.Score(dir)
	}
	res.Advanced = res.Score >= res.Threshold
	return res, nil
}
