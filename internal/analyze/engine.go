package analyze

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/dairui1/vdt/internal/eventlog"
	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"
)

// Findings is the full result of one analysis run.
type Findings struct {
	TotalEvents int                   `json:"total_events"`
	Skipped     int                   `json:"skipped"`
	Capture     string                `json:"capture,omitempty"`
	Events      []model.Event         `json:"-"`
	Windows     []model.ErrorWindow   `json:"windows"`
	Clusters    []model.Cluster       `json:"clusters"`
	Suspects    []model.Suspect       `json:"suspects"`
	Sequences   []model.ErrorSequence `json:"-"`
	Chunks      []model.Chunk         `json:"chunks"`
	NeedClarify bool                  `json:"need_clarify"`
	Focus       model.Focus           `json:"focus"`
	Unresolved  []Unresolved          `json:"unresolved,omitempty"`
}

// ErrorCount returns the number of error events in the focused stream.
func (f *Findings) ErrorCount() int {
	n := 0
	for _, e := range f.Events {
		if e.IsError() {
			n++
		}
	}
	return n
}

// Engine runs the analysis pipeline over a session's capture.
type Engine struct {
	Params WindowParams
	Logger *slog.Logger
}

// NewEngine returns an Engine with the given window parameters.
func NewEngine(p WindowParams, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Params: p.withDefaults(), Logger: logger}
}

// Analyze reads the capture under sessionDir/logs, applies focus and
// computes findings. A session without a capture is analyzed as an empty
// stream.
func (en *Engine) Analyze(ctx context.Context, sessionDir string, focus model.Focus) (*Findings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		events  []model.Event
		skipped int
		capture string
	)
	path, err := eventlog.FindCapture(filepath.Join(sessionDir, "logs"))
	if err == nil {
		events, skipped, err = eventlog.ReadFile(path, en.Logger)
		capture = path
	}
	if err != nil {
		if fault.CodeOf(err) != fault.ArtifactMissing {
			return nil, err
		}
		en.Logger.Warn("no capture, analyzing empty stream", "session", filepath.Base(sessionDir))
	}
	if skipped > 0 {
		en.Logger.Info("skipped malformed capture lines", "count", skipped)
	}

	f := en.AnalyzeEvents(events, focus)
	f.Skipped = skipped
	f.Capture = capture
	return f, nil
}

// AnalyzeEvents runs the pipeline over an in-memory stream.
func (en *Engine) AnalyzeEvents(events []model.Event, focus model.Focus) *Findings {
	fr := ApplyFocus(events, focus, en.Params, en.Logger)
	focused := fr.Events

	f := &Findings{
		TotalEvents: len(events),
		Events:      focused,
		Focus:       focus,
		Unresolved:  fr.Unresolved,
	}
	f.Windows = FindErrorWindows(focused, en.Params)
	f.Clusters = ClusterByModuleFunc(focused)
	f.Suspects = suspectsFromClusters(f.Clusters)
	f.Sequences = FindRapidErrorSequences(focused)
	f.Chunks = ExtractChunks(focused, f.Windows, f.Sequences)
	f.NeedClarify = NeedClarify(focused, f.Clusters, f.Chunks)
	return f
}
