package analyze

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"
)

// Clarify thresholds.
const (
	clarifyMaxChunks       = 5
	clarifyMaxClusters     = 10
	clarifyMinEvents       = 20
	clarifyMaxErrorModules = 5
)

// Range is a half-open [Start, End) span of event indices.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Unresolved is a selected chunk id that did not map to any range.
type Unresolved struct {
	ID          string   `json:"id"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// FocusResult is the event stream left after applying a focus.
type FocusResult struct {
	Events     []model.Event `json:"-"`
	Resolved   []string      `json:"resolved,omitempty"`
	Unresolved []Unresolved  `json:"unresolved,omitempty"`
}

// MergeClarify unions the ids of a persisted clarify record into focus. Focus
// ids come first, then record ids; duplicates are dropped.
func MergeClarify(focus model.Focus, rec *model.ClarifyRecord) model.Focus {
	if rec == nil || len(rec.SelectedIDs) == 0 {
		return focus
	}
	seen := make(map[string]bool)
	var ids []string
	for _, list := range [][]string{focus.SelectedIDs, rec.SelectedIDs} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	focus.SelectedIDs = ids
	return focus
}

// ResolveChunkID maps a chunk id back to its index range in events. Window
// and sequence ordinals index into windows and seqs as produced for the same
// events.
func ResolveChunkID(id string, events []model.Event, windows []model.ErrorWindow, seqs []model.ErrorSequence) (Range, error) {
	switch {
	case strings.HasPrefix(id, prefixWindow):
		n, ok := ordinal(id, prefixWindow)
		if ok && n < len(windows) {
			return Range{Start: windows[n].Start, End: windows[n].End}, nil
		}
	case strings.HasPrefix(id, prefixRapid):
		n, ok := ordinal(id, prefixRapid)
		if ok && n < len(seqs) {
			idx := seqs[n].Indices
			return Range{Start: idx[0], End: idx[len(idx)-1] + 1}, nil
		}
	case strings.HasPrefix(id, prefixFunction):
		rest := strings.TrimPrefix(id, prefixFunction)
		for i := 0; i < len(rest); i++ {
			if rest[i] != '_' {
				continue
			}
			mod, fn := rest[:i], rest[i+1:]
			if r, ok := span(events, func(e model.Event) bool { return e.Module == mod && e.Func == fn }); ok {
				return r, nil
			}
		}
	case strings.HasPrefix(id, prefixModule):
		name := strings.TrimPrefix(id, prefixModule)
		if r, ok := span(events, func(e model.Event) bool { return e.Module == name }); ok {
			return r, nil
		}
	}
	return Range{}, fault.New(fault.UnknownChunk, "unknown chunk id %q", id)
}

func ordinal(id, prefix string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// span returns the positional range from the first to the last matching
// event. Non-matching events in between are part of the range.
func span(events []model.Event, match func(model.Event) bool) (Range, bool) {
	first, last := -1, -1
	for i, e := range events {
		if match(e) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return Range{}, false
	}
	return Range{Start: first, End: last + 1}, true
}

// FilterEvents applies the substring and time-range parts of focus.
func FilterEvents(events []model.Event, focus model.Focus) []model.Event {
	if focus.Module == "" && focus.Func == "" && focus.TimeRange == nil {
		return events
	}
	var out []model.Event
	for _, e := range events {
		if focus.Module != "" && !strings.Contains(e.Module, focus.Module) {
			continue
		}
		if focus.Func != "" && !strings.Contains(e.Func, focus.Func) {
			continue
		}
		if tr := focus.TimeRange; tr != nil && (e.TS < tr[0] || e.TS > tr[1]) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ApplyFocus filters events by focus. Substring and time filters apply
// first; selected chunk ids are then resolved against the filtered stream and
// the union of their ranges is kept, re-sorted by timestamp. Ids that do not
// resolve are reported with suggestions and skipped; if none resolve the
// filtered stream is returned unchanged.
func ApplyFocus(events []model.Event, focus model.Focus, p WindowParams, logger *slog.Logger) FocusResult {
	if logger == nil {
		logger = slog.Default()
	}
	filtered := FilterEvents(events, focus)
	if len(focus.SelectedIDs) == 0 {
		return FocusResult{Events: filtered}
	}

	windows := FindErrorWindows(filtered, p)
	seqs := FindRapidErrorSequences(filtered)

	var (
		res   FocusResult
		known []string
		keep  = make(map[int]bool)
	)
	for _, id := range focus.SelectedIDs {
		r, err := ResolveChunkID(id, filtered, windows, seqs)
		if err != nil {
			if known == nil {
				known = ChunkIDs(ExtractChunks(filtered, windows, seqs))
			}
			u := Unresolved{ID: id, Suggestions: SuggestionIDs(Suggest(id, known))}
			logger.Warn("skipping unknown chunk id", "id", id, "suggestions", u.Suggestions)
			res.Unresolved = append(res.Unresolved, u)
			continue
		}
		res.Resolved = append(res.Resolved, id)
		for i := r.Start; i < r.End; i++ {
			keep[i] = true
		}
	}
	if len(keep) == 0 {
		res.Events = filtered
		return res
	}

	idx := make([]int, 0, len(keep))
	for i := range keep {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]model.Event, len(idx))
	for j, i := range idx {
		out[j] = filtered[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS < out[j].TS })
	res.Events = out
	return res
}

// NeedClarify reports whether the findings are broad enough that asking the
// user to pick chunks would help. It is advisory only.
func NeedClarify(events []model.Event, clusters []model.Cluster, chunks []model.Chunk) bool {
	if len(chunks) > clarifyMaxChunks || len(clusters) > clarifyMaxClusters || len(events) < clarifyMinEvents {
		return true
	}
	modules := make(map[string]bool)
	for _, e := range events {
		if e.IsError() {
			modules[e.Module] = true
		}
	}
	return len(modules) > clarifyMaxErrorModules
}
