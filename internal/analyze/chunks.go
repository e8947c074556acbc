package analyze

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dairui1/vdt/internal/model"
)

// Chunk extraction limits.
const (
	WindowContext      = 20
	WindowExcerptLines = 10
	ModuleExcerptLines = 8
	FuncExcerptLines   = 5
	RapidExcerptLines  = 6
	ModuleMinEvents    = 5
	FuncMinEvents      = 3
	excerptMsgLen      = 60
)

// CaptureRef is the session-relative path used in chunk refs.
const CaptureRef = "logs/capture.ndjson"

// Chunk id prefixes.
const (
	prefixWindow   = "error_window_"
	prefixModule   = "module_"
	prefixFunction = "function_"
	prefixRapid    = "rapid_errors_"
)

// ExtractChunks builds the candidate chunks for events from its error
// windows and rapid error sequences, ranked by family priority and then by
// error count.
func ExtractChunks(events []model.Event, windows []model.ErrorWindow, seqs []model.ErrorSequence) []model.Chunk {
	var chunks []model.Chunk

	for n, w := range windows {
		start := max(0, w.Start-WindowContext)
		end := min(len(events), w.End+WindowContext)
		ctx := events[start:end]
		chunks = append(chunks, model.Chunk{
			ID:      fmt.Sprintf("%s%d", prefixWindow, n),
			Title:   fmt.Sprintf("Error window #%d: %d errors, density %.2f", n+1, w.ErrorCount, w.Density),
			Excerpt: excerpt(ctx, WindowExcerptLines),
			Refs:    refs(start, end, ctx),
			Meta: model.ChunkMeta{
				Type:       model.ChunkErrorWindow,
				StartIdx:   w.Start,
				EndIdx:     w.End,
				ErrorCount: w.ErrorCount,
				Density:    w.Density,
			},
		})
	}

	for _, g := range groupBy(events, func(e model.Event) string { return e.Module }) {
		if len(g.events) < ModuleMinEvents || g.errors == 0 {
			continue
		}
		chunks = append(chunks, model.Chunk{
			ID:      prefixModule + g.key,
			Title:   fmt.Sprintf("Module %s: %d events, %d errors", g.key, len(g.events), g.errors),
			Excerpt: excerpt(g.events, ModuleExcerptLines),
			Refs:    refs(g.first, g.last+1, g.events),
			Meta: model.ChunkMeta{
				Type:       model.ChunkModule,
				StartIdx:   g.first,
				EndIdx:     g.last + 1,
				ErrorCount: g.errors,
				Module:     g.key,
				EventCount: len(g.events),
			},
		})
	}

	for _, g := range groupBy(events, model.Event.Key) {
		if len(g.events) < FuncMinEvents || g.errors == 0 {
			continue
		}
		e := g.events[0]
		chunks = append(chunks, model.Chunk{
			ID:      prefixFunction + e.Module + "_" + e.Func,
			Title:   fmt.Sprintf("Function %s: %d events, %d errors", g.key, len(g.events), g.errors),
			Excerpt: excerpt(g.events, FuncExcerptLines),
			Refs:    refs(g.first, g.last+1, g.events),
			Meta: model.ChunkMeta{
				Type:       model.ChunkFunction,
				StartIdx:   g.first,
				EndIdx:     g.last + 1,
				ErrorCount: g.errors,
				Module:     e.Module,
				Func:       e.Func,
				EventCount: len(g.events),
			},
		})
	}

	for n, s := range seqs {
		start, end := s.Indices[0], s.Indices[len(s.Indices)-1]+1
		chunks = append(chunks, model.Chunk{
			ID:      fmt.Sprintf("%s%d", prefixRapid, n),
			Title:   fmt.Sprintf("Rapid errors #%d: %d errors in %dms", n+1, len(s.Events), s.DurationMS),
			Excerpt: excerpt(s.Events, RapidExcerptLines),
			Refs:    refs(start, end, s.Events),
			Meta: model.ChunkMeta{
				Type:       model.ChunkRapidSequence,
				StartIdx:   start,
				EndIdx:     end,
				ErrorCount: len(s.Events),
				EventCount: len(s.Events),
				DurationMS: s.DurationMS,
			},
		})
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		pi, pj := chunks[i].Meta.Type.Priority(), chunks[j].Meta.Type.Priority()
		if pi != pj {
			return pi > pj
		}
		return chunks[i].Meta.ErrorCount > chunks[j].Meta.ErrorCount
	})
	return chunks
}

// ChunkIDs returns the ids of chunks in order.
func ChunkIDs(chunks []model.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

// FormatLine renders one event as an excerpt line.
func FormatLine(e model.Event) string {
	return fmt.Sprintf("[%s] %s:%s - %s", e.Level, e.Module, e.Func, cut(e.Msg, excerptMsgLen))
}

func excerpt(events []model.Event, lines int) string {
	if len(events) > lines {
		events = events[:lines]
	}
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = FormatLine(e)
	}
	return strings.Join(out, "\n")
}

// refs returns the 1-based line span of [start, end) followed by the
// distinct module:func keys of events.
func refs(start, end int, events []model.Event) []string {
	out := []string{fmt.Sprintf("%s#L%d-L%d", CaptureRef, start+1, end)}
	seen := make(map[string]bool)
	for _, e := range events {
		k := e.Key()
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func cut(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type group struct {
	key         string
	events      []model.Event
	errors      int
	first, last int
}

// groupBy partitions events by key in order of first appearance, recording
// the first and last index of each group.
func groupBy(events []model.Event, key func(model.Event) string) []*group {
	var groups []*group
	byKey := make(map[string]*group)
	for i, e := range events {
		k := key(e)
		g, ok := byKey[k]
		if !ok {
			g = &group{key: k, first: i}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.events = append(g.events, e)
		g.last = i
		if e.IsError() {
			g.errors++
		}
	}
	return groups
}
