package model

// ErrorWindow is a contiguous slice [Start, End) of the event index space
// whose error density exceeded the configured threshold.
type ErrorWindow struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	ErrorCount int     `json:"error_count"`
	Density    float64 `json:"density"`
}

// Cluster aggregates the events of one module:func pair.
type Cluster struct {
	Key        string `json:"id"`
	Module     string `json:"module"`
	Func       string `json:"func"`
	Count      int    `json:"count"`
	ErrorCount int    `json:"error_count"`
	TimeSpan   int64  `json:"time_span"`
}

// SuspectHighErrorRate is the only suspect type produced today.
const SuspectHighErrorRate = "high-error-rate"

// Suspect is a module:func pair whose error rate marks it as a likely culprit.
type Suspect struct {
	Type      string  `json:"type"`
	Module    string  `json:"module"`
	Func      string  `json:"func"`
	ErrorRate float64 `json:"error_rate"`
	Evidence  string  `json:"evidence"`
}

// ErrorSequence is a burst of error events with less than the sequence gap
// between consecutive entries.
type ErrorSequence struct {
	Indices    []int   `json:"indices"`
	Events     []Event `json:"events"`
	DurationMS int64   `json:"duration_ms"`
}

// ChunkType names the family a chunk was extracted from.
type ChunkType string

// Chunk families.
const (
	ChunkErrorWindow   ChunkType = "error_window"
	ChunkModule        ChunkType = "module"
	ChunkFunction      ChunkType = "function"
	ChunkRapidSequence ChunkType = "rapid_sequence"
)

// Priority returns the ranking weight of the chunk family. Higher sorts first.
func (t ChunkType) Priority() int {
	switch t {
	case ChunkErrorWindow:
		return 4
	case ChunkRapidSequence:
		return 3
	case ChunkFunction:
		return 2
	case ChunkModule:
		return 1
	}
	return 0
}

// ChunkMeta carries the type-specific fields of a chunk.
type ChunkMeta struct {
	Type       ChunkType `json:"type"`
	StartIdx   int       `json:"start_idx"`
	EndIdx     int       `json:"end_idx"`
	ErrorCount int       `json:"error_count"`
	Density    float64   `json:"density,omitempty"`
	Module     string    `json:"module,omitempty"`
	Func       string    `json:"func,omitempty"`
	EventCount int       `json:"event_count,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

// Chunk is a named, excerpted, ranked slice of the event stream offered for
// focus selection.
type Chunk struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Excerpt string    `json:"excerpt"`
	Refs    []string  `json:"refs"`
	Meta    ChunkMeta `json:"metadata"`
}

// Focus narrows an analysis run. Module and Func are substring filters;
// TimeRange is inclusive on both ends.
type Focus struct {
	Module      string    `json:"module,omitempty"`
	Func        string    `json:"func,omitempty"`
	TimeRange   *[2]int64 `json:"timeRange,omitempty"`
	SelectedIDs []string  `json:"selectedIds,omitempty"`
}

// IsZero reports whether the focus filters nothing.
func (f Focus) IsZero() bool {
	return f.Module == "" && f.Func == "" && f.TimeRange == nil && len(f.SelectedIDs) == 0
}

// ClarifyRecord is the persisted answer to a clarify round: the chunk ids the
// user selected plus free-text notes.
type ClarifyRecord struct {
	SelectedIDs []string `json:"selected_ids"`
	Notes       string   `json:"notes,omitempty"`
}
