// Package analyze turns a captured event stream into ranked findings: error
// windows, module:func clusters, suspects, rapid error sequences, and the
// candidate chunks offered for focus selection.
package analyze

import (
	"fmt"
	"sort"

	"github.com/dairui1/vdt/internal/model"
)

// Window defaults.
const (
	DefaultWindowSize       = 50
	DefaultDensityThreshold = 0.1
)

// Suspect and sequence thresholds.
const (
	SuspectMinCalls     = 5
	SuspectMinErrorRate = 0.2
	RapidGapMS          = 5000
	RapidMinEvents      = 3
)

// WindowParams controls the sliding error window. Zero fields take their
// defaults: Size 50, Stride Size/2, DensityThreshold 0.1.
type WindowParams struct {
	Size             int     `json:"size"`
	Stride           int     `json:"stride"`
	DensityThreshold float64 `json:"density_threshold"`
}

// DefaultWindowParams returns the default window parameters.
func DefaultWindowParams() WindowParams {
	return WindowParams{}.withDefaults()
}

func (p WindowParams) withDefaults() WindowParams {
	if p.Size <= 0 {
		p.Size = DefaultWindowSize
	}
	if p.Stride <= 0 {
		p.Stride = p.Size / 2
		if p.Stride == 0 {
			p.Stride = 1
		}
	}
	if p.DensityThreshold <= 0 {
		p.DensityThreshold = DefaultDensityThreshold
	}
	return p
}

// FindErrorWindows slides a window of p.Size events with step p.Stride and
// keeps every window whose error density is strictly above the threshold,
// sorted by density descending. Streams shorter than the window produce none.
func FindErrorWindows(events []model.Event, p WindowParams) []model.ErrorWindow {
	p = p.withDefaults()
	var windows []model.ErrorWindow
	for i := 0; i+p.Size <= len(events); i += p.Stride {
		errs := 0
		for _, e := range events[i : i+p.Size] {
			if e.IsError() {
				errs++
			}
		}
		density := float64(errs) / float64(p.Size)
		if density > p.DensityThreshold {
			windows = append(windows, model.ErrorWindow{
				Start:      i,
				End:        i + p.Size,
				ErrorCount: errs,
				Density:    density,
			})
		}
	}
	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].Density > windows[j].Density
	})
	return windows
}

// ClusterByModuleFunc groups events by module:func in order of first
// appearance.
func ClusterByModuleFunc(events []model.Event) []model.Cluster {
	var clusters []model.Cluster
	idx := make(map[string]int)
	first := make(map[string]int64)
	for _, e := range events {
		key := e.Key()
		i, ok := idx[key]
		if !ok {
			i = len(clusters)
			idx[key] = i
			first[key] = e.TS
			clusters = append(clusters, model.Cluster{Key: key, Module: e.Module, Func: e.Func})
		}
		c := &clusters[i]
		c.Count++
		if e.IsError() {
			c.ErrorCount++
		}
		c.TimeSpan = e.TS - first[key]
	}
	return clusters
}

// FindSuspects flags module:func pairs called at least SuspectMinCalls times
// whose error rate exceeds SuspectMinErrorRate. The result is sorted by error
// rate descending; ties keep first-appearance order.
func FindSuspects(events []model.Event) []model.Suspect {
	return suspectsFromClusters(ClusterByModuleFunc(events))
}

func suspectsFromClusters(clusters []model.Cluster) []model.Suspect {
	var suspects []model.Suspect
	for _, c := range clusters {
		if c.Count < SuspectMinCalls {
			continue
		}
		rate := float64(c.ErrorCount) / float64(c.Count)
		if rate <= SuspectMinErrorRate {
			continue
		}
		suspects = append(suspects, model.Suspect{
			Type:      model.SuspectHighErrorRate,
			Module:    c.Module,
			Func:      c.Func,
			ErrorRate: rate,
			Evidence:  fmt.Sprintf("%d/%d calls failed", c.ErrorCount, c.Count),
		})
	}
	sort.SliceStable(suspects, func(i, j int) bool {
		return suspects[i].ErrorRate > suspects[j].ErrorRate
	})
	return suspects
}

// FindRapidErrorSequences groups error events that follow each other by less
// than RapidGapMS. Sequences shorter than RapidMinEvents are dropped.
func FindRapidErrorSequences(events []model.Event) []model.ErrorSequence {
	var (
		seqs    []model.ErrorSequence
		current model.ErrorSequence
	)
	flush := func() {
		if len(current.Events) >= RapidMinEvents {
			current.DurationMS = current.Events[len(current.Events)-1].TS - current.Events[0].TS
			seqs = append(seqs, current)
		}
		current = model.ErrorSequence{}
	}
	for i, e := range events {
		if !e.IsError() {
			continue
		}
		if n := len(current.Events); n > 0 && e.TS-current.Events[n-1].TS >= RapidGapMS {
			flush()
		}
		current.Indices = append(current.Indices, i)
		current.Events = append(current.Events, e)
	}
	flush()
	return seqs
}
