package reasoner

import (
	"context"
	"log/slog"

	"github.com/dairui1/vdt/internal/config"
	"github.com/dairui1/vdt/internal/logging"
	"github.com/dairui1/vdt/internal/model"
)

// Scorer measures how complex a session looks, in [0,1].
type Scorer interface {
	Score(sessionDir string) float64
}

// Selection is the outcome of backend routing.
type Selection struct {
	Backend string  `json:"backend"`
	Route   string  `json:"route"`
	Score   float64 `json:"score,omitempty"`
	Scored  bool    `json:"scored"`
}

// Router picks a backend for a task from the routing table, falling back to
// the complexity score for tasks routed "auto".
type Router struct {
	Config *config.Reasoners
	Scorer Scorer
	Logger *slog.Logger
}

// Select returns the backend for task. A fixed route is returned as is and
// the score is not computed. For "auto", a score at or above the advanced
// threshold selects the first high-cost backend in name order; otherwise
// the default backend is used.
func (r *Router) Select(ctx context.Context, task, sessionDir string) Selection {
	route := r.Config.Route(task)
	sel := Selection{Route: route}
	if route != config.RouteAuto {
		sel.Backend = route
		return sel
	}

	sel.Score = r.Scorer.Score(sessionDir)
	sel.Scored = true
	threshold := r.Config.Thresholds.ReasonScoreAdvanced
	logging.OrDefault(r.Logger).Info("reasoning score", "task", task, "score", sel.Score, "threshold", threshold)

	sel.Backend = r.Config.DefaultBackend
	if sel.Score >= threshold {
		for _, name := range r.Config.BackendNames() {
			b := r.Config.Backends[name]
			if b.CostHint == model.CostHigh {
				sel.Backend = name
				break
			}
		}
	}
	return sel
}

// SelectBackend returns only the name chosen by Select.
func (r *Router) SelectBackend(ctx context.Context, task, sessionDir string) string {
	return r.Select(ctx, task, sessionDir).Backend
}
