package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dairui1/vdt/internal/model"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// RouteAuto selects the backend by complexity score.
const RouteAuto = "auto"

// ReasonerFiles are the backend config names probed under a root, in order.
var ReasonerFiles = []string{"reasoners.toml", "reasoners.json", "reasoners.yaml", "reasoners.yml"}

// Thresholds holds score thresholds for routing.
type Thresholds struct {
	ReasonScoreAdvanced float64 `toml:"reason_score_advanced" json:"reason_score_advanced" yaml:"reason_score_advanced"`
}

// Timeouts holds per-task backend call timeouts in seconds.
type Timeouts struct {
	DefaultSec int `toml:"default_sec" json:"default_sec" yaml:"default_sec"`
	AnalyzeSec int `toml:"analyze_sec" json:"analyze_sec" yaml:"analyze_sec"`
	PatchSec   int `toml:"patch_sec" json:"patch_sec" yaml:"patch_sec"`
}

// Reasoners is the reasoner backend configuration.
type Reasoners struct {
	DefaultBackend  string                         `toml:"default_backend" json:"default_backend" yaml:"default_backend"`
	FallbackBackend string                         `toml:"fallback_backend,omitempty" json:"fallback_backend,omitempty" yaml:"fallback_backend,omitempty"`
	Backends        map[string]model.BackendConfig `toml:"backends" json:"backends" yaml:"backends"`
	Routing         map[string]string              `toml:"routing" json:"routing" yaml:"routing"`
	Thresholds      Thresholds                     `toml:"thresholds" json:"thresholds" yaml:"thresholds"`
	Timeouts        Timeouts                       `toml:"timeouts" json:"timeouts" yaml:"timeouts"`
}

var allTasks = []string{model.TaskAnalyzeLog, model.TaskProposePatch, model.TaskReviewPatch}

// DefaultReasoners returns the built-in backend configuration.
func DefaultReasoners() *Reasoners {
	return &Reasoners{
		DefaultBackend:  "codex",
		FallbackBackend: "openai",
		Backends: map[string]model.BackendConfig{
			"codex": {
				Type:     model.BackendCLI,
				Cmd:      "codex",
				Args:     []string{"-m", "gpt-5", "-c", "model_reasoning_effort=high", "exec"},
				CostHint: model.CostHigh,
				Supports: append([]string(nil), allTasks...),
			},
			"openai": {
				Type:      model.BackendHTTP,
				BaseURL:   "https://api.openai.com/v1",
				Model:     "gpt-4.1-mini",
				APIKeyEnv: "OPENAI_API_KEY",
				CostHint:  model.CostLow,
				Supports:  append([]string(nil), allTasks...),
			},
			"openrouter": {
				Type:      model.BackendHTTP,
				BaseURL:   "https://openrouter.ai/api/v1",
				Model:     "meta-llama/llama-3.1-70b-instruct",
				APIKeyEnv: "OPENROUTER_API_KEY",
				CostHint:  model.CostMedium,
				Supports:  append([]string(nil), allTasks...),
			},
		},
		Routing: map[string]string{
			model.TaskProposePatch: "codex",
			model.TaskReviewPatch:  "codex",
			model.TaskAnalyzeLog:   RouteAuto,
			RouteAuto:              RouteAuto,
		},
		Thresholds: Thresholds{ReasonScoreAdvanced: 0.55},
		Timeouts:   Timeouts{DefaultSec: 90, AnalyzeSec: 120, PatchSec: 120},
	}
}

// FindReasoners returns the first existing backend config under root, or
// the default reasoners.toml path when none exists.
func FindReasoners(root string) string {
	for _, name := range ReasonerFiles {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(root, ReasonerFiles[0])
}

// LoadReasoners reads the backend config at path and merges it over the
// defaults. The format follows the extension (.toml, .json, .yaml/.yml). A
// missing file is created with the defaults; created reports that case.
func LoadReasoners(path string) (cfg *Reasoners, created bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("reading reasoner config: %w", err)
		}
		def := DefaultReasoners()
		if err := def.SaveTo(path); err != nil {
			return nil, false, err
		}
		return def, true, nil
	}

	var user Reasoners
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &user)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &user)
	default:
		err = toml.Unmarshal(data, &user)
	}
	if err != nil {
		return nil, false, fmt.Errorf("parsing reasoner config %s: %w", filepath.Base(path), err)
	}
	return merge(DefaultReasoners(), &user), false, nil
}

// merge overlays user onto def. Backends and routing merge per key; empty
// scalars keep their defaults.
func merge(def, user *Reasoners) *Reasoners {
	out := def
	if user.DefaultBackend != "" {
		out.DefaultBackend = user.DefaultBackend
	}
	if user.FallbackBackend != "" {
		out.FallbackBackend = user.FallbackBackend
	}
	for name, b := range user.Backends {
		out.Backends[name] = b
	}
	for task, route := range user.Routing {
		out.Routing[task] = route
	}
	if user.Thresholds.ReasonScoreAdvanced > 0 {
		out.Thresholds.ReasonScoreAdvanced = user.Thresholds.ReasonScoreAdvanced
	}
	if user.Timeouts.DefaultSec > 0 {
		out.Timeouts.DefaultSec = user.Timeouts.DefaultSec
	}
	if user.Timeouts.AnalyzeSec > 0 {
		out.Timeouts.AnalyzeSec = user.Timeouts.AnalyzeSec
	}
	if user.Timeouts.PatchSec > 0 {
		out.Timeouts.PatchSec = user.Timeouts.PatchSec
	}
	return out
}

// SaveTo writes the config to path in the format implied by its extension.
func (r *Reasoners) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(r, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(r)
	default:
		data, err = toml.Marshal(r)
	}
	if err != nil {
		return fmt.Errorf("marshaling reasoner config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing reasoner config: %w", err)
	}
	return nil
}

// Route returns the configured route for task: a backend name or
// RouteAuto. Unrouted tasks go to the default backend.
func (r *Reasoners) Route(task string) string {
	if route := r.Routing[task]; route != "" {
		return route
	}
	return r.DefaultBackend
}

// Timeout returns the backend call timeout for task.
func (r *Reasoners) Timeout(task string) time.Duration {
	sec := r.Timeouts.DefaultSec
	switch task {
	case model.TaskAnalyzeLog:
		sec = r.Timeouts.AnalyzeSec
	case model.TaskProposePatch, model.TaskReviewPatch:
		sec = r.Timeouts.PatchSec
	}
	return time.Duration(sec) * time.Second
}

// BackendNames returns the configured backend names in sorted order.
func (r *Reasoners) BackendNames() []string {
	names := make([]string, 0, len(r.Backends))
	for name := range r.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports references to backends that are not configured, and
// fixed routes to a backend whose supports list leaves the task out. The
// result is a list of warnings; an invalid reference is not fatal.
func (r *Reasoners) Validate() []string {
	var warns []string
	check := func(what, name string) {
		if name == "" || name == RouteAuto {
			return
		}
		if _, ok := r.Backends[name]; !ok {
			warns = append(warns, fmt.Sprintf("%s refers to unknown backend %q", what, name))
		}
	}
	check("default_backend", r.DefaultBackend)
	check("fallback_backend", r.FallbackBackend)
	tasks := make([]string, 0, len(r.Routing))
	for task := range r.Routing {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	for _, task := range tasks {
		name := r.Routing[task]
		check("routing."+task, name)
		if b, ok := r.Backends[name]; ok && !b.SupportsTask(task) {
			warns = append(warns, fmt.Sprintf("routing.%s uses backend %q, which does not list %s in supports", task, name, task))
		}
	}
	return warns
}
