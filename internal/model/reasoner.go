package model

// Reasoner task kinds.
const (
	TaskAnalyzeLog   = "analyze_log"
	TaskProposePatch = "propose_patch"
	TaskReviewPatch  = "review_patch"
)

// ValidTask reports whether t is a known reasoner task kind.
func ValidTask(t string) bool {
	switch t {
	case TaskAnalyzeLog, TaskProposePatch, TaskReviewPatch:
		return true
	}
	return false
}

// ReasoningMetrics are the seven complexity signals that feed the score.
// Every field is in [0,1].
type ReasoningMetrics struct {
	ErrorDensity      float64 `json:"error_density"`
	StacktraceNovelty float64 `json:"stacktrace_novelty"`
	ContextSpan       float64 `json:"context_span"`
	Churn             float64 `json:"churn"`
	RepeatFailures    float64 `json:"repeat_failures"`
	EntropyLogs       float64 `json:"entropy_logs"`
	SpecMismatch      float64 `json:"spec_mismatch"`
}

// ReasonerInputs are artifact links handed to a reasoner. Each link is a
// vdt://sessions/<sid>/<path> resource, a file:// URL, or a plain path.
type ReasonerInputs struct {
	Logs        []string `json:"logs,omitempty"`
	PriorReport string   `json:"buglens,omitempty"`
	Code        []string `json:"code,omitempty"`
	Diff        string   `json:"diff,omitempty"`
}

// ModelPrefs overrides per-call model parameters.
type ModelPrefs struct {
	Model       string   `json:"model,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// ReasonerTask is one request to a reasoning backend.
type ReasonerTask struct {
	Task        string         `json:"task"`
	SessionID   string         `json:"sid"`
	Inputs      ReasonerInputs `json:"inputs"`
	Question    string         `json:"question,omitempty"`
	Constraints []string       `json:"constraints,omitempty"`
	ModelPrefs  ModelPrefs     `json:"model_prefs,omitempty"`
	Redact      *bool          `json:"redact,omitempty"`
}

// ShouldRedact reports whether artifact contents must be redacted before
// they leave the process. Redaction is on unless explicitly disabled.
func (t ReasonerTask) ShouldRedact() bool {
	return t.Redact == nil || *t.Redact
}

// Insight is one evidence-backed observation in a reasoner result.
type Insight struct {
	Title      string   `json:"title"`
	Evidence   []string `json:"evidence"`
	Confidence float64  `json:"confidence"`
}

// SuspectRef points at a suspicious source span.
type SuspectRef struct {
	File      string `json:"file"`
	Lines     []int  `json:"lines"`
	Rationale string `json:"rationale"`
}

// ReasonerResult is the normalised answer of a reasoner. All slices are
// non-nil after normalisation.
type ReasonerResult struct {
	Insights        []Insight    `json:"insights"`
	Suspects        []SuspectRef `json:"suspects"`
	PatchSuggestion string       `json:"patch_suggestion,omitempty"`
	NextSteps       []string     `json:"next_steps"`
	Notes           string       `json:"notes,omitempty"`
}

// Backend transport types.
const (
	BackendCLI  = "cli"
	BackendHTTP = "http"
	BackendMCP  = "mcp"
)

// Cost hints.
const (
	CostLow    = "low"
	CostMedium = "medium"
	CostHigh   = "high"
)

// BackendConfig describes one reasoning backend.
type BackendConfig struct {
	Type      string   `json:"type" toml:"type" yaml:"type"`
	Cmd       string   `json:"cmd,omitempty" toml:"cmd,omitempty" yaml:"cmd,omitempty"`
	Args      []string `json:"args,omitempty" toml:"args,omitempty" yaml:"args,omitempty"`
	BaseURL   string   `json:"base_url,omitempty" toml:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model     string   `json:"model,omitempty" toml:"model,omitempty" yaml:"model,omitempty"`
	APIKeyEnv string   `json:"api_key_env,omitempty" toml:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	CostHint  string   `json:"cost_hint,omitempty" toml:"cost_hint,omitempty" yaml:"cost_hint,omitempty"`
	Supports  []string `json:"supports,omitempty" toml:"supports,omitempty" yaml:"supports,omitempty"`
}

// SupportsTask reports whether the backend declares support for task. An
// empty Supports list means every task.
func (b BackendConfig) SupportsTask(task string) bool {
	if len(b.Supports) == 0 {
		return true
	}
	for _, s := range b.Supports {
		if s == task {
			return true
		}
	}
	return false
}

// Attempt is one recorded driver invocation.
type Attempt struct {
	ID         string `json:"id"`
	SessionID  string `json:"sid"`
	Task       string `json:"task"`
	Backend    string `json:"backend"`
	Number     int    `json:"attempt"`
	Fallback   bool   `json:"fallback"`
	OK         bool   `json:"ok"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	StartedAt  string `json:"started_at"`
}
