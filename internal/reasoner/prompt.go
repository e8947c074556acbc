package reasoner

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dairui1/vdt/internal/model"
)

// PreviewLimit caps how much of each artifact is inlined in the prompt.
const PreviewLimit = 2000

const truncatedMark = "...[truncated]"

// SystemPrompt is sent to every backend.
const SystemPrompt = "You are a code reasoning specialist. Output **only JSON** conforming to the provided schema. If unsure, include low confidence.\n" +
	"Prefer minimal, auditable conclusions with explicit evidence (log line ranges or file spans)."

const (
	baseSchema  = `{"insights":[{"title":"string","evidence":["string"],"confidence":"number 0-1"}],"suspects":[{"file":"string","lines":["number"],"rationale":"string"}],"next_steps":["string"],"notes":"string"}`
	patchSchema = `{"insights":[{"title":"string","evidence":["string"],"confidence":"number 0-1"}],"suspects":[{"file":"string","lines":["number"],"rationale":"string"}],"next_steps":["string"],"notes":"string","patch_suggestion":"string (diff format)"}`
)

var instructions = map[string]string{
	model.TaskAnalyzeLog: `1. Identify error patterns and anomalies in logs
2. Correlate errors with user actions and timestamps
3. Suggest specific code locations that might be causing issues
4. Rate confidence based on evidence strength
5. Recommend next debugging steps`,
	model.TaskProposePatch: `1. Analyze the issue based on provided logs and context
2. Identify the root cause in source code
3. Generate a minimal patch in diff format
4. Ensure the patch doesn't break existing functionality
5. Provide reasoning for the proposed changes`,
	model.TaskReviewPatch: `1. Review the provided patch for correctness
2. Identify potential regressions or side effects
3. Check if the patch follows best practices
4. Suggest additional tests or validation steps
5. Rate the patch quality and safety`,
}

const defaultInstructions = "Analyze the provided data and return structured insights."

// Schema returns the JSON answer schema for task.
func Schema(task string) string {
	if task == model.TaskProposePatch {
		return patchSchema
	}
	return baseSchema
}

// Prompt is a built system/user prompt pair.
type Prompt struct {
	System string
	User   string
}

// Combined renders the pair as one document for backends that take a
// single prompt on stdin.
func (p Prompt) Combined() string {
	return "System: " + p.System + "\n\nUser: " + p.User
}

// BuildPrompt renders the prompt for task over the given artifacts.
func BuildPrompt(task model.ReasonerTask, artifacts []Artifact) Prompt {
	var b strings.Builder
	b.WriteString("Context: session=" + task.SessionID + ", task=" + task.Task + "\n")
	if len(task.Constraints) > 0 {
		b.WriteString("Constraints: " + strings.Join(task.Constraints, ", ") + "\n")
	}
	b.WriteString("\nArtifacts:\n")
	for _, a := range artifacts {
		b.WriteString("- " + a.Key + ": " + preview(a.Content) + "\n")
	}
	b.WriteString("\nSchema: " + Schema(task.Task) + "\n")
	inst, ok := instructions[task.Task]
	if !ok {
		inst = defaultInstructions
	}
	b.WriteString("\nTask: " + inst + "\n")
	if task.Question != "" {
		b.WriteString("\nQuestion: " + task.Question + "\n")
	}
	b.WriteString("\nGuardrails: Never output non-JSON text. Focus on evidence-based analysis.")
	return Prompt{System: SystemPrompt, User: b.String()}
}

// Prepare loads, optionally redacts and renders the inputs of task. Drivers
// call it before contacting their backend.
func Prepare(task model.ReasonerTask, ec ExecContext, logger *slog.Logger) Prompt {
	artifacts := LoadArtifacts(task, ec.SessionDir, logger)
	if ec.Redact {
		artifacts = RedactAll(artifacts)
	}
	return BuildPrompt(task, artifacts)
}

// preview cuts s to PreviewLimit bytes without splitting a UTF-8 sequence.
func preview(s string) string {
	if len(s) <= PreviewLimit {
		return s
	}
	cut := PreviewLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedMark
}
