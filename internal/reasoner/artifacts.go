package reasoner

import (
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dairui1/vdt/internal/churn"
	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/logging"
	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/session"
)

// Artifact is one named input document shown to a reasoner.
type Artifact struct {
	Key     string
	Content string
}

// LoadArtifacts reads every input referenced by task. Log, report and diff
// inputs are vdt:// links resolved against sessionDir (plain paths are
// accepted too); code inputs are file:// links or paths. Inputs that cannot
// be read are logged and skipped. A parsable diff adds a diff_summary
// artifact with per-file line counts.
func LoadArtifacts(task model.ReasonerTask, sessionDir string, logger *slog.Logger) []Artifact {
	logger = logging.OrDefault(logger)
	var out []Artifact
	load := func(key, link string, resolve func(string, string) (string, error)) bool {
		p, err := resolve(link, sessionDir)
		if err == nil {
			var data []byte
			data, err = os.ReadFile(p)
			if err == nil {
				out = append(out, Artifact{Key: key, Content: string(data)})
				return true
			}
		}
		logger.Warn("skipping reasoner input", "input", link, "err", err)
		return false
	}

	for _, l := range task.Inputs.Logs {
		load("log_"+path.Base(l), l, sessionPath)
	}
	if task.Inputs.PriorReport != "" {
		load("buglens", task.Inputs.PriorReport, sessionPath)
	}
	for _, c := range task.Inputs.Code {
		load("code_"+path.Base(strings.TrimPrefix(c, "file://")), c, filePath)
	}
	if task.Inputs.Diff != "" && load("diff", task.Inputs.Diff, sessionPath) {
		if sum, err := churn.Summarize([]byte(out[len(out)-1].Content)); err == nil && len(sum.Files) > 0 {
			out = append(out, Artifact{Key: "diff_summary", Content: sum.String()})
		}
	}
	return out
}

// sessionPath resolves a vdt:// link to a file inside sessionDir. Links to
// other sessions are resolved against sessionDir as well, since a task
// always executes within one session.
func sessionPath(link, sessionDir string) (string, error) {
	if !session.IsLink(link) {
		return filePath(link, sessionDir)
	}
	_, rel, ok := session.ParseLink(link)
	if !ok {
		return "", fault.New(fault.InvalidInput, "invalid vdt link %q", link)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fault.New(fault.InvalidInput, "vdt link %q escapes the session", link)
	}
	return filepath.Join(sessionDir, clean), nil
}

func filePath(link, _ string) (string, error) {
	return strings.TrimPrefix(link, "file://"), nil
}

// Redacted replaces every sensitive match.
const Redacted = "[REDACTED]"

var redactions = []*regexp.Regexp{
	regexp.MustCompile(`Bearer\s+[A-Za-z0-9_-]+`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{48,}`),
	regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`),
	regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`),
}

// Redact masks bearer tokens, API keys, email addresses, phone-like numbers
// and card numbers in text.
func Redact(text string) string {
	for _, re := range redactions {
		text = re.ReplaceAllString(text, Redacted)
	}
	return text
}

// RedactAll returns a copy of artifacts with every content redacted.
func RedactAll(artifacts []Artifact) []Artifact {
	out := make([]Artifact, len(artifacts))
	for i, a := range artifacts {
		out[i] = Artifact{Key: a.Key, Content: Redact(a.Content)}
	}
	return out
}
