package reasoner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/session"
)

// Saved is a reasoner result as persisted under analysis/.
type Saved struct {
	Task      string
	Backend   string
	Timestamp time.Time
	Result    model.ReasonerResult
}

// LoadResult reads the saved result of task in the session dir. It returns
// nil when the task has not been run.
func LoadResult(dir, task string) (*Saved, error) {
	jsonPath, _ := session.ReasonerPaths(dir, task)
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s result: %w", task, err)
	}
	var raw savedResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fault.Wrap(fault.MalformedRecord, err, "%s result", task)
	}
	out := &Saved{Task: raw.Task, Backend: raw.Backend}
	if raw.Result != nil {
		out.Result = *raw.Result
	}
	if ts, err := time.Parse(time.RFC3339, raw.Timestamp); err == nil {
		out.Timestamp = ts
	}
	return out, nil
}

// LatestResult returns the most recently saved result across all tasks, or
// nil when no task has been run. Unreadable results are skipped.
func LatestResult(dir string) *Saved {
	var latest *Saved
	for _, task := range []string{model.TaskAnalyzeLog, model.TaskProposePatch, model.TaskReviewPatch} {
		s, err := LoadResult(dir, task)
		if err != nil || s == nil {
			continue
		}
		if latest == nil || s.Timestamp.After(latest.Timestamp) {
			latest = s
		}
	}
	return latest
}
