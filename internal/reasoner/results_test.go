package reasoner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"
)

func TestLatestResult(t *testing.T) {
	h := newHarness(t, map[string]Driver{"codex": &fakeDriver{res: okResult()}}, 0)
	if got := LatestResult(h.dir); got != nil {
		t.Fatalf("empty session: got %+v", got)
	}

	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	h.adapter.Now = func() time.Time { return clock }
	if _, err := h.adapter.Execute(context.Background(), task(model.TaskReviewPatch), h.dir); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(time.Minute)
	if _, err := h.adapter.Execute(context.Background(), task(model.TaskProposePatch), h.dir); err != nil {
		t.Fatal(err)
	}

	got := LatestResult(h.dir)
	if got == nil || got.Task != model.TaskProposePatch || got.Backend != "codex" {
		t.Fatalf("latest = %+v", got)
	}
	if !got.Timestamp.Equal(clock) || len(got.Result.Insights) != 1 {
		t.Errorf("latest = %+v", got)
	}
}

func TestLoadResultMalformed(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "analysis"), 0o755)
	os.WriteFile(filepath.Join(dir, "analysis", "reasoner_analyze_log.json"), []byte("{oops"), 0o644)

	if _, err := LoadResult(dir, model.TaskAnalyzeLog); fault.CodeOf(err) != fault.MalformedRecord {
		t.Errorf("err = %v", err)
	}
	if got := LatestResult(dir); got != nil {
		t.Errorf("unreadable result should be skipped, got %+v", got)
	}
}
