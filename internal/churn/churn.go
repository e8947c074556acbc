// Package churn measures code churn from unified diffs. The complexity
// scorer uses it as its churn signal and the reasoner prompt embeds the
// per-file summary.
package churn

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// ChangedLinesScale is the number of changed lines that maps to a churn of 1.
const ChangedLinesScale = 200

// FileStat is the change count of one file in a diff.
type FileStat struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Deleted int    `json:"deleted"`
	New     bool   `json:"new,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// Summary aggregates the file stats of one or more diffs.
type Summary struct {
	Files   []FileStat `json:"files"`
	Added   int        `json:"added"`
	Deleted int        `json:"deleted"`
}

// Changed returns the total number of added and deleted lines.
func (s *Summary) Changed() int {
	return s.Added + s.Deleted
}

// Score maps the changed line count onto [0,1].
func (s *Summary) Score() float64 {
	v := float64(s.Changed()) / ChangedLinesScale
	if v > 1 {
		return 1
	}
	return v
}

// String renders one line per file, "path +added -deleted".
func (s *Summary) String() string {
	var sb strings.Builder
	for _, f := range s.Files {
		fmt.Fprintf(&sb, "%s +%d -%d", f.Path, f.Added, f.Deleted)
		if f.New {
			sb.WriteString(" (new)")
		}
		if f.Removed {
			sb.WriteString(" (deleted)")
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "total: %d files, +%d -%d", len(s.Files), s.Added, s.Deleted)
	return sb.String()
}

// Summarize parses a unified multi-file diff.
func Summarize(data []byte) (*Summary, error) {
	s := &Summary{Files: []FileStat{}}
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	fds, err := godiff.ParseMultiFileDiff(data)
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	for _, fd := range fds {
		s.add(fd)
	}
	return s, nil
}

func (s *Summary) add(fd *godiff.FileDiff) {
	fs := FileStat{Path: cleanPath(fd.NewName)}
	if fd.NewName == "/dev/null" || fd.NewName == "" {
		fs.Path = cleanPath(fd.OrigName)
		fs.Removed = true
	}
	if fd.OrigName == "/dev/null" || fd.OrigName == "" {
		fs.New = true
	}
	st := fd.Stat()
	// go-diff reports a changed line as one Changed rather than an add plus
	// a delete.
	fs.Added = int(st.Added + st.Changed)
	fs.Deleted = int(st.Deleted + st.Changed)
	s.Files = append(s.Files, fs)
	s.Added += fs.Added
	s.Deleted += fs.Deleted
}

// cleanPath removes the a/ or b/ prefix from git diff paths.
func cleanPath(path string) string {
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}

// Provider supplies the churn signal for a session. ok is false when the
// session holds no evidence to measure.
type Provider interface {
	Churn(sessionDir string) (score float64, ok bool)
}

// DiffProvider measures churn from the *.diff and *.patch files in a
// session's patches directory.
type DiffProvider struct{}

// Churn implements Provider. Unparsable diffs are ignored.
func (DiffProvider) Churn(sessionDir string) (float64, bool) {
	s, n := SummarizeDir(filepath.Join(sessionDir, "patches"))
	if n == 0 {
		return 0, false
	}
	return s.Score(), true
}

// SummarizeDir merges every parsable diff in dir, in name order, and reports
// how many files contributed.
func SummarizeDir(dir string) (*Summary, int) {
	total := &Summary{Files: []FileStat{}}
	var paths []string
	for _, pat := range []string{"*.diff", "*.patch"} {
		m, _ := filepath.Glob(filepath.Join(dir, pat))
		paths = append(paths, m...)
	}
	sort.Strings(paths)

	n := 0
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		s, err := Summarize(data)
		if err != nil {
			continue
		}
		total.Files = append(total.Files, s.Files...)
		total.Added += s.Added
		total.Deleted += s.Deleted
		n++
	}
	return total, n
}

// Fixed is a Provider returning a constant, for tests and for callers with an
// external churn source.
type Fixed float64

// Churn implements Provider.
func (f Fixed) Churn(string) (float64, bool) { return float64(f), true }
