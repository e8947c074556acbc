// Package session manages the on-disk layout of debugging sessions: one
// directory per session holding captured logs, analysis artifacts and
// patches, addressed by vdt://sessions/<sid>/<path> resource links.
package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dairui1/vdt/internal/eventlog"
	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"
)

// Session subdirectories and well-known artifact names.
const (
	LogsDir     = "logs"
	AnalysisDir = "analysis"
	PatchesDir  = "patches"

	ReportFile  = "buglens.md"
	ClarifyFile = "clarify.json"
	MetaFile    = "meta.json"
	SummaryFile = "summary.md"

	DefaultTTLDays = 7
)

const linkPrefix = "vdt://sessions/"

var linkRe = regexp.MustCompile(`^vdt://sessions/([^/]+)/(.+)$`)

// Link returns the resource link of rel inside session sid.
func Link(sid, rel string) string {
	return linkPrefix + sid + "/" + filepath.ToSlash(rel)
}

// ParseLink splits a vdt:// resource link into session id and relative path.
func ParseLink(link string) (sid, rel string, ok bool) {
	m := linkRe.FindStringSubmatch(link)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// IsLink reports whether s uses the vdt:// scheme.
func IsLink(s string) bool {
	return strings.HasPrefix(s, "vdt://")
}

// Manager creates and locates session directories under a root.
type Manager struct {
	Root string
}

// NewManager returns a Manager rooted at root. Sessions live in
// <root>/sessions/<sid>.
func NewManager(root string) *Manager {
	return &Manager{Root: root}
}

// ValidateID rejects ids that could escape the sessions directory.
func ValidateID(sid string) error {
	if sid == "" {
		return fault.New(fault.InvalidInput, "session id is required")
	}
	if sid == "." || sid == ".." || strings.ContainsAny(sid, `/\`) {
		return fault.New(fault.InvalidInput, "invalid session id %q", sid)
	}
	return nil
}

// Dir returns the directory of session sid. It does not check existence.
func (m *Manager) Dir(sid string) string {
	return filepath.Join(m.Root, "sessions", sid)
}

// Open returns the directory of an existing session.
func (m *Manager) Open(sid string) (string, error) {
	if err := ValidateID(sid); err != nil {
		return "", err
	}
	dir := m.Dir(sid)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fault.New(fault.SessionNotFound, "session %s not found", sid)
	}
	return dir, nil
}

// Create makes a new session with a fresh id and its directory layout. The
// session metadata is also written to meta.json so a directory is
// self-describing without the database.
func (m *Manager) Create(repoRoot, note string, ttlDays int, now time.Time) (model.Session, error) {
	if ttlDays <= 0 {
		ttlDays = DefaultTTLDays
	}
	s := model.Session{
		ID:        uuid.New().String(),
		RepoRoot:  repoRoot,
		Note:      note,
		TTLDays:   ttlDays,
		CreatedAt: now.UTC(),
	}
	dir := m.Dir(s.ID)
	for _, sub := range []string{LogsDir, AnalysisDir, PatchesDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return model.Session{}, fmt.Errorf("create session dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return model.Session{}, fmt.Errorf("marshal session meta: %w", err)
	}
	if err := WriteFile(filepath.Join(dir, MetaFile), data); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

// ReadMeta loads the meta.json of the session in dir.
func ReadMeta(dir string) (model.Session, error) {
	var s model.Session
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return s, fault.Wrap(fault.ArtifactMissing, err, "session meta")
		}
		return s, fmt.Errorf("reading session meta: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fault.Wrap(fault.MalformedRecord, err, "session meta")
	}
	return s, nil
}

// ImportCapture copies an event capture into the session's logs directory.
// The compression suffix of src (.gz, .zst) is preserved so the reader can
// decompress it; any capture already present is replaced.
func (m *Manager) ImportCapture(sid, src string) (string, error) {
	dir, err := m.Open(sid)
	if err != nil {
		return "", err
	}
	name := eventlog.CaptureNames[0]
	for _, n := range eventlog.CaptureNames[1:] {
		if strings.HasSuffix(src, filepath.Ext(n)) {
			name = n
		}
	}
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fault.Wrap(fault.ArtifactMissing, err, "capture %s", src)
		}
		return "", fmt.Errorf("opening capture: %w", err)
	}
	defer in.Close()

	logs := filepath.Join(dir, LogsDir)
	for _, n := range eventlog.CaptureNames {
		os.Remove(filepath.Join(logs, n))
	}
	dst := filepath.Join(logs, name)
	if err := writeFrom(dst, in); err != nil {
		return "", err
	}
	return dst, nil
}

// ReportPath returns the BugLens report path of the session in dir.
func ReportPath(dir string) string {
	return filepath.Join(dir, AnalysisDir, ReportFile)
}

// SummaryPath returns the closing summary path of the session in dir.
func SummaryPath(dir string) string {
	return filepath.Join(dir, AnalysisDir, SummaryFile)
}

// ReasonerPaths returns the JSON and markdown result paths for task.
func ReasonerPaths(dir, task string) (jsonPath, mdPath string) {
	base := filepath.Join(dir, AnalysisDir, "reasoner_"+task)
	return base + ".json", base + ".md"
}

// LoadClarify reads the clarify sidecar of the session in dir. It returns
// nil when no clarify round has been recorded.
func LoadClarify(dir string) (*model.ClarifyRecord, error) {
	data, err := os.ReadFile(filepath.Join(dir, AnalysisDir, ClarifyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading clarify: %w", err)
	}
	var rec model.ClarifyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fault.Wrap(fault.MalformedRecord, err, "clarify sidecar")
	}
	return &rec, nil
}

// SaveClarify overwrites the clarify sidecar of the session in dir.
func SaveClarify(dir string, rec model.ClarifyRecord) error {
	if rec.SelectedIDs == nil {
		rec.SelectedIDs = []string{}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal clarify: %w", err)
	}
	return WriteFile(filepath.Join(dir, AnalysisDir, ClarifyFile), data)
}

// WriteFile replaces path with data by writing a temp file in the same
// directory and renaming it into place.
func WriteFile(path string, data []byte) error {
	return writeFrom(path, bytes.NewReader(data))
}

func writeFrom(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
