// Package eventlog reads captured NDJSON event streams. Malformed lines are
// skipped and counted rather than failing the read, and .gz / .zst captures
// are decompressed transparently.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// MaxLineSize is the longest NDJSON line the reader accepts.
const MaxLineSize = 4 * 1024 * 1024

// CaptureNames are the file names probed, in order, for a session capture
// under logs/.
var CaptureNames = []string{"capture.ndjson", "capture.ndjson.gz", "capture.ndjson.zst"}

// FindCapture returns the path of the first existing capture under logsDir.
func FindCapture(logsDir string) (string, error) {
	for _, name := range CaptureNames {
		p := filepath.Join(logsDir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fault.New(fault.ArtifactMissing, "no capture in %s", logsDir)
}

// Open opens path for reading, wrapping it in a decompressor when the
// extension is .gz or .zst.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.Wrap(fault.ArtifactMissing, err, "open %s", filepath.Base(path))
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fault.Wrap(fault.MalformedRecord, err, "gzip header in %s", filepath.Base(path))
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd reader for %s: %w", path, err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zstdCloser{zr}, f}}, nil
	}
	return f, nil
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}

// rawEvent mirrors model.Event with pointer fields so that missing
// properties can be told apart from zero values.
type rawEvent struct {
	TS     *json.Number `json:"ts"`
	Level  *string      `json:"level"`
	Module *string      `json:"module"`
	Func   *string      `json:"func"`
	Msg    *string      `json:"msg"`
	KV     model.KV     `json:"kv"`
}

func (r rawEvent) toEvent() (model.Event, bool) {
	if r.TS == nil || r.Level == nil || r.Module == nil || r.Func == nil || r.Msg == nil {
		return model.Event{}, false
	}
	ts, err := r.TS.Int64()
	if err != nil {
		f, ferr := r.TS.Float64()
		if ferr != nil {
			return model.Event{}, false
		}
		ts = int64(f)
	}
	lvl := model.Level(strings.ToLower(*r.Level))
	if !lvl.Valid() {
		return model.Event{}, false
	}
	return model.Event{TS: ts, Level: lvl, Module: *r.Module, Func: *r.Func, Msg: *r.Msg, KV: r.KV}, true
}

// eachLine calls fn for every line of r, trailing newline included. A line
// longer than MaxLineSize is drained and reported with oversized set and an
// empty body. The slice passed to fn is reused between calls.
func eachLine(r io.Reader, fn func(line []byte, oversized bool)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	oversized := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(chunk) > MaxLineSize {
				oversized = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if len(buf) > 0 || oversized {
			fn(buf, oversized)
		}
		buf, oversized = buf[:0], false
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Read decodes events from r. Blank lines are ignored; lines that are not a
// well-typed event, including lines over MaxLineSize, are counted in skipped
// and logged at debug level.
func Read(r io.Reader, logger *slog.Logger) (events []model.Event, skipped int, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	lineNum := 0
	err = eachLine(r, func(b []byte, oversized bool) {
		lineNum++
		if oversized {
			skipped++
			logger.Debug("skipping oversized line", "line", lineNum, "max", MaxLineSize)
			return
		}
		line := bytes.TrimSpace(b)
		if len(line) == 0 {
			return
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var raw rawEvent
		if err := dec.Decode(&raw); err != nil {
			skipped++
			logger.Debug("skipping undecodable line", "line", lineNum, "err", err)
			return
		}
		ev, ok := raw.toEvent()
		if !ok {
			skipped++
			logger.Debug("skipping line with missing or mistyped fields", "line", lineNum)
			return
		}
		events = append(events, ev)
	})
	if err != nil {
		return events, skipped, fault.Wrap(fault.MalformedRecord, err, "reading events at line %d", lineNum+1)
	}
	return events, skipped, nil
}

// ReadFile reads every event in the capture at path.
func ReadFile(path string, logger *slog.Logger) ([]model.Event, int, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()
	return Read(rc, logger)
}

// ScanObjects calls fn for each line of path that decodes as a JSON object.
// Other lines are skipped silently. A missing file returns ArtifactMissing.
func ScanObjects(path string, fn func(map[string]any)) error {
	rc, err := Open(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	err = eachLine(rc, func(b []byte, oversized bool) {
		line := bytes.TrimSpace(b)
		if oversized || len(line) == 0 {
			return
		}
		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil || obj == nil {
			return
		}
		fn(obj)
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}
	return nil
}

// CountLines returns the number of non-blank lines in path.
func CountLines(path string) (int, error) {
	rc, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n := 0
	err = eachLine(rc, func(b []byte, oversized bool) {
		if oversized || len(bytes.TrimSpace(b)) > 0 {
			n++
		}
	})
	return n, err
}
