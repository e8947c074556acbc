package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNewTableHeaders(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "SID", "TOOL", "CODE")
	tbl.Row("2026-10-19-ab12cd", "analyze", "SESSION_NOT_FOUND")
	tbl.Row("2026-10-19-ef34gh", "reason", "BACKEND_TIMEOUT")
	tbl.Flush()

	out := buf.String()
	for _, want := range []string{"SID", "TOOL", "CODE", "analyze", "BACKEND_TIMEOUT"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	// Header plus two rows.
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Errorf("expected 3 lines, got %d", len(lines))
	}
}

func TestNewTableNoHeaders(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf)
	tbl.Row("a", "b")
	tbl.Flush()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Errorf("expected 1 line (data only), got %d", len(lines))
	}
}

func TestNewTableAlignment(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "SHORT", "LONGER_HEADER")
	tbl.Row("a", "x")
	tbl.Row("longvalue", "y")
	tbl.Flush()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	headerIdx := strings.Index(lines[0], "LONGER_HEADER")
	row2Idx := strings.Index(lines[2], "y")
	if headerIdx < 0 || row2Idx < 0 {
		t.Fatal("missing expected content")
	}
	if headerIdx != row2Idx {
		t.Errorf("columns not aligned: header col2 at %d, row2 col2 at %d", headerIdx, row2Idx)
	}
}

func TestTableFit(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf)
	long := strings.Repeat("x", 200)

	tests := []struct {
		name     string
		reserved int
		wantLen  int
	}{
		{"fits width", 30, defaultTermWidth - 30},
		{"floor of 20", 75, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tbl.Fit(long, tt.reserved)
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
			if !strings.HasSuffix(got, "...") {
				t.Errorf("expected ellipsis, got %q", got)
			}
		})
	}
	if got := tbl.Fit("short", 30); got != "short" {
		t.Errorf("Fit(short) = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 3, "hel"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	if got := formatTime(time.Time{}); got != "-" {
		t.Errorf("zero time = %q, want -", got)
	}
	ts := time.Date(2026, 10, 19, 8, 30, 0, 0, time.Local)
	if got := formatTime(ts); got != "2026-10-19 08:30:00" {
		t.Errorf("formatTime = %q", got)
	}
}

func TestFormatPct(t *testing.T) {
	if got := formatPct(0.5); got != "50%" {
		t.Errorf("formatPct(0.5) = %q", got)
	}
	if got := formatPct(1); got != "100%" {
		t.Errorf("formatPct(1) = %q", got)
	}
}

func TestIsTTYBuffer(t *testing.T) {
	var buf bytes.Buffer
	if isTTY(&buf) {
		t.Error("bytes.Buffer should not be a TTY")
	}
}

func TestBoldWithColor(t *testing.T) {
	s := bold("hello", true)
	if !strings.Contains(s, "\033[1m") || !strings.Contains(s, "\033[0m") {
		t.Errorf("expected ANSI bold codes, got %q", s)
	}
}

func TestBoldWithoutColor(t *testing.T) {
	if s := bold("hello", false); s != "hello" {
		t.Errorf("bold without color should be identity, got %q", s)
	}
}

func TestGetTermWidthFallback(t *testing.T) {
	if w := getTermWidth(); w <= 0 {
		t.Errorf("getTermWidth() = %d, want > 0", w)
	}
}
