package reasoner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dairui1/vdt/internal/model"
)

// rawExcerptLimit bounds how much unparsable output is kept in notes.
const rawExcerptLimit = 500

var (
	fenceRe    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	tsLineRe   = regexp.MustCompile(`^\s*\[20\d\d-[^\]]*\]`)
	ruleLineRe = regexp.MustCompile(`^\s*--------`)
	boldLineRe = regexp.MustCompile(`^\s*\*\*.*?\*\*`)
	tokensRe   = regexp.MustCompile(`^\s*tokens used:`)
)

// ExtractJSON finds the JSON object in a backend's raw output. Output from
// CLI backends is often wrapped in timestamped log lines, separators and
// bold headings; a fenced code block wins when present, otherwise those
// lines are stripped and the first balanced object is taken.
func ExtractJSON(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		if obj, ok := firstObject(m[1]); ok {
			return obj, true
		}
	}
	lines := strings.Split(raw, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if tsLineRe.MatchString(line) || ruleLineRe.MatchString(line) ||
			boldLineRe.MatchString(line) || tokensRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return firstObject(strings.Join(kept, "\n"))
}

// firstObject returns the first balanced {...} span of s that is valid JSON.
func firstObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > 0 && json.Valid([]byte(s[start:end])) {
			return s[start:end], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index just past the brace closing s[start], or -1.
// Braces inside JSON strings are ignored.
func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// ParseResult turns raw backend output into a well-formed result. Output
// without a usable JSON object, or whose object carries neither insights
// nor suspects, yields a fallback result that keeps an excerpt of the raw
// text in Notes. Empty output yields a fallback result too; parsing never
// fails an attempt.
func ParseResult(raw string) *model.ReasonerResult {
	if strings.TrimSpace(raw) == "" {
		return fallbackResult("backend returned no output", raw)
	}
	obj, ok := ExtractJSON(raw)
	if !ok {
		return fallbackResult("no JSON object found", raw)
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return fallbackResult(err.Error(), raw)
	}
	_, hasInsights := m["insights"]
	_, hasSuspects := m["suspects"]
	if !hasInsights && !hasSuspects {
		return fallbackResult("response missing insights and suspects", raw)
	}
	res := Normalize(m)
	return &res
}

func fallbackResult(reason, raw string) *model.ReasonerResult {
	return &model.ReasonerResult{
		Insights:  []model.Insight{},
		Suspects:  []model.SuspectRef{},
		NextSteps: []string{"Failed to parse reasoner response"},
		Notes:     fmt.Sprintf("%s. Raw response: %s", reason, excerpt(raw, rawExcerptLimit)),
	}
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// Normalize coerces a decoded JSON object into a ReasonerResult. Missing or
// mistyped fields take their zero value, slices are never nil and
// confidences are clamped to [0,1].
func Normalize(m map[string]any) model.ReasonerResult {
	res := model.ReasonerResult{
		Insights:        []model.Insight{},
		Suspects:        []model.SuspectRef{},
		NextSteps:       stringList(m["next_steps"]),
		PatchSuggestion: str(m["patch_suggestion"]),
		Notes:           str(m["notes"]),
	}
	for _, v := range list(m["insights"]) {
		o, ok := v.(map[string]any)
		if !ok {
			if s := str(v); s != "" {
				res.Insights = append(res.Insights, model.Insight{Title: s, Evidence: []string{}})
			}
			continue
		}
		conf, _ := number(o["confidence"])
		if math.IsNaN(conf) {
			conf = 0
		}
		res.Insights = append(res.Insights, model.Insight{
			Title:      str(o["title"]),
			Evidence:   stringList(o["evidence"]),
			Confidence: math.Max(0, math.Min(1, conf)),
		})
	}
	for _, v := range list(m["suspects"]) {
		o, ok := v.(map[string]any)
		if !ok {
			continue
		}
		s := model.SuspectRef{File: str(o["file"]), Lines: []int{}, Rationale: str(o["rationale"])}
		for _, l := range list(o["lines"]) {
			if n, ok := number(l); ok {
				s.Lines = append(s.Lines, int(n))
			}
		}
		res.Suspects = append(res.Suspects, s)
	}
	return res
}

// list accepts an array or a single value.
func list(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

func stringList(v any) []string {
	out := []string{}
	for _, e := range list(v) {
		if s := str(e); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
