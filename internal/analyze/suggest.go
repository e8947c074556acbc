package analyze

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Suggestion pairs a known chunk id with its similarity score (0-1, higher is better).
type Suggestion struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// DefaultThreshold is the minimum similarity score for a suggestion to be returned.
const DefaultThreshold = 0.5

// DefaultTopN is the maximum number of suggestions returned.
const DefaultTopN = 3

// Suggest returns known chunk ids similar to id, best first.
func Suggest(id string, known []string) []Suggestion {
	return SuggestN(id, known, DefaultTopN, DefaultThreshold)
}

// SuggestN returns up to topN known ids similar to id, with score >= threshold.
// Ties keep the order of known.
func SuggestN(id string, known []string, topN int, threshold float64) []Suggestion {
	if id == "" || len(known) == 0 {
		return nil
	}

	norm := normalize(id)
	var results []Suggestion
	for _, k := range known {
		if k == id {
			continue
		}
		score := similarity(norm, normalize(k))
		if score >= threshold {
			results = append(results, Suggestion{ID: k, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topN > 0 && len(results) > topN {
		results = results[:topN]
	}
	return results
}

// SuggestionIDs flattens suggestions to their ids.
func SuggestionIDs(s []Suggestion) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = v.ID
	}
	return out
}

// similarity combines normalized Levenshtein distance with a shared-prefix
// bonus, since chunk ids of one family share their leading segment.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len([]rune(a))
	if n := len([]rune(b)); n > maxLen {
		maxLen = n
	}
	score := 1.0 - float64(dist)/float64(maxLen)
	score += 0.1 * float64(commonPrefixLen(a, b)) / float64(maxLen)
	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}

// normalize lowercases s and trims surrounding whitespace.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// commonPrefixLen returns the length in bytes of the common prefix of a and b.
func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
