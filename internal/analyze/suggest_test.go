package analyze

import "testing"

func TestSuggest(t *testing.T) {
	known := []string{"error_window_0", "error_window_1", "module_db", "function_db_connect", "rapid_errors_0"}

	tests := []struct {
		id    string
		first string
	}{
		{"modul_db", "module_db"},
		{"error_windw_1", "error_window_1"},
		{"function_db_conect", "function_db_connect"},
		{"RAPID_ERRORS_0", "rapid_errors_0"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := Suggest(tt.id, known)
			if len(got) == 0 {
				t.Fatal("no suggestions")
			}
			if got[0].ID != tt.first {
				t.Errorf("top suggestion = %q, want %q", got[0].ID, tt.first)
			}
			if len(got) > DefaultTopN {
				t.Errorf("got %d suggestions, max %d", len(got), DefaultTopN)
			}
		})
	}
}

func TestSuggestNoMatch(t *testing.T) {
	if got := Suggest("zzz", []string{"module_db"}); len(got) != 0 {
		t.Errorf("Suggest(zzz) = %v", got)
	}
	if got := Suggest("", []string{"module_db"}); got != nil {
		t.Errorf("Suggest(\"\") = %v", got)
	}
	if got := Suggest("module_db", nil); got != nil {
		t.Errorf("Suggest with no known ids = %v", got)
	}
}

func TestSimilarityBounds(t *testing.T) {
	if s := similarity("abc", "abc"); s != 1.0 {
		t.Errorf("identical = %f", s)
	}
	if s := similarity("", "abc"); s != 0 {
		t.Errorf("empty = %f", s)
	}
	if s := similarity("abcdef", "uvwxyz"); s < 0 || s > 1 {
		t.Errorf("out of range = %f", s)
	}
}
