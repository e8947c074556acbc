package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dairui1/vdt/internal/service"
	"github.com/dairui1/vdt/internal/store"
)

// parseSince extracts a "since" query parameter as a time.Time.
// Accepts RFC3339 timestamps or duration shorthand (e.g., "24h", "7d").
func parseSince(r *http.Request) (time.Time, error) {
	s := r.URL.Query().Get("since")
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if len(s) > 1 {
		numStr := s[:len(s)-1]
		unit := s[len(s)-1]
		if n, err := strconv.Atoi(numStr); err == nil {
			switch unit {
			case 'h':
				return time.Now().UTC().Add(-time.Duration(n) * time.Hour), nil
			case 'd':
				return time.Now().UTC().Add(-time.Duration(n) * 24 * time.Hour), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("invalid since value %q: expected RFC3339 timestamp or duration (e.g., 24h, 7d)", s)
}

func parseInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be non-negative", key, s)
	}
	return n, nil
}

func parseSessionOpts(r *http.Request) (store.SessionOpts, error) {
	since, err := parseSince(r)
	if err != nil {
		return store.SessionOpts{}, err
	}
	limit, err := parseInt(r, "limit")
	if err != nil {
		return store.SessionOpts{}, err
	}
	return store.SessionOpts{Since: since, Limit: limit}, nil
}

func parseHistoryRequest(r *http.Request) (service.HistoryRequest, error) {
	since, err := parseSince(r)
	if err != nil {
		return service.HistoryRequest{}, err
	}
	limit, err := parseInt(r, "limit")
	if err != nil {
		return service.HistoryRequest{}, err
	}
	q := r.URL.Query()
	return service.HistoryRequest{
		SessionID: q.Get("sid"),
		Backend:   q.Get("backend"),
		Task:      q.Get("task"),
		Since:     since,
		Limit:     limit,
	}, nil
}
