// Package store defines the storage interface for vdt session data.
package store

import (
	"context"
	"time"

	"github.com/dairui1/vdt/internal/model"
)

// Store is the persistence interface for sessions, their error log and the
// reasoner attempt history.
type Store interface {
	// CreateSession persists a new session row.
	CreateSession(ctx context.Context, s model.Session) error

	// GetSession returns a session by id, or nil if not found.
	GetSession(ctx context.Context, sid string) (*model.Session, error)

	// ListSessions returns sessions, newest first.
	ListSessions(ctx context.Context, opts SessionOpts) ([]model.Session, error)

	// AppendError adds an entry to a session's error log.
	AppendError(ctx context.Context, e model.SessionError) error

	// ListErrors returns a session's error log, oldest first.
	ListErrors(ctx context.Context, sid string, limit int) ([]model.SessionError, error)

	// RecordAttempt persists a single reasoner driver attempt.
	RecordAttempt(ctx context.Context, a model.Attempt) error

	// ListAttempts returns attempts matching the given options, newest first.
	ListAttempts(ctx context.Context, opts AttemptOpts) ([]model.Attempt, error)

	// BackendStats aggregates the attempt history per backend.
	BackendStats(ctx context.Context, since time.Time) ([]BackendStat, error)

	// Close releases any resources held by the store.
	Close() error
}

// SessionOpts controls filtering for ListSessions.
type SessionOpts struct {
	Since time.Time // Only sessions created after this time.
	Limit int       // Maximum results; 0 means no limit.
}

// AttemptOpts controls filtering for ListAttempts.
type AttemptOpts struct {
	SessionID string // Filter by session.
	Backend   string // Filter by backend name.
	Task      string // Filter by task kind.
	Limit     int    // Maximum results; 0 means no limit.
}

// BackendStat summarises the attempts made against one backend.
type BackendStat struct {
	Backend    string    `json:"backend"`
	Attempts   int       `json:"attempts"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Fallbacks  int       `json:"fallbacks"`
	Timeouts   int       `json:"timeouts"`
	AvgMS      float64   `json:"avg_ms"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// SuccessRate returns the fraction of successful attempts.
func (b BackendStat) SuccessRate() float64 {
	if b.Attempts == 0 {
		return 0
	}
	return float64(b.Succeeded) / float64(b.Attempts)
}
