// Package service implements vdt's operations on top of the session
// directories, the analysis engine, the reasoner adapter and the store. Both
// the CLI and the HTTP server call into it, so every operation behaves the
// same regardless of the surface it was invoked from.
//
// Failures are returned as errors carrying a fault code and, when the
// operation targets a session, appended to that session's error log.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dairui1/vdt/internal/analyze"
	"github.com/dairui1/vdt/internal/config"
	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/logging"
	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/reasoner"
	"github.com/dairui1/vdt/internal/score"
	"github.com/dairui1/vdt/internal/session"
	"github.com/dairui1/vdt/internal/store"
)

// Options configures a Service.
type Options struct {
	// Root is the directory holding sessions/ and reasoners.toml.
	Root  string
	Store store.Store

	Window analyze.WindowParams

	// MaxRetries overrides reasoner.DefaultMaxRetries when set.
	MaxRetries *int

	// Reasoners and Registry are loaded from Root when nil.
	Reasoners *config.Reasoners
	Registry  *reasoner.Registry

	Logger *slog.Logger
}

// Service runs vdt operations.
type Service struct {
	Store      store.Store
	Sessions   *session.Manager
	Engine     *analyze.Engine
	Scorer     *score.Calculator
	Reasoners  *config.Reasoners
	Registry   *reasoner.Registry
	MaxRetries int
	Logger     *slog.Logger

	// Warnings collects backend load problems found at construction.
	Warnings []error

	// Sleep is handed to the reasoner adapter; nil keeps its default.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// New builds a Service. Backend configuration is read from
// <root>/reasoners.{toml,json,yaml}, written out with defaults when absent,
// and every configured backend is loaded; backends that fail to load are
// reported in Warnings and skipped.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("service: store is required")
	}
	logger := logging.OrDefault(opts.Logger)
	s := &Service{
		Store:      opts.Store,
		Sessions:   session.NewManager(opts.Root),
		Engine:     analyze.NewEngine(opts.Window, logger),
		Scorer:     score.New(logger),
		Reasoners:  opts.Reasoners,
		Registry:   opts.Registry,
		MaxRetries: reasoner.DefaultMaxRetries,
		Logger:     logger,
		Now:        time.Now,
	}
	if opts.MaxRetries != nil {
		s.MaxRetries = *opts.MaxRetries
	}

	if s.Reasoners == nil {
		path := config.FindReasoners(opts.Root)
		cfg, created, err := config.LoadReasoners(path)
		if err != nil {
			return nil, err
		}
		if created {
			logger.Info("wrote default backend config", "path", path)
		}
		s.Reasoners = cfg
	}
	for _, w := range s.Reasoners.Validate() {
		logger.Warn("backend config", "problem", w)
	}
	if s.Registry == nil {
		s.Registry = reasoner.NewRegistry(logger)
		s.Warnings = s.Registry.Load(s.Reasoners)
		for _, w := range s.Warnings {
			logger.Warn("backend unavailable", "err", w)
		}
	}
	return s, nil
}

// Respond converts an operation's result into the response envelope.
func Respond(data any, err error) model.ToolResponse {
	if err != nil {
		return fault.Response(err)
	}
	return fault.OK(data)
}

// fail appends err to the session's error log and returns it unchanged.
// Session ids that could not name a session directory are not logged.
func (s *Service) fail(ctx context.Context, sid, tool string, err error) error {
	if err == nil || session.ValidateID(sid) != nil {
		return err
	}
	entry := model.SessionError{
		SessionID: sid,
		Tool:      tool,
		Code:      string(fault.CodeOf(err)),
		Message:   err.Error(),
		Timestamp: s.now(),
	}
	if aerr := s.Store.AppendError(context.WithoutCancel(ctx), entry); aerr != nil {
		s.Logger.Warn("recording session error", "sid", sid, "err", aerr)
	}
	return err
}

// open resolves sid to its directory.
func (s *Service) open(sid string) (string, error) {
	return s.Sessions.Open(sid)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
