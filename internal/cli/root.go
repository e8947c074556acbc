// Package cli defines the cobra command tree for the vdt CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/dairui1/vdt/internal/analyze"
	"github.com/dairui1/vdt/internal/config"
	_ "github.com/dairui1/vdt/internal/drivers" // register reasoner transports
	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/logging"
	"github.com/dairui1/vdt/internal/reasoner"
	"github.com/dairui1/vdt/internal/service"
	"github.com/dairui1/vdt/internal/store"
	"github.com/spf13/cobra"
)

var (
	rootDir    string
	dbPath     string
	jsonOutput bool
	logLevel   string

	// cfg is the config file loaded by PersistentPreRun.
	cfg = &config.Config{}
)

// rootCmd is the top-level vdt command.
var rootCmd = &cobra.Command{
	Use:   "vdt",
	Short: "vdt - turn execution captures into bug analyses and reasoner escalations",
	Long: `vdt reads a captured stream of structured execution events and turns it
into a BugLens report: error windows, module/function clusters, suspects,
candidate chunks and rule-based hypotheses. When a session looks complex it
can escalate to a reasoning backend (a local CLI such as codex, or an
OpenAI-compatible HTTP API) with timeouts, retries and fallback.

Sessions live under .vdt/sessions/<sid> (configurable via --root or
vdt config root). Backends are configured in <root>/reasoners.toml, which is
written with defaults on first use. All output commands support --json.`,
	Example: `  # Start a session from a capture and analyze it
  vdt session start --capture ./capture.ndjson
  vdt analyze --sid <sid>

  # Narrow the analysis to chunks of interest
  vdt chunks --sid <sid>
  vdt clarify --sid <sid> --select rapid_errors_0,function_db_connect

  # Escalate to a reasoning backend
  vdt score --sid <sid>
  vdt reason --sid <sid> --task analyze_log`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loaded, err := config.LoadFrom(configPath)
		if err != nil {
			loaded = &config.Config{}
		}
		cfg = loaded
		if !cmd.Flags().Changed("root") {
			rootDir = cfg.RootDir()
		}
		if cfg.DBPath != "" && !cmd.Flags().Changed("db") {
			dbPath = cfg.DBPath
		}
		if cfg.DefaultFormat == "json" && !cmd.Flags().Changed("json") {
			jsonOutput = true
		}
		if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
			logLevel = cfg.LogLevel
		}
		logging.Init(cmd.ErrOrStderr(), logging.ParseLevel(logLevel), jsonOutput)
		if err != nil {
			slog.Warn("ignoring unreadable config", "path", configPath, "err", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.Path(), "path to config file")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", config.DefaultRoot, "session root directory")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to SQLite database (default <root>/vdt.db)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
}

// databasePath resolves the database location from --db or the root.
func databasePath() string {
	if dbPath != "" {
		return dbPath
	}
	return filepath.Join(rootDir, "vdt.db")
}

// openService opens the store and builds a service over the current root.
// The returned close function releases the store.
func openService() (*service.Service, func(), error) {
	s, err := store.New(databasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	retries := cfg.Retries(reasoner.DefaultMaxRetries)
	svc, err := service.New(service.Options{
		Root:  rootDir,
		Store: s,
		Window: analyze.WindowParams{
			Size:             cfg.WindowSize,
			Stride:           cfg.WindowStride,
			DensityThreshold: cfg.DensityThreshold,
		},
		MaxRetries: &retries,
		Logger:     slog.Default(),
	})
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return svc, func() { s.Close() }, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// toolError reports a failed operation. With --json the failure envelope is
// written to stdout; otherwise the hint goes to stderr. The error is returned
// so the process exits non-zero.
func toolError(cmd *cobra.Command, err error) error {
	resp := fault.Response(err)
	if jsonOutput {
		printJSON(cmd.OutOrStdout(), resp)
	} else if resp.Hint != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "hint: %s\n", resp.Hint)
	}
	return err
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
