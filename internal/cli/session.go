package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dairui1/vdt/internal/service"
	"github.com/dairui1/vdt/internal/store"
	"github.com/spf13/cobra"
)

var (
	sessionNote    string
	sessionTTL     int
	sessionCapture string
	sessionRepo    string
	sessionSince   string
	sessionLimit   int

	endConclusion string
	endEvidence   []string
	endNextSteps  []string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create and inspect debugging sessions",
	Long: `A session is a directory under <root>/sessions/<sid> holding the event
capture (logs/), analysis artifacts (analysis/) and patches (patches/). Its
artifacts are addressed as vdt://sessions/<sid>/<path>.`,
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new session",
	Example: `  vdt session start --note "login flakes on retry"
  vdt session start --capture ./capture.ndjson.gz --ttl-days 3`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService()
		if err != nil {
			return err
		}
		defer closeFn()

		info, err := svc.StartSession(cmd.Context(), service.StartRequest{
			RepoRoot: sessionRepo,
			Note:     sessionNote,
			TTLDays:  sessionTTL,
			Capture:  sessionCapture,
		})
		if err != nil {
			return toolError(cmd, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), service.Respond(info, nil))
		}
		fmt.Fprintln(cmd.OutOrStdout(), info.ID)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Example: `  vdt session list
  vdt session list --since 7d --limit 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := store.SessionOpts{Limit: sessionLimit}
		if sessionSince != "" {
			d, err := parseDuration(sessionSince)
			if err != nil {
				return fmt.Errorf("invalid --since value %q: %w", sessionSince, err)
			}
			opts.Since = time.Now().Add(-d)
		}

		svc, closeFn, err := openService()
		if err != nil {
			return err
		}
		defer closeFn()

		list, err := svc.ListSessions(cmd.Context(), opts)
		if err != nil {
			return toolError(cmd, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), service.Respond(list, nil))
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
			return nil
		}
		tbl := NewTable(cmd.OutOrStdout(), "SID", "CREATED", "TTL", "NOTE")
		for _, s := range list {
			tbl.Row(s.ID, formatTime(s.CreatedAt), strconv.Itoa(s.TTLDays)+"d", tbl.Fit(s.Note, 70))
		}
		return tbl.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <sid>",
	Short: "Show a session and its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService()
		if err != nil {
			return err
		}
		defer closeFn()

		info, err := svc.GetSession(cmd.Context(), args[0])
		if err != nil {
			return toolError(cmd, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), service.Respond(info, nil))
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Session:  %s\n", info.ID)
		fmt.Fprintf(w, "Created:  %s\n", formatTime(info.CreatedAt))
		fmt.Fprintf(w, "TTL:      %d days\n", info.TTLDays)
		fmt.Fprintf(w, "Repo:     %s\n", info.RepoRoot)
		if info.Note != "" {
			fmt.Fprintf(w, "Note:     %s\n", info.Note)
		}
		fmt.Fprintf(w, "Dir:      %s\n", info.Dir)
		if len(info.Artifacts) > 0 {
			fmt.Fprintln(w)
			section(w, "Artifacts:")
			for _, a := range info.Artifacts {
				fmt.Fprintf(w, "  %s\n", a)
			}
		}
		return nil
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end <sid>",
	Short: "Close a session and write its summary",
	Long: `Write analysis/summary.md for a session: the conclusion, key evidence,
next steps and links to the session artifacts.

Unless --evidence or --next is given, evidence and next steps come from the
most recent reasoner result, or from a fresh analysis of the capture when no
reasoner task has run. Ending a session again rewrites the summary.`,
	Example: `  vdt session end <sid>
  vdt session end <sid> --conclusion "pool leak on retry" --next "ship release fix"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService()
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := svc.EndSession(cmd.Context(), service.EndRequest{
			SessionID:   args[0],
			Conclusion:  endConclusion,
			KeyEvidence: endEvidence,
			NextSteps:   endNextSteps,
		})
		if err != nil {
			return toolError(cmd, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), service.Respond(res, nil))
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Ended session %s\n", res.SessionID)
		fmt.Fprintf(w, "Conclusion: %s\n", res.Conclusion)
		fmt.Fprintf(w, "Summary:    %s\n", res.SummaryPath)
		if len(res.KeyEvidence) > 0 {
			fmt.Fprintln(w)
			section(w, "Key evidence:")
			for _, e := range res.KeyEvidence {
				fmt.Fprintf(w, "  - %s\n", e)
			}
		}
		if len(res.NextSteps) > 0 {
			fmt.Fprintln(w)
			section(w, "Next steps:")
			for i, s := range res.NextSteps {
				fmt.Fprintf(w, "  %d. %s\n", i+1, s)
			}
		}
		return nil
	},
}

func init() {
	sessionStartCmd.Flags().StringVar(&sessionNote, "note", "", "free-text note describing the problem")
	sessionStartCmd.Flags().IntVar(&sessionTTL, "ttl-days", 7, "days to keep the session")
	sessionStartCmd.Flags().StringVar(&sessionCapture, "capture", "", "event capture to import (.ndjson, .gz or .zst)")
	sessionStartCmd.Flags().StringVar(&sessionRepo, "repo", "", "repository root (default: current directory)")
	sessionListCmd.Flags().StringVar(&sessionSince, "since", "", "only sessions newer than this (e.g. 24h, 7d)")
	sessionListCmd.Flags().IntVar(&sessionLimit, "limit", 0, "maximum sessions to show (0 = all)")
	sessionEndCmd.Flags().StringVar(&endConclusion, "conclusion", "", "what the session concluded")
	sessionEndCmd.Flags().StringArrayVar(&endEvidence, "evidence", nil, "key evidence line (repeatable)")
	sessionEndCmd.Flags().StringArrayVar(&endNextSteps, "next", nil, "next step (repeatable)")
	sessionCmd.AddCommand(sessionStartCmd, sessionListCmd, sessionShowCmd, sessionEndCmd)
	rootCmd.AddCommand(sessionCmd)
}

// parseDuration extends time.ParseDuration with a "d" suffix for days.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(s, "d") {
		numStr := s[:len(s)-1]
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", numStr)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
