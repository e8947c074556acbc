package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dairui1/vdt/internal/service"
	"github.com/spf13/cobra"
)

var (
	backendsHistory bool
	backendsSID     string
	backendsBackend string
	backendsTask    string
	backendsSince   string
	backendsLimit   int
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "Show configured reasoning backends and their track record",
	Long: `Show the backends configured in <root>/reasoners.toml, whether their
drivers loaded, and the routing table. With --history, show recorded driver
attempts and per-backend success rates instead.`,
	Example: `  vdt backends
  vdt backends --history --since 7d
  vdt backends --history --sid <sid> --backend codex`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService()
		if err != nil {
			return err
		}
		defer closeFn()

		if backendsHistory {
			req := service.HistoryRequest{
				SessionID: backendsSID,
				Backend:   backendsBackend,
				Task:      backendsTask,
				Limit:     backendsLimit,
			}
			if backendsSince != "" {
				d, err := parseDuration(backendsSince)
				if err != nil {
					return fmt.Errorf("invalid --since value %q: %w", backendsSince, err)
				}
				req.Since = time.Now().Add(-d)
			}
			res, err := svc.History(cmd.Context(), req)
			if err != nil {
				return toolError(cmd, err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), service.Respond(res, nil))
			}
			return printHistory(cmd.OutOrStdout(), res)
		}

		res, err := svc.Backends(cmd.Context())
		if err != nil {
			return toolError(cmd, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), service.Respond(res, nil))
		}
		return printBackends(cmd.OutOrStdout(), res)
	},
}

func init() {
	backendsCmd.Flags().BoolVar(&backendsHistory, "history", false, "show recorded attempts and success rates")
	backendsCmd.Flags().StringVar(&backendsSID, "sid", "", "only attempts of this session (with --history)")
	backendsCmd.Flags().StringVar(&backendsBackend, "backend", "", "only attempts on this backend (with --history)")
	backendsCmd.Flags().StringVar(&backendsTask, "task", "", "only attempts of this task (with --history)")
	backendsCmd.Flags().StringVar(&backendsSince, "since", "", "stats window, e.g. 24h or 7d (with --history)")
	backendsCmd.Flags().IntVar(&backendsLimit, "limit", 20, "maximum attempts to show (with --history)")
	rootCmd.AddCommand(backendsCmd)
}

func printBackends(w io.Writer, res *service.BackendsResult) error {
	if len(res.Backends) == 0 {
		fmt.Fprintln(w, "No backends configured.")
		return nil
	}
	tbl := NewTable(w, "NAME", "TYPE", "COST", "ROLE", "STATUS", "TASKS")
	for _, b := range res.Backends {
		status := "ok"
		if !b.Loaded {
			status = "unavailable"
		}
		tasks := "all"
		if len(b.Supports) > 0 {
			tasks = strings.Join(b.Supports, ",")
		}
		tbl.Row(b.Name, b.Type, orDash(b.CostHint), orDash(b.Role), status, tasks)
	}
	if err := tbl.Flush(); err != nil {
		return err
	}

	for _, b := range res.Backends {
		if b.Error != "" {
			fmt.Fprintf(w, "  %s: %s\n", b.Name, b.Error)
		}
	}

	fmt.Fprintln(w)
	section(w, "Routing:")
	tasks := make([]string, 0, len(res.Routing))
	for t := range res.Routing {
		tasks = append(tasks, t)
	}
	sort.Strings(tasks)
	for _, t := range tasks {
		fmt.Fprintf(w, "  %-14s -> %s\n", t, res.Routing[t])
	}
	fmt.Fprintf(w, "  advanced threshold: %.2f\n", res.Threshold)
	return nil
}

func printHistory(w io.Writer, res *service.HistoryResult) error {
	if len(res.Stats) == 0 && len(res.Attempts) == 0 {
		fmt.Fprintln(w, "No reasoner attempts recorded.")
		return nil
	}
	if len(res.Stats) > 0 {
		tbl := NewTable(w, "BACKEND", "ATTEMPTS", "SUCCESS", "FALLBACKS", "TIMEOUTS", "AVG", "LAST USED")
		for _, s := range res.Stats {
			tbl.Row(s.Backend,
				fmt.Sprintf("%d", s.Attempts),
				formatPct(s.SuccessRate()),
				fmt.Sprintf("%d", s.Fallbacks),
				fmt.Sprintf("%d", s.Timeouts),
				(time.Duration(s.AvgMS) * time.Millisecond).Round(time.Millisecond).String(),
				formatTime(s.LastUsedAt))
		}
		if err := tbl.Flush(); err != nil {
			return err
		}
	}
	if len(res.Attempts) > 0 {
		fmt.Fprintln(w)
		section(w, "Recent attempts:")
		tbl := NewTable(w, "STARTED", "SID", "TASK", "BACKEND", "#", "RESULT")
		for _, a := range res.Attempts {
			result := "ok"
			if !a.OK {
				result = a.Code
			}
			if a.Fallback {
				result += " (fallback)"
			}
			started := a.StartedAt
			if t, err := time.Parse(time.RFC3339Nano, a.StartedAt); err == nil {
				started = formatTime(t)
			}
			tbl.Row(started, a.SessionID, a.Task, a.Backend, fmt.Sprintf("%d", a.Number), result)
		}
		return tbl.Flush()
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
