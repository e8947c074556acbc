package cli

import (
	"fmt"

	"github.com/dairui1/vdt/internal/service"
	"github.com/spf13/cobra"
)

var scoreSID string

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute the reasoning complexity score of a session",
	Long: `Compute the seven reasoning metrics of a session and their weighted score
in [0,1]. Auto routing escalates to a high-cost backend when the score reaches
the threshold configured in reasoners.toml. A session without a capture or
report scores 0.`,
	Example: `  vdt score --sid <sid>
  vdt score --sid <sid> --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService()
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := svc.Score(cmd.Context(), scoreSID)
		if err != nil {
			return toolError(cmd, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), service.Respond(res, nil))
		}

		w := cmd.OutOrStdout()
		route := "standard"
		if res.Advanced {
			route = "advanced"
		}
		fmt.Fprintf(w, "Score: %.3f (threshold %.2f, %s routing)\n", res.Score, res.Threshold, route)
		if !res.HasArtifacts {
			fmt.Fprintln(w, "No capture or report found; run vdt analyze first.")
			return nil
		}
		fmt.Fprintln(w)
		m := res.Metrics
		tbl := NewTable(w, "METRIC", "VALUE")
		tbl.Row("error_density", fmt.Sprintf("%.3f", m.ErrorDensity))
		tbl.Row("stacktrace_novelty", fmt.Sprintf("%.3f", m.StacktraceNovelty))
		tbl.Row("context_span", fmt.Sprintf("%.3f", m.ContextSpan))
		tbl.Row("churn", fmt.Sprintf("%.3f", m.Churn))
		tbl.Row("repeat_failures", fmt.Sprintf("%.3f", m.RepeatFailures))
		tbl.Row("entropy_logs", fmt.Sprintf("%.3f", m.EntropyLogs))
		tbl.Row("spec_mismatch", fmt.Sprintf("%.3f", m.SpecMismatch))
		return tbl.Flush()
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreSID, "sid", "", "session id (required)")
	scoreCmd.MarkFlagRequired("sid")
	rootCmd.AddCommand(scoreCmd)
}
