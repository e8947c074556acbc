package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/service"
	"github.com/spf13/cobra"
)

var (
	analyzeSID    string
	analyzeModule string
	analyzeFunc   string
	analyzeFrom   int64
	analyzeTo     int64
	analyzeSelect []string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a session capture and write its BugLens report",
	Long: `Run the analysis pipeline over the session's event capture: error windows,
module/function clusters, suspects, rapid error sequences and candidate
chunks. The report is written to analysis/buglens.md, replacing any earlier
one.

A persisted clarify selection (see vdt clarify) is merged into the focus.
--module and --func are substring filters; --from and --to bound the event
timestamps (milliseconds, inclusive).`,
	Example: `  vdt analyze --sid 2026-10-19-ab12cd
  vdt analyze --sid <sid> --module db --func connect
  vdt analyze --sid <sid> --select rapid_errors_0`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		focus := model.Focus{
			Module:      analyzeModule,
			Func:        analyzeFunc,
			SelectedIDs: analyzeSelect,
		}
		fromSet, toSet := cmd.Flags().Changed("from"), cmd.Flags().Changed("to")
		if fromSet || toSet {
			if !fromSet || !toSet {
				return fmt.Errorf("--from and --to must be given together")
			}
			if analyzeFrom > analyzeTo {
				return fmt.Errorf("--from (%d) is after --to (%d)", analyzeFrom, analyzeTo)
			}
			focus.TimeRange = &[2]int64{analyzeFrom, analyzeTo}
		}

		svc, closeFn, err := openService()
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := svc.Analyze(cmd.Context(), service.AnalyzeRequest{SessionID: analyzeSID, Focus: focus})
		if err != nil {
			return toolError(cmd, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), service.Respond(res, nil))
		}
		printAnalysis(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeSID, "sid", "", "session id (required)")
	analyzeCmd.Flags().StringVar(&analyzeModule, "module", "", "only events whose module contains this")
	analyzeCmd.Flags().StringVar(&analyzeFunc, "func", "", "only events whose function contains this")
	analyzeCmd.Flags().Int64Var(&analyzeFrom, "from", 0, "earliest event timestamp (ms)")
	analyzeCmd.Flags().Int64Var(&analyzeTo, "to", 0, "latest event timestamp (ms)")
	analyzeCmd.Flags().StringSliceVar(&analyzeSelect, "select", nil, "chunk ids to focus on (comma-separated)")
	analyzeCmd.MarkFlagRequired("sid")
	rootCmd.AddCommand(analyzeCmd)
}

func printAnalysis(w io.Writer, res *service.AnalyzeResult) {
	d := res.Summary
	fmt.Fprintf(w, "Report:   %s\n", res.Report)
	fmt.Fprintf(w, "Focus:    %s\n", d.Focus)
	fmt.Fprintf(w, "Events:   %d analyzed of %d", d.AnalyzedEvents, d.TotalEvents)
	if d.Skipped > 0 {
		fmt.Fprintf(w, " (%d malformed lines skipped)", d.Skipped)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Windows:  %d (top density %s)\n", d.WindowCount, formatPct(d.TopDensity))
	fmt.Fprintf(w, "Suspects: %d\n", d.SuspectCount)
	if len(d.Unresolved) > 0 {
		ids := make([]string, len(d.Unresolved))
		for i, u := range d.Unresolved {
			ids[i] = u.ID
		}
		fmt.Fprintf(w, "Ignored:  %s\n", strings.Join(ids, ", "))
	}

	if len(d.Suspects) > 0 {
		fmt.Fprintln(w)
		section(w, "Top suspects:")
		tbl := NewTable(w, "MODULE", "FUNC", "ERROR RATE")
		for i, s := range d.Suspects {
			if i == 5 {
				break
			}
			tbl.Row(s.Module, s.Func, formatPct(s.ErrorRate))
		}
		tbl.Flush()
	}
	if len(d.Hypotheses) > 0 {
		fmt.Fprintln(w)
		section(w, "Hypotheses:")
		for i, h := range d.Hypotheses {
			fmt.Fprintf(w, "  %d. %s\n", i+1, h.Title)
		}
	}
	if res.Findings != nil && res.Findings.NeedClarify {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "The capture is broad; run vdt chunks and vdt clarify to narrow it.")
	}
}
