package cli

import (
	"fmt"
	"io"

	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/reasoner"
	"github.com/dairui1/vdt/internal/service"
	"github.com/spf13/cobra"
)

var (
	reasonSID         string
	reasonTask        string
	reasonLogs        []string
	reasonReport      string
	reasonCode        []string
	reasonDiff        string
	reasonQuestion    string
	reasonConstraints []string
	reasonModel       string
	reasonNoRedact    bool
	reasonBackend     string
)

var reasonCmd = &cobra.Command{
	Use:   "reason",
	Short: "Run a reasoner task against a backend",
	Long: `Send session artifacts to a reasoning backend and store its structured
answer under analysis/reasoner_<task>.{json,md}.

Tasks: analyze_log, propose_patch, review_patch. The backend is picked by the
routing table in reasoners.toml ("auto" escalates on the complexity score)
unless --backend names one. Failed attempts are retried with backoff, then the
fallback backend is tried once.

Inputs are vdt://sessions/<sid>/<path> links, file:// URLs or paths. When
--log is omitted the session capture is used, and the BugLens report is
included when present. Contents are redacted unless --no-redact is given.`,
	Example: `  vdt reason --sid <sid> --task analyze_log
  vdt reason --sid <sid> --task propose_patch --code ./db/pool.go --question "why does connect time out?"
  vdt reason --sid <sid> --task review_patch --diff ./fix.patch --backend codex`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := service.ReasonRequest{
			ReasonerTask: model.ReasonerTask{
				Task:      reasonTask,
				SessionID: reasonSID,
				Inputs: model.ReasonerInputs{
					Logs:        reasonLogs,
					PriorReport: reasonReport,
					Code:        reasonCode,
					Diff:        reasonDiff,
				},
				Question:    reasonQuestion,
				Constraints: reasonConstraints,
				ModelPrefs:  model.ModelPrefs{Model: reasonModel},
			},
			Backend: reasonBackend,
		}
		if reasonNoRedact {
			off := false
			req.Redact = &off
		}

		svc, closeFn, err := openService()
		if err != nil {
			return err
		}
		defer closeFn()

		out, err := svc.Reason(cmd.Context(), req)
		if err != nil {
			return toolError(cmd, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), service.Respond(out, nil))
		}
		printOutcome(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	reasonCmd.Flags().StringVar(&reasonSID, "sid", "", "session id (required)")
	reasonCmd.Flags().StringVar(&reasonTask, "task", model.TaskAnalyzeLog, "task: analyze_log, propose_patch, review_patch")
	reasonCmd.Flags().StringArrayVar(&reasonLogs, "log", nil, "log artifact (repeatable)")
	reasonCmd.Flags().StringVar(&reasonReport, "report", "", "prior BugLens report")
	reasonCmd.Flags().StringArrayVar(&reasonCode, "code", nil, "source file (repeatable)")
	reasonCmd.Flags().StringVar(&reasonDiff, "diff", "", "patch to review")
	reasonCmd.Flags().StringVar(&reasonQuestion, "question", "", "question for the reasoner")
	reasonCmd.Flags().StringArrayVar(&reasonConstraints, "constraint", nil, "constraint on the answer (repeatable)")
	reasonCmd.Flags().StringVar(&reasonModel, "model", "", "override the backend's model")
	reasonCmd.Flags().BoolVar(&reasonNoRedact, "no-redact", false, "send artifact contents unredacted")
	reasonCmd.Flags().StringVar(&reasonBackend, "backend", "", "use this backend instead of routing")
	reasonCmd.MarkFlagRequired("sid")
	rootCmd.AddCommand(reasonCmd)
}

func printOutcome(w io.Writer, out *reasoner.Outcome) {
	via := out.Backend
	if out.Fallback {
		via += " (fallback)"
	}
	fmt.Fprintf(w, "Backend:  %s after %d attempt(s)\n", via, out.Attempts)
	if out.MarkdownPath != "" {
		fmt.Fprintf(w, "Saved:    %s\n", out.MarkdownPath)
	}
	res := out.Result
	if res == nil {
		return
	}
	if len(res.Insights) > 0 {
		fmt.Fprintln(w)
		section(w, "Insights:")
		for _, in := range res.Insights {
			fmt.Fprintf(w, "  - %s (%.0f%%)\n", in.Title, in.Confidence*100)
		}
	}
	if len(res.Suspects) > 0 {
		fmt.Fprintln(w)
		section(w, "Suspects:")
		for _, s := range res.Suspects {
			fmt.Fprintf(w, "  - %s %v: %s\n", s.File, s.Lines, s.Rationale)
		}
	}
	if len(res.NextSteps) > 0 {
		fmt.Fprintln(w)
		section(w, "Next steps:")
		for i, s := range res.NextSteps {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s)
		}
	}
	if res.PatchSuggestion != "" {
		fmt.Fprintln(w)
		section(w, "Patch:")
		fmt.Fprintln(w, res.PatchSuggestion)
	}
	if res.Notes != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Notes: %s\n", res.Notes)
	}
}
