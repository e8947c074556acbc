package cli

import (
	"fmt"
	"strings"

	"github.com/dairui1/vdt/internal/service"
	"github.com/spf13/cobra"
)

var (
	clarifySID    string
	clarifySelect []string
	clarifyNotes  string
)

var clarifyCmd = &cobra.Command{
	Use:   "clarify",
	Short: "Store a chunk selection for later analyses",
	Long: `Record which candidate chunks matter. The selection replaces any earlier
one and is merged into every following vdt analyze run for the session.

Ids that do not match a current chunk are dropped with a suggestion. If no
given id matches, nothing is stored and the command fails.`,
	Example: `  vdt clarify --sid <sid> --select rapid_errors_0,function_db_connect
  vdt clarify --sid <sid> --select module_db --notes "started after the pool change"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService()
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := svc.Clarify(cmd.Context(), service.ClarifyRequest{
			SessionID:   clarifySID,
			SelectedIDs: clarifySelect,
			Notes:       clarifyNotes,
		})
		if err != nil {
			return toolError(cmd, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), service.Respond(res, nil))
		}

		for _, u := range res.Unknown {
			msg := fmt.Sprintf("warning: unknown chunk id %q", u.ID)
			if len(u.Suggestions) > 0 {
				msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(u.Suggestions, ", "))
			}
			fmt.Fprintln(cmd.ErrOrStderr(), msg)
		}
		if len(res.Saved.SelectedIDs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared chunk selection.")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Selected: %s\n", strings.Join(res.Saved.SelectedIDs, ", "))
		return nil
	},
}

func init() {
	clarifyCmd.Flags().StringVar(&clarifySID, "sid", "", "session id (required)")
	clarifyCmd.Flags().StringSliceVar(&clarifySelect, "select", nil, "chunk ids to select (comma-separated)")
	clarifyCmd.Flags().StringVar(&clarifyNotes, "notes", "", "free-text notes stored with the selection")
	clarifyCmd.MarkFlagRequired("sid")
	rootCmd.AddCommand(clarifyCmd)
}
