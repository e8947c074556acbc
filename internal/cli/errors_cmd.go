package cli

import (
	"fmt"

	"github.com/dairui1/vdt/internal/service"
	"github.com/spf13/cobra"
)

var (
	errorsSID   string
	errorsLimit int
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show the error log of a session",
	Long: `Show the failures recorded against a session by earlier commands, oldest
first. Each entry names the operation, its error code and the message.`,
	Example: `  vdt errors --sid <sid>
  vdt errors --sid <sid> --limit 5 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService()
		if err != nil {
			return err
		}
		defer closeFn()

		list, err := svc.Errors(cmd.Context(), errorsSID, errorsLimit)
		if err != nil {
			return toolError(cmd, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), service.Respond(list, nil))
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No errors recorded.")
			return nil
		}
		tbl := NewTable(cmd.OutOrStdout(), "TIME", "TOOL", "CODE", "MESSAGE")
		for _, e := range list {
			tbl.Row(formatTime(e.Timestamp), e.Tool, e.Code, tbl.Fit(e.Message, 60))
		}
		return tbl.Flush()
	},
}

func init() {
	errorsCmd.Flags().StringVar(&errorsSID, "sid", "", "session id (required)")
	errorsCmd.Flags().IntVar(&errorsLimit, "limit", 0, "maximum entries to show (0 = all)")
	errorsCmd.MarkFlagRequired("sid")
	rootCmd.AddCommand(errorsCmd)
}
