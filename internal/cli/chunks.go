package cli

import (
	"fmt"

	"github.com/dairui1/vdt/internal/service"
	"github.com/spf13/cobra"
)

var (
	chunksSID     string
	chunksExcerpt bool
)

var chunksCmd = &cobra.Command{
	Use:   "chunks",
	Short: "List candidate chunks for focus selection",
	Long: `List the ranked candidate chunks of a session: error windows, rapid error
sequences, functions and modules. The ids shown are the ones accepted by
vdt clarify --select and vdt analyze --select.`,
	Example: `  vdt chunks --sid <sid>
  vdt chunks --sid <sid> --excerpt`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService()
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := svc.Chunks(cmd.Context(), chunksSID)
		if err != nil {
			return toolError(cmd, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), service.Respond(res, nil))
		}

		w := cmd.OutOrStdout()
		if len(res.Chunks) == 0 {
			fmt.Fprintln(w, "No chunks found.")
			return nil
		}
		if chunksExcerpt {
			for _, c := range res.Chunks {
				section(w, c.ID+"  "+c.Title)
				fmt.Fprintln(w, c.Excerpt)
				fmt.Fprintln(w)
			}
		} else {
			tbl := NewTable(w, "ID", "TYPE", "ERRORS", "TITLE")
			for _, c := range res.Chunks {
				tbl.Row(c.ID, string(c.Meta.Type), fmt.Sprintf("%d", c.Meta.ErrorCount), tbl.Fit(c.Title, 60))
			}
			if err := tbl.Flush(); err != nil {
				return err
			}
		}
		if res.NeedClarify {
			fmt.Fprintln(w, "\nSelect chunks with: vdt clarify --sid", res.SessionID, "--select <id,...>")
		}
		return nil
	},
}

func init() {
	chunksCmd.Flags().StringVar(&chunksSID, "sid", "", "session id (required)")
	chunksCmd.Flags().BoolVar(&chunksExcerpt, "excerpt", false, "print each chunk's excerpt instead of a table")
	chunksCmd.MarkFlagRequired("sid")
	rootCmd.AddCommand(chunksCmd)
}
