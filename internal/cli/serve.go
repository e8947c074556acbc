package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dairui1/vdt/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an HTTP server exposing vdt operations",
	Long: `Start an HTTP server over the session root and database. Every
operation of the CLI is available as a JSON endpoint under /api/v1/, and every
response is an envelope {isError, message, hint, data}.

  POST /api/v1/sessions                   start a session
  GET  /api/v1/sessions[/{sid}]           list or show sessions
  POST /api/v1/sessions/{sid}/analyze     run analysis (body: focus)
  GET  /api/v1/sessions/{sid}/chunks      candidate chunks
  POST /api/v1/sessions/{sid}/clarify     store a chunk selection
  GET  /api/v1/sessions/{sid}/score       complexity score
  POST /api/v1/sessions/{sid}/reason      run a reasoner task
  GET  /api/v1/sessions/{sid}/errors      session error log
  POST /api/v1/sessions/{sid}/end         write the closing summary
  GET  /api/v1/backends[/history]         backend status and attempts

A health check is available at /api/v1/health.`,
	Example: `  # Start server on default port
  vdt serve

  # Start on a custom address with a specific root
  vdt serve --addr localhost:9090 --root /var/lib/vdt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openService()
		if err != nil {
			return err
		}
		defer closeFn()

		srv := server.New(svc)

		// Listen first so we can report the actual address.
		ln, err := net.Listen("tcp", serveAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", serveAddr, err)
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "vdt serve listening on %s\n", ln.Addr())
		slog.Info("serving", "addr", ln.Addr().String(), "root", rootDir, "backends", svc.Registry.Names())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Serve(ln)
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(cmd.ErrOrStderr(), "shutting down...")
			return srv.Shutdown(context.Background())
		case err := <-errCh:
			return err
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":7274", "address to listen on (host:port)")
	rootCmd.AddCommand(serveCmd)
}
