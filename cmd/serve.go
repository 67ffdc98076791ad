package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/dictator/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the HTTP API to control recording:

  POST /start, POST /stop, POST /toggle
  GET  /status, GET /sources
  GET  /api/recordings, GET /api/recordings/latest

The server will display the local network URL for easy access from other devices.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.Server.Listen
		}

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("Dictator web server starting", "listen", listen)

		// Start server (this blocks)
		if err := server.New(svc, listen).Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return svc.Close()
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "address for the web server (default from config)")
}
