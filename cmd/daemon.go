package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/dictator/internal/server"
	"github.com/audiolibrelab/dictator/internal/service"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the recorder and toggle it on demand",
	Long: `Keep the recorder running in the background. Each toggle starts or stops a
recording. Toggles come from:
  - Enter on stdin (unless --no-stdin)
  - SIGUSR1, e.g. 'pkill -USR1 dictator' bound to a hotkey
  - POST /toggle when --listen is set`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		noStdin, _ := cmd.Flags().GetBool("no-stdin")

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		toggles := make(chan string, 1)
		usr1 := make(chan os.Signal, 1)
		signal.Notify(usr1, syscall.SIGUSR1)
		defer signal.Stop(usr1)
		go func() {
			for range usr1 {
				requestToggle(toggles, "signal")
			}
		}()

		if !noStdin {
			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					requestToggle(toggles, "stdin")
				}
			}()
		}

		serverErr := make(chan error, 1)
		if listen != "" {
			srv := server.New(svc, listen)
			go func() {
				serverErr <- srv.Start(ctx)
			}()
		}

		slog.Info("Daemon ready", "pid", os.Getpid(), "listen", listen, "stdin", !noStdin)
		for {
			select {
			case source := <-toggles:
				toggle(svc, source)
			case err := <-serverErr:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
				slog.Info("Daemon stopping")
				return svc.Close()
			}
		}
	},
}

func init() {
	daemonCmd.Flags().String("listen", "", "also serve the HTTP API on this address (e.g. 127.0.0.1:8765)")
	daemonCmd.Flags().Bool("no-stdin", false, "do not toggle on Enter")
}

// requestToggle drops a request while another is still pending so a
// bouncing hotkey cannot queue up start/stop pairs.
func requestToggle(toggles chan<- string, source string) {
	select {
	case toggles <- source:
	default:
		slog.Debug("Toggle already pending, ignored", "source", source)
	}
}

func toggle(svc service.Service, source string) {
	res, err := svc.Toggle()
	if err != nil {
		slog.Error("Toggle failed", "source", source, "error", err)
		return
	}
	if res.Recording != nil {
		slog.Info("Recording saved", "path", res.Recording.Path, "duration", res.Recording.Duration)
		fmt.Println(res.Recording.Path)
		return
	}
	slog.Info("Recording toggled", "action", res.Action, "source", source)
}
