package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/dictator/internal/audio"
	"github.com/audiolibrelab/dictator/internal/recorder"
	"github.com/audiolibrelab/dictator/internal/service"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one dictation",
	Long: `Start recording immediately and stop on Enter, Ctrl+C or after --duration.
The path of the finished file is printed on stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		if err := applyRecordFlags(cmd); err != nil {
			return err
		}

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		slog.Info("Record command started", "format", cfg.Format().String(), "encoding", cfg.Recorder.Encoding)
		if err := svc.StartRecording(); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		if err := waitForRecording(svc, 5*time.Second); err != nil {
			return err
		}

		fmt.Fprintln(os.Stderr, "Recording... press Enter or Ctrl+C to stop")

		// Handle interruption
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		enter := watchEnter(os.Stdin)

		var timeout <-chan time.Time
		if duration > 0 {
			timer := time.NewTimer(duration)
			defer timer.Stop()
			timeout = timer.C
		}

		select {
		case <-sigChan:
		case <-enter:
		case <-timeout:
			slog.Info("Recording duration reached", "duration", duration)
		}
		slog.Info("Stopping recording...")

		rec, err := svc.StopRecording()
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		if rec.Truncated {
			slog.Warn("Recording ended early after a write failure", "path", rec.Path)
		}
		fmt.Println(rec.Path)
		return nil
	},
}

func init() {
	recordCmd.Flags().DurationP("duration", "d", 0, "stop automatically after this duration (e.g. 30s)")
	recordCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
	recordCmd.Flags().StringP("encoding", "e", "", "wav or opus (overrides config)")
}

func applyRecordFlags(cmd *cobra.Command) error {
	if output, _ := cmd.Flags().GetString("output"); output != "" {
		cfg.Recorder.Directory = output
	}
	if encoding, _ := cmd.Flags().GetString("encoding"); encoding != "" {
		cfg.Recorder.Encoding = encoding
	}
	return cfg.Validate()
}

// watchEnter returns a channel closed when a full line is read from r. A
// closed or empty stdin (/dev/null, service managers) never stops the
// recording.
func watchEnter(r io.Reader) <-chan struct{} {
	enter := make(chan struct{})
	go func() {
		if _, err := bufio.NewReader(r).ReadString('\n'); err != nil {
			slog.Debug("Stdin closed, stop with Ctrl+C or --duration", "error", err)
			return
		}
		close(enter)
	}()
	return enter
}

// newService opens the configured audio backend and starts the recorder.
func newService() (service.Service, error) {
	backend, err := audio.NewBackend(cfg.Audio.Backend)
	if err != nil {
		return nil, err
	}
	svc, err := service.New(cfg, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}

// waitForRecording returns once the session is open, or with the reason it
// failed to open.
func waitForRecording(svc service.Service, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, _ := svc.GetRecordingStatus()
		if status == recorder.StatusRecording {
			return nil
		}
		if msg := svc.GetLastError(); msg != "" {
			return errors.New(msg)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("recording did not start within %s", timeout)
		}
	}
}
