package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/audiolibrelab/dictator/internal/config"
)

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "dictator",
	Short: "Voice dictation recorder",
	Long: `Dictator records speech from the default microphone into WAV or Opus files.

A recording is started and stopped with a toggle (Enter, SIGUSR1 or the
HTTP API). Each finished file can be handed to a transcription step through
the on_stop hook, which receives its path in DICTATOR_RECORDING.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Commands that only print paths or write the default file need no config
		if cmd.Name() == "path" || cmd.Name() == "init" {
			setupLogging(verboseLevel, nil)
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			setupLogging(verboseLevel, nil)
			return fmt.Errorf("failed to load config: %w", err)
		}

		setupLogging(verboseLevel, &cfg.Logging)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/dictator/config.yaml)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=config level, 1=debug, 2=debug with source locations")

	// Add subcommands
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(infoCmd)
}

// setupLogging configures slog from the verbose level and the logging
// section. Without a log file, logs go to stderr.
func setupLogging(level int, logCfg *config.LoggingConfig) {
	if logCfg == nil {
		logCfg = &config.Default().Logging
	}

	slogLevel := parseLevel(logCfg.Level)
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: level >= 2,
	}

	var out io.Writer = os.Stderr
	if logCfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   logCfg.File,
			MaxSize:    logCfg.MaxSizeMB,
			MaxBackups: logCfg.MaxBackups,
			Compress:   true,
		}
	}

	var handler slog.Handler
	if strings.EqualFold(logCfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		// Configure text handler for clean terminal output
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
