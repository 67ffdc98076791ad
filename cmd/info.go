package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/dictator/internal/audio"
	"github.com/audiolibrelab/dictator/internal/encoder"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the resolved configuration and derived buffer sizes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := cfg.Format()
		kind, err := encoder.ParseKind(cfg.Recorder.Encoding)
		if err != nil {
			return err
		}

		fmt.Printf("=== FILES ===\n")
		fmt.Printf("config: %s\n", configPath())
		fmt.Printf("recordings: %s\n", cfg.Recorder.Directory)
		fmt.Printf("file_pattern: dictator-<uuid>%s\n", kind.Extension())

		fmt.Printf("\n=== AUDIO ===\n")
		fmt.Printf("backend: %s\n", cfg.Audio.Backend)
		fmt.Printf("available_backends: %s\n", availableBackends())
		fmt.Printf("format: %s\n", format)
		fmt.Printf("encoding: %s\n", kind)

		fmt.Printf("\n=== BUFFERS ===\n")
		fmt.Printf("chunk: %d samples (%s)\n", format.ChunkSamples(), audio.ChunkDuration)
		fmt.Printf("ring: %d samples (%s)\n", format.RingCapacity(), audio.RingDuration)
		fmt.Printf("chunk_queue: %d chunks (%s)\n", cfg.Recorder.ChunkBuffer,
			time.Duration(cfg.Recorder.ChunkBuffer)*audio.ChunkDuration)
		fmt.Printf("pcm_rate: %d bytes/s\n", format.SampleRate*format.Channels*audio.BitsPerSample/8)

		fmt.Printf("\n=== HOOKS ===\n")
		fmt.Printf("on_start: %s\n", orNone(cfg.Hooks.OnStart))
		fmt.Printf("on_stop: %s\n", orNone(cfg.Hooks.OnStop))
		fmt.Printf("on_error: %s\n", orNone(cfg.Hooks.OnError))
		return nil
	},
}

func availableBackends() string {
	var names []string
	for _, b := range audio.GetAvailableBackends() {
		names = append(names, string(b))
	}
	return strings.Join(names, ", ")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
