package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/dictator/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List the capture devices the configured backend can see. Recording always uses the default device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := audio.NewBackend(cfg.Audio.Backend)
		if err != nil {
			return err
		}
		return listAvailableSources(backend)
	},
}

// listAvailableSources prints the capture devices of backend
func listAvailableSources(backend audio.Backend) error {
	sources, err := backend.ListSources()
	if err != nil {
		return fmt.Errorf("failed to get %s sources: %w", backend.GetType(), err)
	}

	fmt.Printf("Audio Sources (%s, %s backend)\n", runtime.GOOS, backend.GetType())
	fmt.Printf("═══════════════════════════════════════\n\n")

	fmt.Printf("CAPTURE DEVICES (%d found):\n", len(sources))
	for i, source := range sources {
		marker := ""
		if source.IsDefault {
			marker = " [default]"
		}
		fmt.Printf("  %d. %s%s\n", i+1, source.Name, marker)
	}
	return nil
}
