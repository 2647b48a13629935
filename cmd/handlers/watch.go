package handlers

import (
	"time"

	"dossier/internal/tui"

	"github.com/spf13/cobra"
)

// NewWatchCmd creates the watch command for following a run in the terminal
func NewWatchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <request-id>",
		Short: "Follow a report run in an interactive terminal view",
		Long: `Poll the status log and usage of a run until it completes or fails.

Keyboard shortcuts:
  r - Refresh now
  q - Quit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sink, err := openSink()
			if err != nil {
				return err
			}
			defer closeSink(sink)

			return tui.Watch(sink, args[0], interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")

	return cmd
}
