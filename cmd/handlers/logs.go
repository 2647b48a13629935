package handlers

import (
	"context"
	"fmt"

	"dossier/internal/tracking"

	"github.com/spf13/cobra"
)

// NewLogsCmd creates the logs command
func NewLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <request-id>",
		Short: "Show the status log of a report run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd.Context(), args[0])
		},
	}
}

func runLogs(ctx context.Context, requestID string) error {
	sink, err := openSink()
	if err != nil {
		return err
	}
	defer closeSink(sink)

	entries, err := sink.Statuses(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to read status log: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no status log for request %s", requestID)
	}

	fmt.Println(renderLogs(requestID, entries))
	return nil
}

func renderLogs(requestID string, entries []tracking.StatusEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			string(e.Status),
			e.Message,
		})
	}

	state := "running"
	if last := entries[len(entries)-1].Status; last.Terminal() {
		state = string(last)
	}

	return titleStyle.Render(fmt.Sprintf("Request %s (%s)", requestID, state)) + "\n" +
		newTable([]string{"Time", "Status", "Message"}, rows, false).Render()
}
