package handlers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"dossier/internal/logger"
	"dossier/internal/report"
	"dossier/internal/tracking"

	"github.com/spf13/cobra"
)

// NewMetricsCmd creates the metrics command
func NewMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics <request-id>",
		Short: "Show token usage and cost of a report run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetrics(cmd.Context(), args[0])
		},
	}
}

// NewStatsCmd creates the stats command
func NewStatsCmd() *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize usage and cost across runs",
		Long: `Summarize recorded model calls by model and by day.

Examples:
  # Everything recorded so far
  dossier stats

  # March 2025 only
  dossier stats --from 2025-03-01 --to 2025-03-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), from, to)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "First day to include (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last day to include (YYYY-MM-DD)")

	return cmd
}

func runMetrics(ctx context.Context, requestID string) error {
	sink, err := openSink()
	if err != nil {
		return err
	}
	defer closeSink(sink)

	rows, err := sink.Metrics(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("no metrics for request %s", requestID)
	}

	fmt.Println(renderMetrics(requestID, rows))
	return nil
}

func runStats(ctx context.Context, fromArg, toArg string) error {
	from, err := tracking.ParseDay(fromArg)
	if err != nil {
		return err
	}
	to, err := tracking.ParseDay(toArg)
	if err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("--to must not be before --from")
	}

	sink, err := openSink()
	if err != nil {
		return err
	}
	defer closeSink(sink)

	rows, err := sink.Metrics(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}

	stats := tracking.Aggregate(rows, from, to)
	fmt.Println(renderStats(stats))
	fmt.Print(report.FormatSummary(stats.ByModel))
	return nil
}

func closeSink(sink tracking.Sink) {
	if err := sink.Close(); err != nil {
		logger.Warn("Failed to close tracking sink", "error", err.Error())
	}
}

func renderMetrics(requestID string, rows []tracking.MetricRow) string {
	data := make([][]string, 0, len(rows)+1)
	for _, r := range rows {
		data = append(data, []string{
			r.Timestamp.Local().Format(time.TimeOnly),
			r.Section,
			r.ModelVersion,
			strconv.Itoa(r.InputTokens),
			strconv.Itoa(r.OutputTokens),
			formatCost(r.TotalCost),
		})
	}

	totals := tracking.Aggregate(rows, time.Time{}, time.Time{}).Totals
	data = append(data, []string{
		"", fmt.Sprintf("Total (%d calls)", totals.Calls), "",
		strconv.Itoa(totals.InputTokens),
		strconv.Itoa(totals.OutputTokens),
		formatCost(totals.TotalCost),
	})

	return titleStyle.Render("Metrics for "+requestID) + "\n" +
		newTable([]string{"Time", "Step", "Model", "Input", "Output", "Cost"}, data, true).Render()
}

func renderStats(stats tracking.Stats) string {
	period := "all time"
	switch {
	case stats.From != "" && stats.To != "":
		period = stats.From + " to " + stats.To
	case stats.From != "":
		period = "since " + stats.From
	case stats.To != "":
		period = "until " + stats.To
	}

	models := make([][]string, 0, len(stats.ByModel)+1)
	for _, m := range stats.ByModel {
		models = append(models, totalsRow(m.Model, m.Totals))
	}
	models = append(models, totalsRow("Total", stats.Totals))

	days := make([][]string, 0, len(stats.ByDay))
	for _, d := range stats.ByDay {
		days = append(days, totalsRow(d.Day, d.Totals))
	}

	columns := []string{"Requests", "Calls", "Tokens", "Cost"}
	out := titleStyle.Render("Usage "+period) + "\n" +
		newTable(append([]string{"Model"}, columns...), models, true).Render()
	if len(days) > 0 {
		out += "\n" + newTable(append([]string{"Day"}, columns...), days, false).Render()
	}
	return out
}

func totalsRow(label string, t tracking.Totals) []string {
	return []string{
		label,
		strconv.Itoa(t.Requests),
		strconv.Itoa(t.Calls),
		strconv.Itoa(t.TotalTokens),
		formatCost(t.TotalCost),
	}
}

func formatCost(v float64) string {
	return fmt.Sprintf("$%.6f", v)
}
