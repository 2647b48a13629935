package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dossier/internal/config"
	"dossier/internal/core"
	"dossier/internal/tracking"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"generate", "serve", "logs", "metrics", "stats", "watch"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestBuildRequestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
primary_entity: Acme Bank
comparison_entities: [Beta Bank]
language: German
section_guidance: [Overview, Products]
`), 0644))

	req, err := buildRequest(generateOptions{
		requestFile: path,
		language:    "French",
		orientation: "Portrait",
	})
	require.NoError(t, err)

	assert.Equal(t, "Acme Bank", req.PrimaryEntity)
	assert.Equal(t, []string{"Beta Bank"}, req.ComparisonEntities)
	assert.Equal(t, "French", req.Language)
	assert.Equal(t, core.OrientationPortrait, req.Orientation)
	assert.Equal(t, []string{"Overview", "Products"}, req.SectionGuidance)

	_, err = buildRequest(generateOptions{requestFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestRenderLogs(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	out := renderLogs("r1", []tracking.StatusEntry{
		{RequestID: "r1", Timestamp: at, Status: tracking.StatusInitialize, Message: "Starting report"},
		{RequestID: "r1", Timestamp: at, Status: tracking.StatusGenerating, Message: "Generating section 1/2"},
	})
	assert.Contains(t, out, "Request r1 (running)")
	assert.Contains(t, out, "Generating section 1/2")

	out = renderLogs("r1", []tracking.StatusEntry{
		{RequestID: "r1", Timestamp: at, Status: tracking.StatusCompleted, Message: "Report ready"},
	})
	assert.Contains(t, out, "Request r1 (completed)")
}

func TestRenderMetricsAndStats(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := []tracking.MetricRow{
		tracking.NewMetricRow("r1", "Table of Contents", "gemini-2.5-pro", 1000, 500, at),
		tracking.NewMetricRow("r1", "Polish: I. Overview", "gemini-2.5-flash", 2000, 1000, at),
	}

	out := renderMetrics("r1", rows)
	assert.Contains(t, out, "Metrics for r1")
	assert.Contains(t, out, "Total (2 calls)")
	assert.Contains(t, out, "3000")

	stats := tracking.Aggregate(rows, at, time.Time{})
	out = renderStats(stats)
	assert.Contains(t, out, "Usage since 2025-03-01")
	assert.Contains(t, out, "gemini-2.5-flash")
	assert.Contains(t, out, "2025-03-01")
	assert.Contains(t, renderStats(tracking.Aggregate(nil, time.Time{}, time.Time{})), "Usage all time")
}

func TestGenerateOfflineEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, ".dossier.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
ai:
  provider: scripted
retry:
  max_attempts: 1
output:
  directory: `+filepath.Join(dir, "reports")+`
  pdf:
    enabled: false
storage:
  history_dir: `+filepath.Join(dir, "history")+`
tracking:
  metrics_file: `+filepath.Join(dir, "metrics.csv")+`
  status_dir: `+filepath.Join(dir, "status")+`
`), 0644))

	config.Reset()
	t.Cleanup(config.Reset)
	prev := cfgFile
	cfgFile = cfgPath
	t.Cleanup(func() { cfgFile = prev })

	ctx := context.Background()
	require.NoError(t, runGenerate(ctx, generateOptions{
		entity:   "Acme Bank",
		compare:  []string{"Beta Bank"},
		sections: []string{"Overview", "Comparison"},
	}))

	sink := tracking.NewCSVSink(filepath.Join(dir, "metrics.csv"), filepath.Join(dir, "status"))
	rows, err := sink.Metrics(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	requestID := rows[0].RequestID
	entries, err := sink.Statuses(ctx, requestID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, tracking.StatusCompleted, entries[len(entries)-1].Status)

	assert.NoError(t, runLogs(ctx, requestID))
	assert.NoError(t, runMetrics(ctx, requestID))
	assert.NoError(t, runStats(ctx, "", ""))
	assert.Error(t, runLogs(ctx, "missing"))
	assert.Error(t, runStats(ctx, "2025-03-02", "2025-03-01"))

	md, err := filepath.Glob(filepath.Join(dir, "reports", "*.md"))
	require.NoError(t, err)
	assert.Len(t, md, 1)
}

func TestGenerateEstimateDoesNotCallModel(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)
	cfgPath := filepath.Join(t.TempDir(), ".dossier.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("ai:\n  provider: gemini\n"), 0644))
	prev := cfgFile
	cfgFile = cfgPath
	t.Cleanup(func() { cfgFile = prev })

	assert.NoError(t, runGenerate(context.Background(), generateOptions{entity: "Acme Bank", estimate: true}))
	assert.Error(t, runGenerate(context.Background(), generateOptions{estimate: true}))
}
