package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dossier/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".dossier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load(writeConfig(t, "app:\n  debug: false\n"))
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-pro", cfg.AI.Gemini.Model)
	assert.Equal(t, "gemini-2.5-flash", cfg.AI.Gemini.FastModel)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "csv", cfg.Tracking.Backend)
	assert.Equal(t, 3, cfg.Output.TOCDepth)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.ElementsMatch(t, core.DefaultPolishSkipTerms, cfg.Report.PolishSkipTerms)
}

func TestLoadFileOverrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load(writeConfig(t, `
report:
  language: German
  primary_entity: Acme Corp
  orientation: portrait
  comparison_entities: [Globex, Initech]
retry:
  max_attempts: 2
`))
	require.NoError(t, err)

	rc := cfg.ReportDefaults()
	assert.Equal(t, "German", rc.Language)
	assert.Equal(t, "Acme Corp", rc.PrimaryEntity)
	assert.Equal(t, core.OrientationPortrait, rc.Orientation)
	assert.Equal(t, []string{"Globex", "Initech"}, rc.ComparisonEntities)
	assert.Equal(t, 2, rc.MaxRetries)
	assert.Equal(t, "gemini-2.5-pro", rc.ModelID)
}

func TestLoadReturnsCachedConfig(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first, err := Load(writeConfig(t, "app:\n  debug: true\n"))
	require.NoError(t, err)
	second, err := Load("")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "redis without url",
			body:    "storage:\n  backend: redis\n",
			wantErr: "Redis storage requires a URL",
		},
		{
			name:    "unknown storage backend",
			body:    "storage:\n  backend: s3\n",
			wantErr: "Unknown storage backend: s3",
		},
		{
			name:    "sql tracking without database",
			body:    "tracking:\n  backend: postgres\n",
			wantErr: "postgres tracking requires a database URL",
		},
		{
			name:    "upload without bucket",
			body:    "upload:\n  enabled: true\n  provider: gcs\n",
			wantErr: "GCS upload requires a bucket",
		},
		{
			name:    "bad orientation",
			body:    "report:\n  orientation: diagonal\n",
			wantErr: "Unknown orientation: diagonal",
		},
		{
			name:    "bad duration",
			body:    "report:\n  run_timeout: soon\n",
			wantErr: "invalid duration for report.run_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Reset()
			t.Cleanup(Reset)
			t.Setenv("REDIS_URL", "")
			t.Setenv("DATABASE_URL", "")
			t.Setenv("GCS_BUCKET", "")
			t.Setenv("GCS_BUCKET_NAME", "")

			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBindEnvKeysPrefersFirstSetVariable(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_GEMINI_API_KEY", "second")
	t.Setenv("GOOGLE_API_KEY", "third")

	cfg, err := Load(writeConfig(t, "app:\n  debug: false\n"))
	require.NoError(t, err)
	assert.Equal(t, "second", cfg.AI.Gemini.APIKey)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("DOSSIER_TEST_DIR", "/var/reports")

	assert.Equal(t, filepath.Join(home, "reports"), expandPath("~/reports"))
	assert.Equal(t, "/var/reports/out", expandPath("$DOSSIER_TEST_DIR/out"))
	assert.Equal(t, "", expandPath(""))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 90*time.Second, Duration("90s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("nope", time.Minute))
}

func TestIsValidAPIKey(t *testing.T) {
	assert.False(t, isValidAPIKey(""))
	assert.False(t, isValidAPIKey("YOUR_API_KEY"))
	assert.True(t, isValidAPIKey("AIza-real"))

	assert.False(t, GeminiConfig{APIKey: "CHANGE_ME"}.HasCredentials())
	assert.True(t, GeminiConfig{Project: "acme-reports"}.HasCredentials())
}
