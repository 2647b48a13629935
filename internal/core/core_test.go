package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceEntryAnchorID(t *testing.T) {
	ref := ReferenceEntry{SectionIndex: 3, LocalIndex: 7, DisplayLabel: "3.7"}
	assert.Equal(t, "ref-section-3-7", ref.AnchorID())
}

func TestGroundingEmpty(t *testing.T) {
	var nilGrounding *Grounding
	assert.True(t, nilGrounding.Empty())
	assert.True(t, (&Grounding{Sources: []GroundingSource{{URI: "https://a.example"}}}).Empty())
	assert.True(t, (&Grounding{Segments: []GroundingSegment{{Text: "x", SourceIndices: []int{0}}}}).Empty())
	assert.False(t, (&Grounding{
		Segments: []GroundingSegment{{Text: "x", SourceIndices: []int{0}}},
		Sources:  []GroundingSource{{URI: "https://a.example"}},
	}).Empty())
}

func TestReportConfigWithDefaults(t *testing.T) {
	fallback := ReportConfig{
		Language:              "English",
		ModelID:               "gemini-2.5-pro",
		FastModelID:           "gemini-2.5-flash",
		MaxRetries:            5,
		RetryBaseDelaySeconds: 2,
		Temperature:           0.4,
		Orientation:           OrientationLandscape,
		Tone:                  ToneProfile{Tone: "analytical", Formality: "formal"},
	}

	cfg := ReportConfig{PrimaryEntity: "Acme", Language: "French", Orientation: OrientationPortrait}.WithDefaults(fallback)

	assert.Equal(t, "French", cfg.Language)
	assert.Equal(t, "Acme", cfg.PrimaryEntity)
	assert.Equal(t, OrientationPortrait, cfg.Orientation)
	assert.Equal(t, "gemini-2.5-pro", cfg.ModelID)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "analytical", cfg.Tone.Tone)
	assert.Equal(t, DefaultPolishSkipTerms, cfg.PolishSkipTerms)
	assert.Equal(t, 2*time.Second, cfg.RetryBaseDelay())
}

func TestReportConfigValidate(t *testing.T) {
	valid := ReportConfig{PrimaryEntity: "Acme", Language: "English", ModelID: "m", Temperature: 0.4}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(*ReportConfig)
		wantErr string
	}{
		{"missing entity", func(c *ReportConfig) { c.PrimaryEntity = " " }, "primary_entity is required"},
		{"missing language", func(c *ReportConfig) { c.Language = "" }, "language is required"},
		{"missing model", func(c *ReportConfig) { c.ModelID = "" }, "model_id is required"},
		{"negative retries", func(c *ReportConfig) { c.MaxRetries = -1 }, "max_retries"},
		{"temperature", func(c *ReportConfig) { c.Temperature = 3 }, "temperature"},
		{"orientation", func(c *ReportConfig) { c.Orientation = "sideways" }, "unknown orientation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFastModelFallsBackToMain(t *testing.T) {
	assert.Equal(t, "pro", ReportConfig{ModelID: "pro"}.FastModel())
	assert.Equal(t, "flash", ReportConfig{ModelID: "pro", FastModelID: "flash"}.FastModel())
}

func TestLoadReportConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
language: Spanish
primary_entity: Acme Corp
comparison_entities:
  - Globex
strict_structure: true
tone_profile:
  tone: confident
  emphasis: [growth, risk]
orientation: portrait
`), 0644))

	cfg, err := LoadReportConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Spanish", cfg.Language)
	assert.Equal(t, "Acme Corp", cfg.PrimaryEntity)
	assert.Equal(t, []string{"Globex"}, cfg.ComparisonEntities)
	assert.True(t, cfg.StrictStructure)
	assert.Equal(t, "confident", cfg.Tone.Tone)
	assert.Equal(t, []string{"growth", "risk"}, cfg.Tone.Emphasis)
	assert.Equal(t, OrientationPortrait, cfg.Orientation)

	_, err = LoadReportConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidRequestID(t *testing.T) {
	assert.True(t, ValidRequestID("20250301_0000abcd"))
	for _, id := range []string{"", "r1", "20250301_0000ABCD", "20250301_0000abcd/..", "../20250301_0000abcd", "2025031_0000abcd"} {
		assert.False(t, ValidRequestID(id), id)
	}
}

func TestCheckFileKey(t *testing.T) {
	require.NoError(t, CheckFileKey("req"))
	require.NoError(t, CheckFileKey("20250301_0000abcd"))
	for _, id := range []string{"", ".", "..", "../x", "a/b", `a\b`, "a\x00b"} {
		assert.ErrorIs(t, CheckFileKey(id), ErrInvalidRequestID, id)
	}
}
