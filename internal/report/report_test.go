package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"dossier/internal/citations"
	"dossier/internal/config"
	"dossier/internal/conversation"
	"dossier/internal/core"
	"dossier/internal/llm"
	"dossier/internal/retry"
	"dossier/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	cfg   *config.Config
	store *conversation.FileStore
	sink  *tracking.CSVSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	return &fixture{
		cfg: &config.Config{
			AI: config.AI{Gemini: config.GeminiConfig{
				Model:           "gemini-2.5-pro",
				FastModel:       "gemini-2.5-flash",
				MaxOutputTokens: 8192,
			}},
			Retry: config.Retry{MaxAttempts: 2, BaseDelay: 0.01, MaxDelay: "1s"},
			Report: config.Report{
				Language:           "English",
				PrimaryEntity:      "Acme Bank",
				ComparisonEntities: []string{"Beta Bank"},
				SectionGuidance:    []string{"Overview", "Comparison"},
				Temperature:        0.4,
				Orientation:        "landscape",
				PolishSkipTerms:    core.DefaultPolishSkipTerms,
				ContextWindowChars: 600000,
			},
			Output: config.Output{Directory: filepath.Join(dir, "reports"), TOCDepth: 3},
		},
		store: conversation.NewFileStore(filepath.Join(dir, "history")),
		sink:  tracking.NewCSVSink(filepath.Join(dir, "metrics.csv"), filepath.Join(dir, "status")),
	}
}

func (f *fixture) service(gen llm.Generator, deps ...func(*Deps)) *Service {
	d := Deps{Generator: gen, Store: f.store, Sink: f.sink}
	for _, fn := range deps {
		fn(&d)
	}
	s := NewService(f.cfg, d)
	s.Sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func (f *fixture) statuses(t *testing.T, requestID string) []tracking.Status {
	t.Helper()
	entries, err := f.sink.Statuses(context.Background(), requestID)
	require.NoError(t, err)
	out := make([]tracking.Status, len(entries))
	for i, e := range entries {
		out[i] = e.Status
	}
	return out
}

func (f *fixture) steps(t *testing.T, requestID string) []string {
	t.Helper()
	rows, err := f.sink.Metrics(context.Background(), requestID)
	require.NoError(t, err)
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Section
	}
	return out
}

func stubGenerator(overview llm.Result) *llm.ScriptedGenerator {
	return llm.NewScriptedGenerator().
		On("Create a professional, concise Table of Contents", llm.Text("Acme vs Beta\n\nI. Overview\nII. Comparison")).
		On("Given the Table of Contents", llm.Text("TITLE: Acme vs Beta\nSECTIONS:\nI. Overview\nII. Comparison")).
		On("**I. Overview**", overview).
		On("You are a professional editor.", llm.Text("## I. Overview\n\nAcme clearly leads the market.")).
		On("**II. Comparison**", llm.Text("## II. Comparison\n\nBeta trails Acme."))
}

func sectionHeadings(md string) []string {
	var out []string
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "## ") {
			out = append(out, strings.TrimPrefix(line, "## "))
		}
	}
	return out
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}

func TestNewRequestID(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	id := NewRequestID(now)
	assert.Regexp(t, regexp.MustCompile(`^20250301_[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewRequestID(now))
}

func TestRunEndToEndWithoutCitations(t *testing.T) {
	f := newFixture(t)
	gen := stubGenerator(llm.Text("## I. Overview\n\nAcme leads the market."))

	out, err := f.service(gen).Run(context.Background(), core.ReportConfig{}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Acme vs Beta", out.Title)
	assert.Equal(t, 2, out.Sections)
	assert.Equal(t, 0, out.Failed)
	assert.Equal(t, 5, out.Totals.Calls)
	require.NotNil(t, out.Artifacts)
	assert.Empty(t, out.Artifacts.PDF)
	assert.Equal(t, out.Artifacts.HTML, out.Artifacts.Deliverable())
	assert.Contains(t, filepath.Base(out.Artifacts.Markdown), out.RequestID+"_english.md")

	md := readFile(t, out.Artifacts.Markdown)
	assert.True(t, strings.HasPrefix(md, "# Acme vs Beta\n"))
	assert.Equal(t, []string{"I. Overview", "II. Comparison"}, sectionHeadings(md))
	assert.NotContains(t, md, "References")
	assert.Contains(t, md, "Acme clearly leads the market.")

	html := readFile(t, out.Artifacts.HTML)
	assert.Contains(t, html, `<div class="toc">`)
	assert.Contains(t, html, "A4 landscape")

	statuses := f.statuses(t, out.RequestID)
	require.NotEmpty(t, statuses)
	assert.Equal(t, tracking.StatusInitialize, statuses[0])
	assert.Equal(t, tracking.StatusCompleted, statuses[len(statuses)-1])
	assert.Contains(t, statuses, tracking.StatusGenerating)
	assert.Contains(t, statuses, tracking.StatusPolishing)
	assert.Contains(t, statuses, tracking.StatusSaving)
	assert.NotContains(t, statuses, tracking.StatusUploading)

	assert.Equal(t, []string{"Table of Contents", "TOC Extraction", "I. Overview", "Polish: I. Overview", "II. Comparison"}, f.steps(t, out.RequestID))

	records, err := f.store.Load(context.Background(), out.RequestID)
	require.NoError(t, err)
	assert.Len(t, records, 6)
}

func TestRunEndToEndWithCitations(t *testing.T) {
	f := newFixture(t)
	overview := llm.Text("## I. Overview\n\nAcme leads the market.")
	overview.Grounding = &core.Grounding{
		Segments: []core.GroundingSegment{{Text: "Acme leads the market.", SourceIndices: []int{0}}},
		Sources:  []core.GroundingSource{{URI: "https://example.com/acme", Domain: "example.com"}},
	}

	out, err := f.service(stubGenerator(overview)).Run(context.Background(), core.ReportConfig{}, Options{})
	require.NoError(t, err)

	md := readFile(t, out.Artifacts.Markdown)
	assert.Equal(t, []string{"I. Overview", "II. Comparison", "References"}, sectionHeadings(md))
	// the polished text dropped the citation, so the cited draft is kept
	assert.Contains(t, md, "Acme leads the market."+citations.Marker(1, 1))
	assert.Contains(t, md, "https://example.com/acme")
}

func TestRunReportsOutlineFailure(t *testing.T) {
	f := newFixture(t)
	gen := llm.NewScriptedGenerator(llm.Failure(errors.New("503 unavailable")), llm.Failure(errors.New("503 unavailable")))

	out, err := f.service(gen).Run(context.Background(), core.ReportConfig{}, Options{})
	require.Error(t, err)

	var exhausted *retry.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
	require.NotNil(t, out)
	assert.Nil(t, out.Artifacts)

	statuses := f.statuses(t, out.RequestID)
	assert.Contains(t, statuses, tracking.StatusRetry)
	assert.Equal(t, tracking.StatusError, statuses[len(statuses)-1])
	assert.Len(t, gen.Requests(), 2)
}

func TestRunRetriesTransientFailure(t *testing.T) {
	f := newFixture(t)
	gen := llm.NewScriptedGenerator().
		On("Create a professional, concise Table of Contents", llm.Empty(), llm.Text("Acme vs Beta\n\nI. Overview\nII. Comparison")).
		On("Given the Table of Contents", llm.Text("TITLE: Acme vs Beta\nSECTIONS:\nI. Overview\nII. Comparison"))
	gen.Fallback = func(llm.Request) llm.Result { return llm.Text("Body text.") }

	out, err := f.service(gen).Run(context.Background(), core.ReportConfig{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Failed)

	statuses := f.statuses(t, out.RequestID)
	assert.Equal(t, 1, countStatus(statuses, tracking.StatusRetry))
	assert.Equal(t, tracking.StatusCompleted, statuses[len(statuses)-1])
}

func countStatus(statuses []tracking.Status, want tracking.Status) int {
	n := 0
	for _, s := range statuses {
		if s == want {
			n++
		}
	}
	return n
}

func TestRunResumesFromHistory(t *testing.T) {
	f := newFixture(t)
	s := f.service(nil)

	first, err := s.Run(context.Background(), core.ReportConfig{}, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Sections)
	before := f.steps(t, first.RequestID)

	second, err := s.Run(context.Background(), core.ReportConfig{}, Options{DryRun: true, ResumeID: first.RequestID})
	require.NoError(t, err)
	assert.Equal(t, first.RequestID, second.RequestID)
	assert.Equal(t, first.Title, second.Title)
	// only the extraction call is repeated; metrics append under the same id
	assert.Equal(t, append(before, "TOC Extraction"), f.steps(t, second.RequestID))

	assert.Equal(t, readFile(t, first.Artifacts.Markdown), readFile(t, second.Artifacts.Markdown))

	_, err = s.Run(context.Background(), core.ReportConfig{}, Options{DryRun: true, ResumeID: "20250101_deadbeef"})
	assert.ErrorIs(t, err, conversation.ErrNotFound)

	_, err = s.Run(context.Background(), core.ReportConfig{}, Options{DryRun: true, ResumeID: "x/../../../escaped"})
	assert.ErrorIs(t, err, core.ErrInvalidRequestID)
	_, err = s.Start(context.Background(), core.ReportConfig{}, Options{DryRun: true, ResumeID: "missing"})
	assert.ErrorIs(t, err, core.ErrInvalidRequestID)
}

func TestRunValidatesRequest(t *testing.T) {
	f := newFixture(t)
	f.cfg.Report.PrimaryEntity = ""

	_, err := f.service(nil).Run(context.Background(), core.ReportConfig{}, Options{DryRun: true})
	assert.ErrorContains(t, err, "primary_entity is required")

	_, err = f.service(nil).Run(context.Background(), core.ReportConfig{PrimaryEntity: "Acme Bank"}, Options{})
	assert.ErrorContains(t, err, "no model client configured")
}

type fakeUploader struct {
	mu    sync.Mutex
	local []string
	paths []string
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, localPath, objectPath string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.local = append(u.local, localPath)
	u.paths = append(u.paths, objectPath)
	return "https://storage.example.com/" + objectPath, nil
}

func (u *fakeUploader) Close() error { return nil }

func TestRunUploadsDeliverable(t *testing.T) {
	f := newFixture(t)
	f.cfg.Upload.Enabled = true
	up := &fakeUploader{}

	out, err := f.service(nil, func(d *Deps) { d.Uploader = up }).Run(context.Background(), core.ReportConfig{}, Options{DryRun: true})
	require.NoError(t, err)

	require.Len(t, up.paths, 1)
	assert.Equal(t, out.Artifacts.HTML, up.local[0])
	assert.Equal(t, "english/"+filepath.Base(out.Artifacts.HTML), up.paths[0])
	assert.Equal(t, "https://storage.example.com/"+up.paths[0], out.URL)
	assert.Contains(t, f.statuses(t, out.RequestID), tracking.StatusUploading)
}

func TestRunUploadFailureKeepsReport(t *testing.T) {
	f := newFixture(t)
	f.cfg.Upload.Enabled = true
	up := &fakeUploader{err: errors.New("permission denied")}

	out, err := f.service(nil, func(d *Deps) { d.Uploader = up }).Run(context.Background(), core.ReportConfig{}, Options{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, out.URL)
	assert.FileExists(t, out.Artifacts.HTML)
}

func TestStartRunsInBackground(t *testing.T) {
	f := newFixture(t)
	s := f.service(nil)

	first, err := s.Start(context.Background(), core.ReportConfig{}, Options{DryRun: true})
	require.NoError(t, err)
	second, err := s.Start(context.Background(), core.ReportConfig{Language: "Spanish"}, Options{DryRun: true})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	s.Wait()

	for _, id := range []string{first, second} {
		statuses := f.statuses(t, id)
		require.NotEmpty(t, statuses, id)
		assert.Equal(t, tracking.StatusInitialize, statuses[0])
		assert.Equal(t, tracking.StatusCompleted, statuses[len(statuses)-1])
	}

	_, err = s.Start(context.Background(), core.ReportConfig{Orientation: "diagonal"}, Options{DryRun: true})
	assert.ErrorContains(t, err, "unknown orientation")
}

func TestFormatSummary(t *testing.T) {
	out := FormatSummary([]tracking.ModelTotals{{Model: "gemini-2.5-pro", Totals: tracking.Totals{Calls: 2, InputTokens: 10, OutputTokens: 5, TotalCost: 0.5}}})
	assert.Equal(t, "gemini-2.5-pro: 2 calls, 10 input + 5 output tokens, $0.500000\n", out)
}

func TestRunSkipsUploadWhenDisabledForRun(t *testing.T) {
	f := newFixture(t)
	f.cfg.Upload.Enabled = true
	up := &fakeUploader{}

	out, err := f.service(nil, func(d *Deps) { d.Uploader = up }).Run(context.Background(), core.ReportConfig{}, Options{DryRun: true, NoUpload: true})
	require.NoError(t, err)
	assert.Empty(t, up.paths)
	assert.Empty(t, out.URL)
}
