// Package report orchestrates one report run end to end: request ids,
// history resume, generation, rendering, upload and run telemetry.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dossier/internal/config"
	"dossier/internal/conversation"
	"dossier/internal/core"
	"dossier/internal/llm"
	"dossier/internal/logger"
	"dossier/internal/observability"
	"dossier/internal/pipeline"
	"dossier/internal/render"
	"dossier/internal/retry"
	"dossier/internal/tracking"
	"dossier/internal/upload"
)

const defaultMaxDelay = 2 * time.Minute

// NewRequestID returns an id of the form YYYYMMDD_xxxxxxxx.
func NewRequestID(now time.Time) string {
	return fmt.Sprintf("%s_%s", now.Format("20060102"), uuid.NewString()[:8])
}

// Options select how a single run starts.
type Options struct {
	ResumeID string // Continue this earlier request from its saved history
	DryRun   bool   // Use the offline generator instead of the model
	NoUpload bool   // Keep artifacts local even when upload is enabled
}

// Outcome summarizes a finished run.
type Outcome struct {
	RequestID string            `json:"request_id"`
	Title     string            `json:"title"`
	Sections  int               `json:"sections"`
	Failed    int               `json:"failed_sections"`
	Artifacts *render.Artifacts `json:"artifacts,omitempty"`
	URL       string            `json:"url,omitempty"`
	Totals    tracking.Totals   `json:"totals"`
	Duration  time.Duration     `json:"duration"`
}

// Deps are the collaborators of a Service. Generator may be nil when only
// dry runs are made; Uploader and Analytics are optional.
type Deps struct {
	Generator llm.Generator
	Store     conversation.Store
	Sink      tracking.Sink
	Writer    *render.Writer
	Uploader  upload.Uploader
	Analytics *observability.PostHogClient
}

// Service runs reports. It is safe for concurrent use; every run gets its
// own RequestContext and conversation state.
type Service struct {
	cfg  *config.Config
	deps Deps

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

// NewService creates a Service. Writer defaults to the configured output directory.
func NewService(cfg *config.Config, deps Deps) *Service {
	if deps.Writer == nil {
		deps.Writer = &render.Writer{Dir: cfg.Output.Directory, TOCDepth: cfg.Output.TOCDepth}
	}
	return &Service{cfg: cfg, deps: deps, Now: time.Now}
}

// Prepare merges a request over the configured defaults and validates it.
func (s *Service) Prepare(req core.ReportConfig) (core.ReportConfig, error) {
	merged := req.WithDefaults(s.cfg.ReportDefaults())
	if err := merged.Validate(); err != nil {
		return merged, err
	}
	return merged, nil
}

// Run generates a report synchronously.
func (s *Service) Run(ctx context.Context, req core.ReportConfig, opts Options) (*Outcome, error) {
	if err := checkOptions(opts); err != nil {
		return nil, err
	}
	cfg, err := s.Prepare(req)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, s.requestID(opts), cfg, opts)
}

// Start validates req and generates the report in the background. The
// returned id can be used to follow the status log immediately.
func (s *Service) Start(ctx context.Context, req core.ReportConfig, opts Options) (string, error) {
	if err := checkOptions(opts); err != nil {
		return "", err
	}
	cfg, err := s.Prepare(req)
	if err != nil {
		return "", err
	}

	requestID := s.requestID(opts)
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.run(ctx, requestID, cfg, opts); err != nil {
			logger.Error("Background report failed", err, "request_id", requestID)
		}
	}()

	return requestID, nil
}

// checkOptions only accepts resume ids this service could have issued.
func checkOptions(opts Options) error {
	if opts.ResumeID != "" && !core.ValidRequestID(opts.ResumeID) {
		return fmt.Errorf("%w: resume id %q must look like YYYYMMDD_xxxxxxxx", core.ErrInvalidRequestID, opts.ResumeID)
	}
	return nil
}

// requestID continues under the resumed id so history, metrics and the
// status log keep a single join key.
func (s *Service) requestID(opts Options) string {
	if opts.ResumeID != "" {
		return opts.ResumeID
	}
	return NewRequestID(s.Now())
}

// Wait blocks until every report started with Start has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, requestID string, cfg core.ReportConfig, opts Options) (*Outcome, error) {
	rc := &core.RequestContext{
		RequestID:   requestID,
		Config:      cfg,
		StartTime:   s.Now(),
		ResumedFrom: opts.ResumeID,
	}

	ctx = logger.WithRequestID(ctx, requestID)
	if timeout := config.Duration(s.cfg.Report.RunTimeout, 0); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := logger.FromContext(ctx)
	obs := newRunObserver(s, rc)

	log.Info("Starting report generation",
		"primary_entity", cfg.PrimaryEntity,
		"language", cfg.Language,
		"model", cfg.ModelID,
		"resumed_from", opts.ResumeID,
		"dry_run", opts.DryRun)
	obs.Status(ctx, tracking.StatusInitialize, fmt.Sprintf("Starting report for %s in %s", cfg.PrimaryEntity, cfg.Language))
	_ = s.deps.Analytics.TrackReportStarted(ctx, rc)

	outcome, err := s.generate(ctx, rc, opts, obs)
	if outcome != nil {
		outcome.Totals = obs.totals()
		outcome.Duration = time.Since(rc.StartTime)
	}
	obs.summarize(ctx)

	if err != nil {
		obs.Status(ctx, tracking.StatusError, err.Error())
		_ = s.deps.Analytics.TrackReportFailed(ctx, requestID, err, time.Since(rc.StartTime))
		return outcome, err
	}

	obs.Status(ctx, tracking.StatusCompleted, fmt.Sprintf("Report ready: %s", deliverable(outcome)))
	_ = s.deps.Analytics.TrackReportCompleted(ctx, requestID, outcome.Sections, outcome.Failed, outcome.Totals.TotalCost, outcome.Duration)
	log.Info("Report generation completed",
		"title", outcome.Title,
		"sections", outcome.Sections,
		"failed_sections", outcome.Failed,
		"deliverable", deliverable(outcome),
		"duration", outcome.Duration.Round(time.Second).String())
	return outcome, nil
}

func (s *Service) generate(ctx context.Context, rc *core.RequestContext, opts Options, obs *runObserver) (*Outcome, error) {
	log := logger.FromContext(ctx)
	outcome := &Outcome{RequestID: rc.RequestID}

	state := conversation.NewState()
	if opts.ResumeID != "" {
		if s.deps.Store == nil {
			return outcome, errors.New("cannot resume without a conversation store")
		}
		records, err := s.deps.Store.Load(ctx, opts.ResumeID)
		if err != nil {
			return outcome, fmt.Errorf("failed to load history for %s: %w", opts.ResumeID, err)
		}
		state.Restore(records)
		log.Info("Restored conversation history", "from", opts.ResumeID, "turns", state.Len())
	}

	gen := s.deps.Generator
	if opts.DryRun {
		gen = pipeline.NewDryRunGenerator(rc.Config)
	}
	if gen == nil {
		return outcome, errors.New("no model client configured")
	}

	exec := &retry.Executor{
		MaxRetries: rc.Config.MaxRetries,
		BaseDelay:  rc.Config.RetryBaseDelay(),
		MaxDelay:   config.Duration(s.cfg.Retry.MaxDelay, defaultMaxDelay),
		Sleep:      s.Sleep,
		OnRetry: func(a retry.Attempt) {
			obs.Status(ctx, tracking.StatusRetry, fmt.Sprintf("%s attempt %d failed, retrying in %s: %v",
				a.Operation, a.Number, a.Delay.Round(time.Millisecond), a.Err))
		},
	}

	p := pipeline.New(gen, exec, obs, pipeline.Options{
		ContextWindowChars: s.cfg.Report.ContextWindowChars,
		MaxOutputTokens:    s.cfg.AI.Gemini.MaxOutputTokens,
	})

	result, err := p.Run(ctx, rc, state)
	if err != nil {
		return outcome, err
	}
	outcome.Title = result.Title
	outcome.Sections = len(result.Sections)
	outcome.Failed = result.Failed

	obs.Status(ctx, tracking.StatusSaving, "Writing report files")
	base := render.BaseName(s.Now(), rc.RequestID, rc.Config.Language)
	artifacts, err := s.deps.Writer.Write(ctx, base, render.Document{
		Title:       result.Title,
		Sections:    result.Sections,
		Orientation: rc.Config.Orientation,
	})
	if err != nil {
		return outcome, fmt.Errorf("failed to write report: %w", err)
	}
	outcome.Artifacts = artifacts
	if artifacts.PDFError != nil {
		obs.Status(ctx, tracking.StatusSaving, fmt.Sprintf("PDF generation failed, keeping HTML: %v", artifacts.PDFError))
		_ = s.deps.Analytics.TrackError(ctx, "pdf_render_failed", artifacts.PDFError.Error(), "render")
	}

	if rc.Config.Upload && !opts.NoUpload {
		outcome.URL = s.upload(ctx, rc, artifacts, obs)
	}

	return outcome, nil
}

// upload publishes the deliverable. Upload failures do not fail the run.
func (s *Service) upload(ctx context.Context, rc *core.RequestContext, artifacts *render.Artifacts, obs *runObserver) string {
	log := logger.FromContext(ctx)
	if s.deps.Uploader == nil {
		log.Warn("Upload requested but no uploader is configured")
		return ""
	}

	file := artifacts.Deliverable()
	obs.Status(ctx, tracking.StatusUploading, fmt.Sprintf("Uploading %s", file))
	url, err := s.deps.Uploader.Upload(ctx, file, upload.ObjectPath(rc.Config.Language, file))
	if err != nil {
		log.Warn("Upload failed, report is only available locally", "file", file, "error", err.Error())
		obs.Status(ctx, tracking.StatusUploading, fmt.Sprintf("Upload failed: %v", err))
		_ = s.deps.Analytics.TrackError(ctx, "upload_failed", err.Error(), "upload")
		return ""
	}
	return url
}

func deliverable(o *Outcome) string {
	if o == nil || o.Artifacts == nil {
		return ""
	}
	if o.URL != "" {
		return o.URL
	}
	return o.Artifacts.Deliverable()
}

// FormatSummary renders per-model totals for console output.
func FormatSummary(totals []tracking.ModelTotals) string {
	var b strings.Builder
	for _, m := range totals {
		fmt.Fprintf(&b, "%s: %d calls, %d input + %d output tokens, $%.6f\n",
			m.Model, m.Calls, m.InputTokens, m.OutputTokens, m.TotalCost)
	}
	return b.String()
}
