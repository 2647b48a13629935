package handlers

import (
	"context"
	"fmt"

	"dossier/internal/config"
	"dossier/internal/conversation"
	"dossier/internal/llm"
	"dossier/internal/logger"
	"dossier/internal/observability"
	"dossier/internal/render"
	"dossier/internal/report"
	"dossier/internal/tracking"
	"dossier/internal/upload"
)

// reportEnv is a report.Service together with the backends it owns.
type reportEnv struct {
	service   *report.Service
	sink      tracking.Sink
	store     conversation.Store
	uploader  upload.Uploader
	analytics *observability.PostHogClient
}

// newReportEnv wires the configured backends. With offline set no model
// client is created, so runs must be dry runs.
func newReportEnv(ctx context.Context, cfg *config.Config, offline bool) (*reportEnv, error) {
	env := &reportEnv{}

	var generator llm.Generator
	if !offline {
		if !cfg.AI.Gemini.HasCredentials() {
			return nil, fmt.Errorf("no Gemini credentials configured. Set GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT, or use --dry-run")
		}
		client, err := llm.NewGeminiClient(ctx, cfg.AI.Gemini)
		if err != nil {
			return nil, fmt.Errorf("failed to create model client: %w", err)
		}
		generator = client
	}

	store, err := conversation.NewStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	env.store = store

	sink, err := tracking.NewSink(cfg.Tracking)
	if err != nil {
		env.Close(ctx)
		return nil, fmt.Errorf("failed to open tracking sink: %w", err)
	}
	env.sink = sink

	if cfg.Upload.Enabled {
		uploader, err := upload.New(ctx, cfg.Upload)
		if err != nil {
			env.Close(ctx)
			return nil, fmt.Errorf("failed to create uploader: %w", err)
		}
		env.uploader = uploader
	}

	analytics, err := observability.NewPostHogClient(cfg.Analytics.PostHog)
	if err != nil {
		logger.Warn("Analytics disabled", "error", err.Error())
		analytics = nil
	}
	env.analytics = analytics

	writer := &render.Writer{Dir: cfg.Output.Directory, TOCDepth: cfg.Output.TOCDepth}
	if cfg.Output.PDF.Enabled {
		writer.PDF = render.NewWKHTMLRenderer(cfg.Output.PDF.Binary)
	}

	env.service = report.NewService(cfg, report.Deps{
		Generator: generator,
		Store:     store,
		Sink:      sink,
		Writer:    writer,
		Uploader:  env.uploader,
		Analytics: analytics,
	})
	return env, nil
}

// Close releases every backend, logging failures.
func (e *reportEnv) Close(ctx context.Context) {
	if e.analytics != nil {
		if err := e.analytics.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush analytics", "error", err.Error())
		}
	}
	if e.uploader != nil {
		if err := e.uploader.Close(); err != nil {
			logger.Warn("Failed to close uploader", "error", err.Error())
		}
	}
	if e.sink != nil {
		if err := e.sink.Close(); err != nil {
			logger.Warn("Failed to close tracking sink", "error", err.Error())
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			logger.Warn("Failed to close history store", "error", err.Error())
		}
	}
}

// openSink opens only the tracking sink, for the read-only commands.
func openSink() (tracking.Sink, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	sink, err := tracking.NewSink(cfg.Tracking)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracking sink: %w", err)
	}
	return sink, nil
}
