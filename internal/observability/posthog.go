// Package observability sends product analytics for report runs.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/posthog/posthog-go"

	"dossier/internal/config"
	"dossier/internal/core"
)

// Event names
const (
	EventReportStarted   = "report_started"
	EventReportCompleted = "report_completed"
	EventReportFailed    = "report_failed"
	EventLLMCall         = "llm_call"
	EventError           = "error_occurred"
)

const systemDistinctID = "system"

// PostHogClient wraps the PostHog SDK for product analytics
type PostHogClient struct {
	client  posthog.Client
	enabled bool
	log     *slog.Logger
}

// EventProperties contains properties for an event
type EventProperties map[string]interface{}

// NewPostHogClient creates a new PostHog analytics client. A disabled
// configuration yields a client whose methods do nothing.
func NewPostHogClient(cfg config.PostHogConfig) (*PostHogClient, error) {
	if !cfg.Enabled {
		return &PostHogClient{
			enabled: false,
			log:     slog.Default(),
		}, nil
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("PostHog enabled but missing API key")
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{
		Endpoint: cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PostHog client: %w", err)
	}

	return &PostHogClient{
		client:  client,
		enabled: true,
		log:     slog.Default(),
	}, nil
}

// IsEnabled returns whether PostHog tracking is enabled
func (p *PostHogClient) IsEnabled() bool {
	return p != nil && p.enabled
}

// Capture sends an event to PostHog
func (p *PostHogClient) Capture(ctx context.Context, distinctID string, event string, properties EventProperties) error {
	if !p.IsEnabled() {
		return nil
	}

	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}

	if err := p.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
	}); err != nil {
		p.log.Warn("Failed to enqueue analytics event", "event", event, "error", err.Error())
		return err
	}
	return nil
}

// TrackReportStarted tracks the start of a generation run
func (p *PostHogClient) TrackReportStarted(ctx context.Context, rc *core.RequestContext) error {
	return p.Capture(ctx, systemDistinctID, EventReportStarted, EventProperties{
		"request_id":     rc.RequestID,
		"language":       rc.Config.Language,
		"primary_entity": rc.Config.PrimaryEntity,
		"model":          rc.Config.ModelID,
		"orientation":    string(rc.Config.Orientation),
		"resumed":        rc.ResumedFrom != "",
	})
}

// TrackReportCompleted tracks a run that produced a deliverable
func (p *PostHogClient) TrackReportCompleted(ctx context.Context, requestID string, sections, failed int, totalCost float64, duration time.Duration) error {
	return p.Capture(ctx, systemDistinctID, EventReportCompleted, EventProperties{
		"request_id":      requestID,
		"section_count":   sections,
		"failed_sections": failed,
		"total_cost":      totalCost,
		"duration_ms":     duration.Milliseconds(),
	})
}

// TrackReportFailed tracks a run that ended without a deliverable
func (p *PostHogClient) TrackReportFailed(ctx context.Context, requestID string, err error, duration time.Duration) error {
	return p.Capture(ctx, systemDistinctID, EventReportFailed, EventProperties{
		"request_id":    requestID,
		"error_message": err.Error(),
		"duration_ms":   duration.Milliseconds(),
	})
}

// TrackLLMCall tracks LLM API calls for cost and performance monitoring
func (p *PostHogClient) TrackLLMCall(ctx context.Context, requestID, model, step string, tokens int, cost float64) error {
	return p.Capture(ctx, systemDistinctID, EventLLMCall, EventProperties{
		"request_id": requestID,
		"model":      model,
		"operation":  step,
		"tokens":     tokens,
		"cost":       cost,
	})
}

// TrackError tracks when an error occurs
func (p *PostHogClient) TrackError(ctx context.Context, errorType string, errorMessage string, component string) error {
	return p.Capture(ctx, systemDistinctID, EventError, EventProperties{
		"error_type":    errorType,
		"error_message": errorMessage,
		"component":     component,
	})
}

// Shutdown flushes pending events and closes the client
func (p *PostHogClient) Shutdown(ctx context.Context) error {
	if !p.IsEnabled() {
		return nil
	}

	return p.client.Close()
}
