package report

import (
	"context"
	"sync"
	"time"

	"dossier/internal/conversation"
	"dossier/internal/core"
	"dossier/internal/llm"
	"dossier/internal/logger"
	"dossier/internal/tracking"
)

// runObserver fans pipeline progress out to the status log, the metrics
// sink, the history store and analytics for a single run.
type runObserver struct {
	s  *Service
	rc *core.RequestContext

	mu   sync.Mutex
	rows []tracking.MetricRow
}

func newRunObserver(s *Service, rc *core.RequestContext) *runObserver {
	return &runObserver{s: s, rc: rc}
}

func (o *runObserver) Status(ctx context.Context, status tracking.Status, message string) {
	logger.FromContext(ctx).Info(message, "status", string(status))
	if o.s.deps.Sink == nil {
		return
	}
	entry := tracking.StatusEntry{
		RequestID: o.rc.RequestID,
		Timestamp: o.s.Now().UTC(),
		Status:    status,
		Message:   message,
	}
	if err := o.s.deps.Sink.RecordStatus(context.WithoutCancel(ctx), entry); err != nil {
		logger.FromContext(ctx).Warn("Failed to record status", "status", string(status), "error", err.Error())
	}
}

func (o *runObserver) Usage(ctx context.Context, step, model string, usage llm.Usage) {
	row := tracking.NewMetricRow(o.rc.RequestID, step, model, usage.InputTokens, usage.OutputTokens, o.s.Now())

	o.mu.Lock()
	o.rows = append(o.rows, row)
	o.mu.Unlock()

	if o.s.deps.Sink != nil {
		if err := o.s.deps.Sink.RecordMetric(ctx, row); err != nil {
			logger.FromContext(ctx).Warn("Failed to record metrics", "section", step, "error", err.Error())
		}
	}
	_ = o.s.deps.Analytics.TrackLLMCall(ctx, o.rc.RequestID, model, step, row.TotalTokens, row.TotalCost)
}

func (o *runObserver) Checkpoint(ctx context.Context, state *conversation.State) {
	if o.s.deps.Store == nil {
		return
	}
	if err := o.s.deps.Store.Save(ctx, o.rc.RequestID, state.Snapshot()); err != nil {
		logger.FromContext(ctx).Warn("Failed to save conversation history", "turns", state.Len(), "error", err.Error())
	}
}

func (o *runObserver) stats() tracking.Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return tracking.Aggregate(o.rows, time.Time{}, time.Time{})
}

func (o *runObserver) totals() tracking.Totals {
	return o.stats().Totals
}

// summarize logs per-model token and cost totals for the run.
func (o *runObserver) summarize(ctx context.Context) {
	stats := o.stats()
	log := logger.FromContext(ctx)
	for _, m := range stats.ByModel {
		log.Info("Model usage",
			"model", m.Model,
			"calls", m.Calls,
			"input_tokens", m.InputTokens,
			"output_tokens", m.OutputTokens,
			"total_cost", m.TotalCost)
	}
	log.Info("Run usage",
		"calls", stats.Totals.Calls,
		"total_tokens", stats.Totals.TotalTokens,
		"total_cost", stats.Totals.TotalCost)
}
