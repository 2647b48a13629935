// Package tracking records per-call token metrics and per-request status
// events, and aggregates them for reporting.
package tracking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"dossier/internal/config"
	"dossier/internal/cost"
)

// Status is a run lifecycle marker written to the per-request status log.
type Status string

const (
	StatusInitialize Status = "initialize"
	StatusGenerating Status = "generating"
	StatusPolishing  Status = "polishing"
	StatusSaving     Status = "saving"
	StatusUploading  Status = "uploading"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusRetry      Status = "retry"
)

// Terminal reports whether no further events follow this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// MetricRow is one priced model call.
type MetricRow struct {
	RequestID            string    `json:"requestId"`
	Timestamp            time.Time `json:"timestamp"`
	Section              string    `json:"section"`
	ModelVersion         string    `json:"modelVersion"`
	InputTokens          int       `json:"inputTokens"`
	OutputTokens         int       `json:"outputTokens"`
	TotalTokens          int       `json:"totalTokens"`
	CostPerMillionInput  float64   `json:"costPerMillionInput"`
	CostPerMillionOutput float64   `json:"costPerMillionOutput"`
	InputCost            float64   `json:"inputCost"`
	OutputCost           float64   `json:"outputCost"`
	TotalCost            float64   `json:"totalCost"`
}

// NewMetricRow prices a call and builds its row.
func NewMetricRow(requestID, section, model string, inputTokens, outputTokens int, at time.Time) MetricRow {
	c := cost.Compute(model, inputTokens, outputTokens)
	return MetricRow{
		RequestID:            requestID,
		Timestamp:            at.UTC(),
		Section:              section,
		ModelVersion:         model,
		InputTokens:          inputTokens,
		OutputTokens:         outputTokens,
		TotalTokens:          c.TotalTokens(),
		CostPerMillionInput:  c.InputCostPer1MTokens,
		CostPerMillionOutput: c.OutputCostPer1MTokens,
		InputCost:            c.InputCost,
		OutputCost:           c.OutputCost,
		TotalCost:            c.TotalCost,
	}
}

// StatusEntry is one line of a request's status log.
type StatusEntry struct {
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
}

// Sink stores metrics and status events. Implementations are safe for
// concurrent use by multiple runs.
type Sink interface {
	RecordMetric(ctx context.Context, row MetricRow) error
	RecordStatus(ctx context.Context, entry StatusEntry) error
	// Metrics returns rows for one request, or every row when requestID is empty.
	Metrics(ctx context.Context, requestID string) ([]MetricRow, error)
	Statuses(ctx context.Context, requestID string) ([]StatusEntry, error)
	Close() error
}

// NewSink builds the backend selected in configuration.
func NewSink(cfg config.Tracking) (Sink, error) {
	switch cfg.Backend {
	case "", "csv":
		return NewCSVSink(cfg.MetricsFile, cfg.StatusDir), nil
	case "postgres":
		return NewSQLSink(DialectPostgres, cfg.DatabaseURL)
	case "sqlite":
		return NewSQLSink(DialectSQLite, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown tracking backend: %s", cfg.Backend)
	}
}

// Totals sums a set of metric rows.
type Totals struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	TotalTokens  int     `json:"totalTokens"`
	InputCost    float64 `json:"inputCost"`
	OutputCost   float64 `json:"outputCost"`
	TotalCost    float64 `json:"totalCost"`
	Requests     int     `json:"requests"`
}

func (t *Totals) add(r MetricRow) {
	t.Calls++
	t.InputTokens += r.InputTokens
	t.OutputTokens += r.OutputTokens
	t.TotalTokens += r.TotalTokens
	t.InputCost += r.InputCost
	t.OutputCost += r.OutputCost
	t.TotalCost += r.TotalCost
}

func (t *Totals) round() {
	t.InputCost = round6(t.InputCost)
	t.OutputCost = round6(t.OutputCost)
	t.TotalCost = round6(t.TotalCost)
}

// ModelTotals is Totals for one model version.
type ModelTotals struct {
	Model string `json:"model"`
	Totals
}

// DayTotals is Totals for one UTC calendar day.
type DayTotals struct {
	Day string `json:"day"` // YYYY-MM-DD
	Totals
}

// Stats is the aggregate view over a date range.
type Stats struct {
	From    string        `json:"from,omitempty"`
	To      string        `json:"to,omitempty"`
	Totals  Totals        `json:"totals"`
	ByModel []ModelTotals `json:"byModel"`
	ByDay   []DayTotals   `json:"byDay"`
}

// DayLayout is the date format accepted for range filters.
const DayLayout = "2006-01-02"

// Aggregate computes totals over rows whose UTC day falls within [from, to].
// Zero bounds are open.
func Aggregate(rows []MetricRow, from, to time.Time) Stats {
	stats := Stats{ByModel: []ModelTotals{}, ByDay: []DayTotals{}}
	if !from.IsZero() {
		stats.From = from.Format(DayLayout)
	}
	if !to.IsZero() {
		stats.To = to.Format(DayLayout)
	}

	byModel := map[string]*ModelTotals{}
	byDay := map[string]*DayTotals{}
	requests := map[string]bool{}
	modelRequests := map[string]map[string]bool{}
	dayRequests := map[string]map[string]bool{}

	for _, r := range rows {
		day := r.Timestamp.UTC().Format(DayLayout)
		if stats.From != "" && day < stats.From {
			continue
		}
		if stats.To != "" && day > stats.To {
			continue
		}

		stats.Totals.add(r)
		requests[r.RequestID] = true

		m, ok := byModel[r.ModelVersion]
		if !ok {
			m = &ModelTotals{Model: r.ModelVersion}
			byModel[r.ModelVersion] = m
			modelRequests[r.ModelVersion] = map[string]bool{}
		}
		m.add(r)
		modelRequests[r.ModelVersion][r.RequestID] = true

		d, ok := byDay[day]
		if !ok {
			d = &DayTotals{Day: day}
			byDay[day] = d
			dayRequests[day] = map[string]bool{}
		}
		d.add(r)
		dayRequests[day][r.RequestID] = true
	}

	stats.Totals.Requests = len(requests)
	stats.Totals.round()
	for model, m := range byModel {
		m.Requests = len(modelRequests[model])
		m.round()
		stats.ByModel = append(stats.ByModel, *m)
	}
	for day, d := range byDay {
		d.Requests = len(dayRequests[day])
		d.round()
		stats.ByDay = append(stats.ByDay, *d)
	}
	sort.Slice(stats.ByModel, func(i, j int) bool { return stats.ByModel[i].Model < stats.ByModel[j].Model })
	sort.Slice(stats.ByDay, func(i, j int) bool { return stats.ByDay[i].Day < stats.ByDay[j].Day })
	return stats
}

// ParseDay parses a YYYY-MM-DD bound; empty input yields the zero time.
func ParseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
