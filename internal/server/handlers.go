package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"dossier/internal/core"
	"dossier/internal/report"
	"dossier/internal/tracking"
)

const maxBodyBytes = 1 << 20

// HealthResponse is returned by /health
type HealthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks"`
}

// CreateReportRequest is the body of POST /api/reports. Unset report fields
// fall back to the server configuration.
type CreateReportRequest struct {
	core.ReportConfig
	ResumeID string `json:"resume_id,omitempty"`
	DryRun   bool   `json:"dry_run,omitempty"`
}

// CreateReportResponse is returned once a run has been accepted.
type CreateReportResponse struct {
	RequestID string `json:"request_id"`
	Logs      string `json:"logs"`
	Metrics   string `json:"metrics"`
}

// LogsResponse lists the status events of one run.
type LogsResponse struct {
	RequestID string                 `json:"request_id"`
	Status    tracking.Status        `json:"status"`
	Done      bool                   `json:"done"`
	Entries   []tracking.StatusEntry `json:"entries"`
}

// MetricsResponse lists the priced model calls of one run.
type MetricsResponse struct {
	RequestID string               `json:"request_id"`
	Totals    tracking.Totals      `json:"totals"`
	Calls     []tracking.MetricRow `json:"calls"`
}

var serverStartTime = time.Now()

// handleHealth handles the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"tracking": "ok"}
	if s.sink == nil {
		checks["tracking"] = "disabled"
	}

	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(serverStartTime).Round(time.Second).String(),
		Checks: checks,
	})
}

// handleCreateReport handles POST /api/reports
func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := s.reports.Start(r.Context(), req.ReportConfig, report.Options{
		ResumeID: req.ResumeID,
		DryRun:   req.DryRun,
	})
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.log.Info("Report accepted", "request_id", id, "primary_entity", req.PrimaryEntity)
	s.respondJSON(w, http.StatusAccepted, CreateReportResponse{
		RequestID: id,
		Logs:      "/api/reports/" + id + "/logs",
		Metrics:   "/api/reports/" + id + "/metrics",
	})
}

// handleReportLogs handles GET /api/reports/{id}/logs
func (s *Server) handleReportLogs(w http.ResponseWriter, r *http.Request) {
	if !s.requireSink(w) {
		return
	}
	id, ok := s.requestID(w, r)
	if !ok {
		return
	}

	entries, err := s.sink.Statuses(r.Context(), id)
	if err != nil {
		s.log.Error("Failed to read status log", "request_id", id, "error", err.Error())
		s.respondError(w, http.StatusInternalServerError, "failed to read status log")
		return
	}
	if len(entries) == 0 {
		s.respondError(w, http.StatusNotFound, "no status log for request "+id)
		return
	}

	last := entries[len(entries)-1].Status
	s.respondJSON(w, http.StatusOK, LogsResponse{
		RequestID: id,
		Status:    last,
		Done:      last.Terminal(),
		Entries:   entries,
	})
}

// handleReportMetrics handles GET /api/reports/{id}/metrics
func (s *Server) handleReportMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.requireSink(w) {
		return
	}
	id, ok := s.requestID(w, r)
	if !ok {
		return
	}

	rows, err := s.sink.Metrics(r.Context(), id)
	if err != nil {
		s.log.Error("Failed to read metrics", "request_id", id, "error", err.Error())
		s.respondError(w, http.StatusInternalServerError, "failed to read metrics")
		return
	}
	if len(rows) == 0 {
		s.respondError(w, http.StatusNotFound, "no metrics for request "+id)
		return
	}

	s.respondJSON(w, http.StatusOK, MetricsResponse{
		RequestID: id,
		Totals:    tracking.Aggregate(rows, time.Time{}, time.Time{}).Totals,
		Calls:     rows,
	})
}

// handleStats handles GET /api/stats?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireSink(w) {
		return
	}

	from, err := tracking.ParseDay(r.URL.Query().Get("from"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := tracking.ParseDay(r.URL.Query().Get("to"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		s.respondError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	rows, err := s.sink.Metrics(r.Context(), "")
	if err != nil {
		s.log.Error("Failed to read metrics", "error", err.Error())
		s.respondError(w, http.StatusInternalServerError, "failed to read metrics")
		return
	}

	s.respondJSON(w, http.StatusOK, tracking.Aggregate(rows, from, to))
}

// requestID reads the {id} path parameter and rejects ids the service never issues.
func (s *Server) requestID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !core.ValidRequestID(id) {
		s.respondError(w, http.StatusBadRequest, "invalid request id "+strconv.Quote(id))
		return "", false
	}
	return id, true
}

func (s *Server) requireSink(w http.ResponseWriter) bool {
	if s.sink == nil {
		s.respondError(w, http.StatusServiceUnavailable, "tracking is not configured")
		return false
	}
	return true
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err.Error())
	}
}

// respondError writes a JSON error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"status":  status,
			"message": message,
		},
	})
}
