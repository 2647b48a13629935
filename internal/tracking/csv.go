package tracking

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"dossier/internal/core"
)

var metricsHeader = []string{
	"requestId", "timestamp", "section", "modelVersion",
	"inputTokens", "outputTokens", "totalTokens",
	"costPerMillionInput", "costPerMillionOutput",
	"inputCost", "outputCost", "totalCost",
}

var statusHeader = []string{"timestamp", "status", "message"}

const csvTimeLayout = time.RFC3339Nano

// CSVSink appends to a shared metrics file and one status file per request.
// Files are opened in append mode for every write; in-process writers are
// serialized by a mutex.
type CSVSink struct {
	mu          sync.Mutex
	metricsFile string
	statusDir   string
}

// NewCSVSink creates a sink writing to the given locations.
func NewCSVSink(metricsFile, statusDir string) *CSVSink {
	return &CSVSink{metricsFile: metricsFile, statusDir: statusDir}
}

// StatusPath returns the status log location for a request.
func (s *CSVSink) StatusPath(requestID string) string {
	return filepath.Join(s.statusDir, fmt.Sprintf("status_%s.csv", requestID))
}

func (s *CSVSink) RecordMetric(ctx context.Context, row MetricRow) error {
	return s.appendRow(s.metricsFile, metricsHeader, []string{
		row.RequestID,
		row.Timestamp.UTC().Format(csvTimeLayout),
		row.Section,
		row.ModelVersion,
		strconv.Itoa(row.InputTokens),
		strconv.Itoa(row.OutputTokens),
		strconv.Itoa(row.TotalTokens),
		formatFloat(row.CostPerMillionInput),
		formatFloat(row.CostPerMillionOutput),
		formatFloat(row.InputCost),
		formatFloat(row.OutputCost),
		formatFloat(row.TotalCost),
	})
}

func (s *CSVSink) RecordStatus(ctx context.Context, entry StatusEntry) error {
	if err := core.CheckFileKey(entry.RequestID); err != nil {
		return err
	}
	return s.appendRow(s.StatusPath(entry.RequestID), statusHeader, []string{
		entry.Timestamp.UTC().Format(csvTimeLayout),
		string(entry.Status),
		entry.Message,
	})
}

func (s *CSVSink) appendRow(path string, header, record []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	if err := w.Write(record); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (s *CSVSink) Metrics(ctx context.Context, requestID string) ([]MetricRow, error) {
	records, err := s.readAll(s.metricsFile)
	if err != nil {
		return nil, err
	}

	var rows []MetricRow
	for i, rec := range records {
		if len(rec) != len(metricsHeader) {
			return nil, fmt.Errorf("metrics row %d: expected %d fields, got %d", i+2, len(metricsHeader), len(rec))
		}
		if requestID != "" && rec[0] != requestID {
			continue
		}
		row, err := parseMetric(rec)
		if err != nil {
			return nil, fmt.Errorf("metrics row %d: %w", i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *CSVSink) Statuses(ctx context.Context, requestID string) ([]StatusEntry, error) {
	if err := core.CheckFileKey(requestID); err != nil {
		return nil, err
	}
	records, err := s.readAll(s.StatusPath(requestID))
	if err != nil {
		return nil, err
	}

	entries := make([]StatusEntry, 0, len(records))
	for i, rec := range records {
		if len(rec) != len(statusHeader) {
			return nil, fmt.Errorf("status row %d: expected %d fields, got %d", i+2, len(statusHeader), len(rec))
		}
		ts, err := time.Parse(csvTimeLayout, rec[0])
		if err != nil {
			return nil, fmt.Errorf("status row %d: %w", i+2, err)
		}
		entries = append(entries, StatusEntry{
			RequestID: requestID,
			Timestamp: ts,
			Status:    Status(rec[1]),
			Message:   rec[2],
		})
	}
	return entries, nil
}

// readAll returns data records without the header. A missing file has no records.
func (s *CSVSink) readAll(path string) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var out [][]string
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if first {
			first = false
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *CSVSink) Close() error { return nil }

func parseMetric(rec []string) (MetricRow, error) {
	ts, err := time.Parse(csvTimeLayout, rec[1])
	if err != nil {
		return MetricRow{}, err
	}
	ints := make([]int, 3)
	for i := range ints {
		if ints[i], err = strconv.Atoi(rec[4+i]); err != nil {
			return MetricRow{}, fmt.Errorf("%s: %w", metricsHeader[4+i], err)
		}
	}
	floats := make([]float64, 5)
	for i := range floats {
		if floats[i], err = strconv.ParseFloat(rec[7+i], 64); err != nil {
			return MetricRow{}, fmt.Errorf("%s: %w", metricsHeader[7+i], err)
		}
	}
	return MetricRow{
		RequestID:            rec[0],
		Timestamp:            ts,
		Section:              rec[2],
		ModelVersion:         rec[3],
		InputTokens:          ints[0],
		OutputTokens:         ints[1],
		TotalTokens:          ints[2],
		CostPerMillionInput:  floats[0],
		CostPerMillionOutput: floats[1],
		InputCost:            floats[2],
		OutputCost:           floats[3],
		TotalCost:            floats[4],
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
