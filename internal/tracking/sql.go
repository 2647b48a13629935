package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// SQLSink stores metrics and status events in Postgres or SQLite.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLSink opens the database and creates the tables if needed.
func NewSQLSink(dialect Dialect, dsn string) (*SQLSink, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectPostgres {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	} else {
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLSink{db: db, dialect: dialect}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *SQLSink) initialize(ctx context.Context) error {
	tsType := "TIMESTAMP"
	if s.dialect == DialectPostgres {
		tsType = "TIMESTAMPTZ"
	}

	metricsTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS report_metrics (
		request_id TEXT NOT NULL,
		created_at %s NOT NULL,
		section TEXT,
		model_version TEXT,
		input_tokens INTEGER,
		output_tokens INTEGER,
		total_tokens INTEGER,
		cost_per_million_input DOUBLE PRECISION,
		cost_per_million_output DOUBLE PRECISION,
		input_cost DOUBLE PRECISION,
		output_cost DOUBLE PRECISION,
		total_cost DOUBLE PRECISION
	);`, tsType)

	statusTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS report_status (
		request_id TEXT NOT NULL,
		created_at %s NOT NULL,
		status TEXT NOT NULL,
		message TEXT
	);`, tsType)

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_report_metrics_request ON report_metrics (request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_report_status_request ON report_status (request_id)`,
	}

	for _, stmt := range append([]string{metricsTable, statusTable}, indexes...) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLSink) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLSink) RecordMetric(ctx context.Context, row MetricRow) error {
	query := s.rebind(`
	INSERT INTO report_metrics
	(request_id, created_at, section, model_version, input_tokens, output_tokens, total_tokens,
	 cost_per_million_input, cost_per_million_output, input_cost, output_cost, total_cost)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		row.RequestID, row.Timestamp.UTC(), row.Section, row.ModelVersion,
		row.InputTokens, row.OutputTokens, row.TotalTokens,
		row.CostPerMillionInput, row.CostPerMillionOutput,
		row.InputCost, row.OutputCost, row.TotalCost,
	)
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}
	return nil
}

func (s *SQLSink) RecordStatus(ctx context.Context, entry StatusEntry) error {
	query := s.rebind(`INSERT INTO report_status (request_id, created_at, status, message) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, entry.RequestID, entry.Timestamp.UTC(), string(entry.Status), entry.Message); err != nil {
		return fmt.Errorf("failed to record status: %w", err)
	}
	return nil
}

func (s *SQLSink) Metrics(ctx context.Context, requestID string) ([]MetricRow, error) {
	query := `
	SELECT request_id, created_at, section, model_version, input_tokens, output_tokens, total_tokens,
	       cost_per_million_input, cost_per_million_output, input_cost, output_cost, total_cost
	FROM report_metrics`
	var args []any
	if requestID != "" {
		query += ` WHERE request_id = ?`
		args = append(args, requestID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var out []MetricRow
	for rows.Next() {
		var r MetricRow
		if err := rows.Scan(
			&r.RequestID, &r.Timestamp, &r.Section, &r.ModelVersion,
			&r.InputTokens, &r.OutputTokens, &r.TotalTokens,
			&r.CostPerMillionInput, &r.CostPerMillionOutput,
			&r.InputCost, &r.OutputCost, &r.TotalCost,
		); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLSink) Statuses(ctx context.Context, requestID string) ([]StatusEntry, error) {
	query := s.rebind(`SELECT request_id, created_at, status, message FROM report_status WHERE request_id = ? ORDER BY created_at`)
	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status log: %w", err)
	}
	defer rows.Close()

	var out []StatusEntry
	for rows.Next() {
		var e StatusEntry
		var status string
		var message sql.NullString
		if err := rows.Scan(&e.RequestID, &e.Timestamp, &status, &message); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		e.Status = Status(status)
		e.Message = message.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}
