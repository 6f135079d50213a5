package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

// ErrNotFound is returned when a requested report does not exist.
var ErrNotFound = errors.New("report not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the tables the store writes to. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS threat_models (
    project_id  TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    otm         JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS analysis_reports (
    id           UUID PRIMARY KEY,
    project_id   TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    total        INTEGER NOT NULL,
    critical     INTEGER NOT NULL,
    high         INTEGER NOT NULL,
    medium       INTEGER NOT NULL,
    low          INTEGER NOT NULL,
    diagnostics  JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS analysis_reports_project_idx ON analysis_reports (project_id, created_at DESC);
CREATE TABLE IF NOT EXISTS threats (
    id            TEXT PRIMARY KEY,
    report_id     UUID NOT NULL REFERENCES analysis_reports(id) ON DELETE CASCADE,
    position      INTEGER NOT NULL,
    rule_id       TEXT NOT NULL,
    title         TEXT NOT NULL,
    description   TEXT NOT NULL,
    severity      TEXT NOT NULL,
    status        TEXT NOT NULL,
    component_id  TEXT NOT NULL DEFAULT '',
    mitigation    TEXT NOT NULL DEFAULT ''
);
`

const (
	sqlUpsertModel = `
        INSERT INTO threat_models (project_id, name, otm, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (project_id) DO UPDATE SET
            name = EXCLUDED.name,
            otm = EXCLUDED.otm,
            updated_at = EXCLUDED.updated_at;
    `
	sqlInsertReport = `
        INSERT INTO analysis_reports (id, project_id, created_at, total, critical, high, medium, low, diagnostics)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `
	sqlSelectReport = `
        SELECT project_id, created_at, total, critical, high, medium, low, diagnostics
        FROM analysis_reports
        WHERE id = $1;
    `
	sqlSelectThreats = `
        SELECT id, rule_id, title, description, severity, status, component_id, mitigation
        FROM threats
        WHERE report_id = $1
        ORDER BY position ASC;
    `
	sqlListReports = `
        SELECT id, project_id, created_at, total, critical, high, medium, low
        FROM analysis_reports
        WHERE project_id = $1
        ORDER BY created_at DESC
        LIMIT $2;
    `
)

var threatColumns = []string{"id", "report_id", "position", "rule_id", "title", "description", "severity", "status", "component_id", "mitigation"}

// ReportRecord is the stored header of an analysis report.
type ReportRecord struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId"`
	CreatedAt time.Time       `json:"createdAt"`
	Summary   schemas.Summary `json:"summary"`
}

// Store persists threat models and analysis reports in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// Open connects a pgx pool to url and wraps it in a Store. Callers close the
// returned pool.
func Open(ctx context.Context, url string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// Migrate creates the schema when it is missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveAnalysis stores the report, its threats and, when given, the analyzed
// threat model in one transaction. It returns the generated report id.
func (s *Store) SaveAnalysis(ctx context.Context, project *schemas.Project, report *schemas.AnalysisReport) (string, error) {
	if report == nil {
		return "", errors.New("report is nil")
	}
	diagnostics, err := json.Marshal(nonNilDiagnostics(report.Diagnostics))
	if err != nil {
		return "", fmt.Errorf("failed to encode diagnostics: %w", err)
	}
	var model []byte
	if project != nil {
		if model, err = json.Marshal(project); err != nil {
			return "", fmt.Errorf("failed to encode threat model: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit returns ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	reportID := uuid.NewString()
	batch := &pgx.Batch{}
	if project != nil {
		batch.Queue(sqlUpsertModel, project.Project.ID, project.Project.Name, model, s.now().UTC())
	}
	sum := report.Summary
	batch.Queue(sqlInsertReport, reportID, report.ProjectID, report.Timestamp.UTC(),
		sum.Total, sum.Critical, sum.High, sum.Medium, sum.Low, diagnostics)

	if err := s.sendBatch(ctx, tx, batch); err != nil {
		return "", err
	}
	if err := s.persistThreats(ctx, tx, reportID, report.Threats); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Stored analysis report",
		zap.String("report_id", reportID),
		zap.String("project_id", report.ProjectID),
		zap.Int("threats", len(report.Threats)),
	)
	return reportID, nil
}

func (s *Store) sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to execute batch statement %d: %w", i, err)
		}
	}
	// The connection stays busy until the batch is closed.
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}
	return nil
}

func (s *Store) persistThreats(ctx context.Context, tx pgx.Tx, reportID string, threats []schemas.Threat) error {
	if len(threats) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(threats))
	for i, t := range threats {
		rows[i] = []interface{}{
			t.ID, reportID, i, t.RuleID, t.Title, t.Description,
			string(t.Severity), string(t.Status), t.ComponentID, t.Mitigation,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"threats"}, threatColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy threats: %w", err)
	}
	if int(copyCount) != len(threats) {
		return fmt.Errorf("mismatch in copied threats count: expected %d, got %d", len(threats), copyCount)
	}
	return nil
}

// GetReport loads a stored report with its threats in their original order.
func (s *Store) GetReport(ctx context.Context, reportID string) (*schemas.AnalysisReport, error) {
	report := &schemas.AnalysisReport{}
	var diagnostics []byte
	err := s.pool.QueryRow(ctx, sqlSelectReport, reportID).Scan(
		&report.ProjectID, &report.Timestamp,
		&report.Summary.Total, &report.Summary.Critical, &report.Summary.High,
		&report.Summary.Medium, &report.Summary.Low,
		&diagnostics,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	report.Timestamp = report.Timestamp.UTC()
	if len(diagnostics) > 0 {
		if err := json.Unmarshal(diagnostics, &report.Diagnostics); err != nil {
			return nil, fmt.Errorf("failed to decode diagnostics: %w", err)
		}
	}
	if len(report.Diagnostics) == 0 {
		report.Diagnostics = nil
	}

	rows, err := s.pool.Query(ctx, sqlSelectThreats, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query threats: %w", err)
	}
	defer rows.Close()

	report.Threats = []schemas.Threat{}
	for rows.Next() {
		var t schemas.Threat
		var severity, status string
		if err := rows.Scan(&t.ID, &t.RuleID, &t.Title, &t.Description, &severity, &status, &t.ComponentID, &t.Mitigation); err != nil {
			return nil, fmt.Errorf("failed to scan threat row: %w", err)
		}
		t.Severity = schemas.Severity(severity)
		t.Status = schemas.ThreatStatus(status)
		report.Threats = append(report.Threats, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return report, nil
}

// ListReports returns the newest report headers for a project.
func (s *Store) ListReports(ctx context.Context, projectID string, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlListReports, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var records []ReportRecord
	for rows.Next() {
		var r ReportRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.CreatedAt,
			&r.Summary.Total, &r.Summary.Critical, &r.Summary.High, &r.Summary.Medium, &r.Summary.Low); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

func nonNilDiagnostics(d []schemas.Diagnostic) []schemas.Diagnostic {
	if d == nil {
		return []schemas.Diagnostic{}
	}
	return d
}
