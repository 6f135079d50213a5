package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

var anyValue = ArgumentMatcherFunc(func(interface{}) bool { return true })

var testTime = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleReport() *schemas.AnalysisReport {
	threats := []schemas.Threat{
		{ID: "t1", RuleID: "RULE-001", Title: "Unencrypted", Description: "d1", Severity: schemas.SeverityHigh, Status: schemas.StatusOpen, ComponentID: "db", Mitigation: "m1"},
		{ID: "t2", RuleID: "RULE-002", Title: "Public", Description: "d2", Severity: schemas.SeverityMedium, Status: schemas.StatusOpen, ComponentID: "public"},
	}
	return &schemas.AnalysisReport{
		ProjectID: "proj-1",
		Timestamp: testTime,
		Threats:   threats,
		Summary:   schemas.Summarize(threats),
	}
}

func TestNewStore(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	s, mockPool := newMockStore(t, nil)
	mockPool.ExpectExec(flexibleSQLMatcher(Schema)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveAnalysis(t *testing.T) {
	ctx := context.Background()

	t.Run("stores model, report and threats in one transaction", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(core))
		project := &schemas.Project{
			OTMVersion: schemas.OTMVersion,
			Project:    schemas.ProjectInfo{ID: "proj-1", Name: "Shop"},
		}
		report := sampleReport()

		mockPool.ExpectBegin()
		batch := mockPool.ExpectBatch()
		batch.ExpectExec(flexibleSQLMatcher(sqlUpsertModel)).
			WithArgs("proj-1", "Shop", anyValue, anyValue).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		batch.ExpectExec(flexibleSQLMatcher(sqlInsertReport)).
			WithArgs(anyValue, "proj-1", testTime, 2, 0, 1, 1, 0, anyValue).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"threats"}, threatColumns).WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		id, err := s.SaveAnalysis(ctx, project, report)
		require.NoError(t, err)
		assert.Len(t, id, 36)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, logs.All(), "no errors logged after a successful commit")
	})

	t.Run("report without threats or model skips the copy", func(t *testing.T) {
		s, mockPool := newMockStore(t, nil)
		report := &schemas.AnalysisReport{ProjectID: "p", Timestamp: testTime, Threats: []schemas.Threat{}}

		mockPool.ExpectBegin()
		mockPool.ExpectBatch().ExpectExec(flexibleSQLMatcher(sqlInsertReport)).
			WithArgs(anyValue, "p", testTime, 0, 0, 0, 0, 0, []byte("[]")).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		_, err := s.SaveAnalysis(ctx, nil, report)
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("copy mismatch rolls back", func(t *testing.T) {
		s, mockPool := newMockStore(t, nil)

		mockPool.ExpectBegin()
		mockPool.ExpectBatch().ExpectExec(flexibleSQLMatcher(sqlInsertReport)).
			WithArgs(anyValue, "proj-1", testTime, 2, 0, 1, 1, 0, anyValue).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"threats"}, threatColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		_, err := s.SaveAnalysis(ctx, nil, sampleReport())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied threats count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		s, mockPool := newMockStore(t, nil)
		mockPool.ExpectBegin().WillReturnError(errors.New("no connection"))

		_, err := s.SaveAnalysis(ctx, nil, sampleReport())
		assert.ErrorContains(t, err, "failed to begin transaction")
	})

	t.Run("nil report", func(t *testing.T) {
		s, _ := newMockStore(t, nil)
		_, err := s.SaveAnalysis(ctx, nil, nil)
		assert.Error(t, err)
	})
}

func TestGetReport(t *testing.T) {
	ctx := context.Background()

	t.Run("loads header and ordered threats", func(t *testing.T) {
		s, mockPool := newMockStore(t, nil)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectReport)).WithArgs("r-1").
			WillReturnRows(pgxmock.NewRows([]string{"project_id", "created_at", "total", "critical", "high", "medium", "low", "diagnostics"}).
				AddRow("proj-1", testTime, 2, 0, 1, 1, 0, []byte(`[{"level":"error","source":"rule","itemId":"BROKEN","message":"bad"}]`)))
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectThreats)).WithArgs("r-1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "rule_id", "title", "description", "severity", "status", "component_id", "mitigation"}).
				AddRow("t1", "RULE-001", "Unencrypted", "d1", "high", "open", "db", "m1").
				AddRow("t2", "RULE-002", "Public", "d2", "medium", "open", "public", ""))

		report, err := s.GetReport(ctx, "r-1")
		require.NoError(t, err)
		expected := sampleReport()
		assert.Equal(t, expected.ProjectID, report.ProjectID)
		assert.Equal(t, expected.Summary, report.Summary)
		assert.Equal(t, expected.Threats, report.Threats)
		require.Len(t, report.Diagnostics, 1)
		assert.Equal(t, "BROKEN", report.Diagnostics[0].ItemID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("missing report", func(t *testing.T) {
		s, mockPool := newMockStore(t, nil)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectReport)).WithArgs("nope").
			WillReturnRows(pgxmock.NewRows([]string{"project_id"}))

		_, err := s.GetReport(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListReports(t *testing.T) {
	s, mockPool := newMockStore(t, nil)
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlListReports)).WithArgs("proj-1", 20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "created_at", "total", "critical", "high", "medium", "low"}).
			AddRow("r-2", "proj-1", testTime.Add(time.Hour), 1, 0, 0, 1, 0).
			AddRow("r-1", "proj-1", testTime, 2, 0, 1, 1, 0))

	records, err := s.ListReports(context.Background(), "proj-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r-2", records[0].ID)
	assert.Equal(t, schemas.Summary{Total: 2, High: 1, Medium: 1}, records[1].Summary)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
