// internal/reporting/reporter_test.go
package reporting_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/reporting"
)

const testToolVersion = "v1.0.0-test"

func sampleReport() *schemas.AnalysisReport {
	threats := []schemas.Threat{
		{
			ID: "t1", RuleID: "RULE-001", Title: "Unencrypted Data Storage",
			Description: "Database 'Orders DB' stores data without encryption.",
			Severity:    schemas.SeverityHigh, Status: schemas.StatusOpen,
			ComponentID: "orders-db", Mitigation: "Enable encryption at rest.",
		},
		{
			ID: "t2", RuleID: "RULE-002", Title: "Public Zone", Description: "Zone 'Public' is exposed.",
			Severity: schemas.SeverityMedium, Status: schemas.StatusOpen, ComponentID: "public",
		},
		{
			ID: "t3", RuleID: "RULE-003", Title: "Missing Owner", Description: "No owner.",
			Severity: schemas.SeverityLow, Status: schemas.StatusOpen, ComponentID: "orders-db",
		},
	}
	return &schemas.AnalysisReport{
		ProjectID: "proj-1",
		Timestamp: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		Threats:   threats,
		Summary:   schemas.Summarize(threats),
	}
}

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"json", "JSON", " yaml ", "sarif", "Text"} {
		f, err := reporting.ParseFormat(in)
		require.NoError(t, err, in)
		assert.Contains(t, reporting.Formats, f)
	}
	_, err := reporting.ParseFormat("xml")
	assert.EqualError(t, err, "unsupported output format: xml")
}

func TestNew_Stdout(t *testing.T) {
	for _, path := range []string{"stdout", ""} {
		r, err := reporting.New("sarif", path, testToolVersion)
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.IsType(t, &reporting.SARIFReporter{}, r)
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	r, err := reporting.New("json", path, testToolVersion)
	require.NoError(t, err)

	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "proj-1", decoded["projectId"])
}

func TestNew_Failures(t *testing.T) {
	r, err := reporting.New("invalid-format", "stdout", testToolVersion)
	assert.Nil(t, r)
	assert.ErrorContains(t, err, "unsupported output format: invalid-format")

	// The format is checked before any file is created.
	path := filepath.Join(t.TempDir(), "never.txt")
	_, err = reporting.New("xml", path, testToolVersion)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	_, err = reporting.New("json", filepath.Join(t.TempDir(), "missing", "dir", "out.json"), testToolVersion)
	assert.ErrorContains(t, err, "failed to create output file")
}

func TestJSONReporter(t *testing.T) {
	writer := newMockWriter()
	r := reporting.NewWithWriter(reporting.FormatJSON, writer, testToolVersion)
	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())

	var decoded struct {
		ProjectID string           `json:"projectId"`
		Timestamp time.Time        `json:"timestamp"`
		Threats   []schemas.Threat `json:"threats"`
		Summary   schemas.Summary  `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(writer.Buffer.Bytes(), &decoded))
	assert.Equal(t, "proj-1", decoded.ProjectID)
	assert.Equal(t, sampleReport().Timestamp, decoded.Timestamp)
	assert.Equal(t, sampleReport().Threats, decoded.Threats)
	assert.Equal(t, schemas.Summary{Total: 3, High: 1, Medium: 1, Low: 1}, decoded.Summary)
	assert.True(t, writer.Closed)
}

func TestYAMLReporter(t *testing.T) {
	writer := newMockWriter()
	r := reporting.NewWithWriter(reporting.FormatYAML, writer, testToolVersion)
	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(writer.Buffer.Bytes(), &decoded))
	assert.Equal(t, "proj-1", decoded["projectId"])
	threats, ok := decoded["threats"].([]interface{})
	require.True(t, ok)
	assert.Len(t, threats, 3)
}

func TestTextReporter(t *testing.T) {
	var buf bytes.Buffer
	r := reporting.NewTextReporter(reporting.NopCloser(&buf))
	report := sampleReport()
	report.Diagnostics = []schemas.Diagnostic{{
		Level: schemas.DiagnosticError, Source: "rule", ItemID: "BROKEN", Message: "invalid rule",
	}}
	require.NoError(t, r.Write(report))
	require.NoError(t, r.Close())

	out := buf.String()
	assert.NotContains(t, out, "\x1b[", "no escape codes for a non-terminal writer")
	assert.Contains(t, out, "Threat analysis for proj-1")
	assert.Contains(t, out, "HIGH     RULE-001 Unencrypted Data Storage [orders-db]")
	assert.Contains(t, out, "Mitigation: Enable encryption at rest.")
	assert.Contains(t, out, "Total 3  critical 0  high 1  medium 1  low 1")
	assert.Contains(t, out, `[error] rule "BROKEN": invalid rule`)
}

func TestTextReporter_NoThreats(t *testing.T) {
	var buf bytes.Buffer
	r := reporting.NewTextReporter(reporting.NopCloser(&buf))
	require.NoError(t, r.Write(&schemas.AnalysisReport{ProjectID: "empty"}))
	assert.True(t, strings.Contains(buf.String(), "No threats found."))
}
