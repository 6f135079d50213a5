// internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/owenrumney/go-sarif/v2/sarif"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/observability"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName    = "tmscan"
	ToolInfoURI = "https://github.com/xkilldash9x/tmscan"
)

// SARIFReporter collects threats from every written report into a single
// SARIF 2.1.0 run and emits it on Close. It is safe for concurrent use.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	run    *sarif.Run
	// mu protects run and rules.
	mu    sync.Mutex
	rules map[string]bool
}

// NewSARIFReporter creates a reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string) *SARIFReporter {
	run := sarif.NewRunWithInformationURI(ToolName, ToolInfoURI)
	if toolVersion != "" {
		run.Tool.Driver.Version = &toolVersion
	}
	return &SARIFReporter{
		writer: writer,
		logger: observability.GetLogger().Named("sarif_reporter"),
		run:    run,
		rules:  make(map[string]bool),
	}
}

// Write converts every threat of the report into a SARIF result.
func (r *SARIFReporter) Write(report *schemas.AnalysisReport) error {
	if report == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, threat := range report.Threats {
		r.ensureRule(threat)
		result := sarif.NewRuleResult(threat.RuleID).
			WithMessage(sarif.NewTextMessage(threat.Description)).
			WithLevel(sarifLevel(threat.Severity)).
			WithLocations([]*sarif.Location{threatLocation(report.ProjectID, threat)})
		r.run.AddResult(result)
	}

	r.logger.Debug("Wrote threats to SARIF buffer",
		zap.String("project_id", report.ProjectID),
		zap.Int("threats", len(report.Threats)),
	)
	return nil
}

// ensureRule registers a rule descriptor the first time a rule id is seen.
// Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(threat schemas.Threat) {
	if r.rules[threat.RuleID] {
		return
	}
	r.rules[threat.RuleID] = true

	description := threat.Title
	if threat.Mitigation != "" {
		description = fmt.Sprintf("%s. Mitigation: %s", threat.Title, threat.Mitigation)
	}
	r.run.AddRule(threat.RuleID).
		WithDescription(description).
		WithDefaultConfiguration(&sarif.ReportingConfiguration{
			Level: sarifLevel(threat.Severity),
		})
}

// Close writes the SARIF log and closes the output writer.
func (r *SARIFReporter) Close() error {
	start := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	report, err := sarif.New(sarif.Version210)
	if err != nil {
		_ = r.writer.Close()
		return fmt.Errorf("failed to create SARIF report: %w", err)
	}
	report.AddRun(r.run)

	writeErr := report.PrettyWrite(r.writer)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if writeErr != nil {
		r.logger.Error("Failed to encode SARIF log", zap.Error(writeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", writeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Debug("Wrote SARIF report",
		zap.Int("results", len(r.run.Results)),
		zap.Int("rules", len(r.rules)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// threatLocation points at the flagged entity inside the threat model.
func threatLocation(projectID string, threat schemas.Threat) *sarif.Location {
	uri := "otm://" + projectID
	if threat.ComponentID != "" {
		uri += "/" + threat.ComponentID
	}
	return sarif.NewLocation().WithPhysicalLocation(
		sarif.NewPhysicalLocation().
			WithArtifactLocation(sarif.NewArtifactLocation().WithUri(uri)),
	)
}

// sarifLevel maps a threat severity onto the SARIF result levels.
func sarifLevel(severity schemas.Severity) string {
	switch schemas.Severity(strings.ToLower(string(severity))) {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return "error"
	case schemas.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}
