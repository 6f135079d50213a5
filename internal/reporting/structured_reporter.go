// internal/reporting/structured_reporter.go
package reporting

import (
	"fmt"
	"io"

	json "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

// JSONReporter writes each report as an indented JSON document.
type JSONReporter struct {
	writer io.WriteCloser
	enc    *json.Encoder
}

// NewJSONReporter creates a reporter that writes JSON.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	return &JSONReporter{writer: writer, enc: enc}
}

func (r *JSONReporter) Write(report *schemas.AnalysisReport) error {
	if err := r.enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode JSON report: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error {
	return r.writer.Close()
}

// YAMLReporter writes reports as a YAML document stream.
type YAMLReporter struct {
	writer io.WriteCloser
	enc    *yaml.Encoder
}

// NewYAMLReporter creates a reporter that writes YAML.
func NewYAMLReporter(writer io.WriteCloser) *YAMLReporter {
	enc := yaml.NewEncoder(writer)
	enc.SetIndent(2)
	return &YAMLReporter{writer: writer, enc: enc}
}

func (r *YAMLReporter) Write(report *schemas.AnalysisReport) error {
	if err := r.enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode YAML report: %w", err)
	}
	return nil
}

func (r *YAMLReporter) Close() error {
	encErr := r.enc.Close()
	closeErr := r.writer.Close()
	if encErr != nil {
		return fmt.Errorf("failed to flush YAML report: %w", encErr)
	}
	return closeErr
}
