// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

// Format names an output encoding for analysis reports.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatSARIF Format = "sarif"
	FormatText  Format = "text"
)

// Formats lists every supported output format.
var Formats = []Format{FormatJSON, FormatYAML, FormatSARIF, FormatText}

// ParseFormat resolves a user supplied format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format: %s", s)
}

// Reporter writes analysis reports to an output.
type Reporter interface {
	// Write processes a single analysis report.
	Write(report *schemas.AnalysisReport) error
	// Close finalizes the output and closes the underlying writer.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// NopCloser adapts a plain writer for reporters that own their output.
func NopCloser(w io.Writer) io.WriteCloser {
	return &nopWriteCloser{w}
}

// New creates a reporter for the given format, writing to outputPath or
// stdout when the path is empty or "stdout".
func New(format, outputPath, toolVersion string) (Reporter, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = NopCloser(os.Stdout)
	} else {
		file, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = file
	}
	return NewWithWriter(f, writer, toolVersion), nil
}

// NewWithWriter creates a reporter that takes ownership of writer.
func NewWithWriter(format Format, writer io.WriteCloser, toolVersion string) Reporter {
	switch format {
	case FormatYAML:
		return NewYAMLReporter(writer)
	case FormatSARIF:
		return NewSARIFReporter(writer, toolVersion)
	case FormatText:
		return NewTextReporter(writer)
	default:
		return NewJSONReporter(writer)
	}
}
