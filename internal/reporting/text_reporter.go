// internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

// TextReporter renders a human readable summary. Colors are only emitted when
// the writer is a terminal that supports them.
type TextReporter struct {
	writer io.WriteCloser
	styles textStyles
}

type textStyles struct {
	title    lipgloss.Style
	summary  lipgloss.Style
	muted    lipgloss.Style
	severity map[schemas.Severity]lipgloss.Style
}

func newTextStyles(r *lipgloss.Renderer) textStyles {
	return textStyles{
		title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FFFF")),
		summary: r.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#666666")).
			Padding(0, 1),
		muted: r.NewStyle().Foreground(lipgloss.Color("#888888")),
		severity: map[schemas.Severity]lipgloss.Style{
			schemas.SeverityCritical: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF00FF")),
			schemas.SeverityHigh:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000")),
			schemas.SeverityMedium:   r.NewStyle().Foreground(lipgloss.Color("#FFAA00")),
			schemas.SeverityLow:      r.NewStyle().Foreground(lipgloss.Color("#00AAFF")),
		},
	}
}

// NewTextReporter creates a reporter that writes plain or styled text.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{
		writer: writer,
		styles: newTextStyles(lipgloss.NewRenderer(writer)),
	}
}

func (r *TextReporter) Write(report *schemas.AnalysisReport) error {
	if report == nil {
		return nil
	}
	_, err := io.WriteString(r.writer, r.render(report))
	return err
}

func (r *TextReporter) Close() error {
	return r.writer.Close()
}

func (r *TextReporter) render(report *schemas.AnalysisReport) string {
	var b strings.Builder
	s := r.styles

	b.WriteString(s.title.Render(fmt.Sprintf("Threat analysis for %s", report.ProjectID)))
	b.WriteString("\n")
	b.WriteString(s.muted.Render(report.Timestamp.Format("2006-01-02 15:04:05 MST")))
	b.WriteString("\n\n")

	if len(report.Threats) == 0 {
		b.WriteString("No threats found.\n")
	}
	for _, t := range report.Threats {
		label := fmt.Sprintf("%-8s", strings.ToUpper(string(t.Severity)))
		if style, ok := s.severity[t.Severity]; ok {
			label = style.Render(label)
		}
		target := ""
		if t.ComponentID != "" {
			target = " " + s.muted.Render("["+t.ComponentID+"]")
		}
		fmt.Fprintf(&b, "%s %s %s%s\n", label, t.RuleID, t.Title, target)
		fmt.Fprintf(&b, "         %s\n", t.Description)
		if t.Mitigation != "" {
			fmt.Fprintf(&b, "         %s %s\n", s.muted.Render("Mitigation:"), t.Mitigation)
		}
	}

	sum := report.Summary
	b.WriteString("\n")
	b.WriteString(s.summary.Render(fmt.Sprintf("Total %d  critical %d  high %d  medium %d  low %d",
		sum.Total, sum.Critical, sum.High, sum.Medium, sum.Low)))
	b.WriteString("\n")

	if len(report.Diagnostics) > 0 {
		b.WriteString("\n")
		b.WriteString(s.muted.Render("Diagnostics:"))
		b.WriteString("\n")
		for _, d := range report.Diagnostics {
			fmt.Fprintf(&b, "  %s\n", d.String())
		}
	}
	return b.String()
}
