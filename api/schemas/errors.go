package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a structurally invalid graph entity or rule
// definition. It aborts the mapping call that produced it.
type ValidationError struct {
	Kind   string // "trustZone", "component", "dataflow", "project", "rule", ...
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid ")
	b.WriteString(e.Kind)
	if e.ID != "" {
		fmt.Fprintf(&b, " %q", e.ID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %s", e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// RuleConstructionError reports a declarative rule definition that could not
// be turned into an executable rule.
type RuleConstructionError struct {
	RuleID string
	Err    error
}

func (e *RuleConstructionError) Error() string {
	return fmt.Sprintf("failed to construct rule %q: %v", e.RuleID, e.Err)
}

func (e *RuleConstructionError) Unwrap() error { return e.Err }

// RuleExecutionError reports a rule whose check failed at runtime.
type RuleExecutionError struct {
	RuleID string
	Err    error
}

func (e *RuleExecutionError) Error() string {
	return fmt.Sprintf("rule %q failed: %v", e.RuleID, e.Err)
}

func (e *RuleExecutionError) Unwrap() error { return e.Err }

// -- Diagnostics --

// DiagnosticLevel grades how much a skipped item matters.
type DiagnosticLevel string

const (
	DiagnosticInfo    DiagnosticLevel = "info"
	DiagnosticWarning DiagnosticLevel = "warning"
	DiagnosticError   DiagnosticLevel = "error"
)

// Diagnostic records one item that was skipped or degraded while mapping a
// diagram or running an analysis, so callers can inspect what happened
// without relying on log output.
type Diagnostic struct {
	Level   DiagnosticLevel `json:"level" yaml:"level"`
	Source  string          `json:"source" yaml:"source"` // "node", "edge", "rule"
	ItemID  string          `json:"itemId,omitempty" yaml:"itemId,omitempty"`
	Message string          `json:"message" yaml:"message"`
	Err     error           `json:"-" yaml:"-"`
}

func (d Diagnostic) String() string {
	if d.ItemID == "" {
		return fmt.Sprintf("[%s] %s: %s", d.Level, d.Source, d.Message)
	}
	return fmt.Sprintf("[%s] %s %q: %s", d.Level, d.Source, d.ItemID, d.Message)
}

// RuleDiagnostic records a custom rule that was dropped before analysis. err
// is wrapped in a RuleConstructionError unless it already is one.
func RuleDiagnostic(ruleID string, err error) Diagnostic {
	var rce *RuleConstructionError
	if !errors.As(err, &rce) {
		err = &RuleConstructionError{RuleID: ruleID, Err: err}
	}
	return Diagnostic{
		Level:   DiagnosticError,
		Source:  "rule",
		ItemID:  ruleID,
		Message: err.Error(),
		Err:     err,
	}
}
