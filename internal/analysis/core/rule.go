package core

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/api/schemas"
)

// RuleKind distinguishes hand-written checks from data-driven ones.
type RuleKind string

const (
	// KindFixed rules are compiled into the binary.
	KindFixed RuleKind = "FIXED"
	// KindDeclarative rules are interpreted from a RuleDefinition.
	KindDeclarative RuleKind = "DECLARATIVE"
)

// Rule is the contract every security check implements. The orchestrator
// only ever sees this interface, so fixed and declarative rules are run the
// same way.
//
// Check must treat the project as read-only; rules run concurrently against
// the same instance.
type Rule interface {
	ID() string
	Title() string
	Severity() schemas.Severity
	Kind() RuleKind
	Check(ctx context.Context, project *schemas.Project) ([]schemas.Threat, error)
}

// BaseRule carries the identity shared by all rule implementations and is
// meant to be embedded.
type BaseRule struct {
	id       string
	title    string
	severity schemas.Severity
	kind     RuleKind
	Logger   *zap.Logger // Exposed for use in specific rule implementations.
}

// NewBaseRule creates a BaseRule with a logger named after the rule id.
func NewBaseRule(id, title string, severity schemas.Severity, kind RuleKind, logger *zap.Logger) *BaseRule {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseRule{
		id:       id,
		title:    title,
		severity: severity,
		kind:     kind,
		Logger:   logger.Named(id),
	}
}

// ID returns the rule identifier, e.g. "RULE-001".
func (b *BaseRule) ID() string {
	return b.id
}

// Title returns the human-readable rule title.
func (b *BaseRule) Title() string {
	return b.title
}

// Severity returns the severity of every threat the rule emits.
func (b *BaseRule) Severity() schemas.Severity {
	return b.severity
}

// Kind returns whether the rule is fixed or declarative.
func (b *BaseRule) Kind() RuleKind {
	return b.kind
}

// NewThreat builds an open finding for this rule with a fresh identifier.
func (b *BaseRule) NewThreat(componentID, description, mitigation string) schemas.Threat {
	return NewThreat(b.id, b.title, b.severity, componentID, description, mitigation)
}

// NewThreat builds an open finding with a fresh UUIDv4 identifier.
func NewThreat(ruleID, title string, severity schemas.Severity, componentID, description, mitigation string) schemas.Threat {
	return schemas.Threat{
		ID:          uuid.NewString(),
		RuleID:      ruleID,
		Title:       title,
		Description: description,
		Severity:    severity,
		Status:      schemas.StatusOpen,
		ComponentID: componentID,
		Mitigation:  mitigation,
	}
}

// RenderDescription substitutes every "{name}" placeholder.
func RenderDescription(template, name string) string {
	return strings.ReplaceAll(template, "{name}", name)
}
