package schemas

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// -- Declarative Rule Schemas --

// Operator is the comparison applied by a rule criterion.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpMissing     Operator = "missing"
	OpExists      Operator = "exists"
)

// Valid reports whether op belongs to the closed operator set. The empty
// operator is valid and means equals.
func (op Operator) Valid() bool {
	switch op {
	case "", OpEquals, OpNotEquals, OpContains, OpNotContains, OpMissing, OpExists:
		return true
	}
	return false
}

// Normalize maps the empty operator to OpEquals.
func (op Operator) Normalize() Operator {
	if op == "" {
		return OpEquals
	}
	return op
}

// Target selects which entity collection a declarative rule inspects.
type Target string

const (
	TargetComponent Target = "component"
	TargetTrustZone Target = "trustZone"
)

// Normalize maps the empty target to TargetComponent.
func (t Target) Normalize() Target {
	if t == "" {
		return TargetComponent
	}
	return t
}

// RuleCriterion is one condition of a declarative rule.
type RuleCriterion struct {
	// Field is a dotted path such as "type" or "attributes.encrypted".
	Field    string   `json:"field" yaml:"field" validate:"required"`
	Operator Operator `json:"operator,omitempty" yaml:"operator,omitempty" validate:"omitempty,oneof=equals not_equals contains not_contains missing exists"`
	Value    Value    `json:"value,omitempty" yaml:"value,omitempty"`
}

// RuleDefinition is a security check expressed as data. Criteria are joined
// with logical AND.
type RuleDefinition struct {
	ID          string          `json:"id" yaml:"id" validate:"required"`
	Title       string          `json:"title" yaml:"title" validate:"required"`
	Severity    Severity        `json:"severity" yaml:"severity" validate:"oneof=low medium high critical"`
	Description string          `json:"description" yaml:"description"`
	Mitigation  string          `json:"mitigation,omitempty" yaml:"mitigation,omitempty"`
	Target      Target          `json:"target,omitempty" yaml:"target,omitempty" validate:"omitempty,oneof=component trustZone"`
	Criteria    []RuleCriterion `json:"criteria" yaml:"criteria" validate:"dive"`
}

// Validate checks the definition against its closed sets.
func (d *RuleDefinition) Validate() error {
	return validateEntity("rule", d.ID, d)
}

// UnmarshalJSON accepts the severity in any letter case, as editors send
// "High" as often as "high".
func (d *RuleDefinition) UnmarshalJSON(data []byte) error {
	type plain RuleDefinition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = RuleDefinition(p)
	d.normalize()
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for rule files.
func (d *RuleDefinition) UnmarshalYAML(node *yaml.Node) error {
	type plain RuleDefinition
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*d = RuleDefinition(p)
	d.normalize()
	return nil
}

func (d *RuleDefinition) normalize() {
	d.Severity = Severity(strings.ToLower(strings.TrimSpace(string(d.Severity))))
	for i := range d.Criteria {
		d.Criteria[i].Operator = Operator(strings.ToLower(strings.TrimSpace(string(d.Criteria[i].Operator))))
	}
}

// DecodeRuleDefinitions decodes each element of a JSON rule list on its own.
// An element that does not decode is dropped and reported as a rule
// diagnostic; the others are kept.
func DecodeRuleDefinitions(items []json.RawMessage) ([]RuleDefinition, []Diagnostic) {
	defs := make([]RuleDefinition, 0, len(items))
	var diags []Diagnostic
	for i, item := range items {
		var def RuleDefinition
		if err := json.Unmarshal(item, &def); err != nil {
			diags = append(diags, RuleDiagnostic(ruleIDOf(item), fmt.Errorf("rule #%d could not be decoded: %w", i, err)))
			continue
		}
		defs = append(defs, def)
	}
	return defs, diags
}

// ruleIDOf recovers the id of a rule that failed to decode, if it has one.
func ruleIDOf(item json.RawMessage) string {
	var ref struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(item, &ref)
	return ref.ID
}
