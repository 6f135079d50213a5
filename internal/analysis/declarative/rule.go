// Package declarative interprets data-driven rule definitions against the
// entities of a threat model.
package declarative

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/analysis/core"
)

// Rule is an executable RuleDefinition.
type Rule struct {
	*core.BaseRule
	def      schemas.RuleDefinition
	target   schemas.Target
	resolver FieldResolver
}

// New validates def and compiles it into a Rule. Failures are returned as
// *schemas.RuleConstructionError.
func New(def schemas.RuleDefinition, logger *zap.Logger) (*Rule, error) {
	if err := def.Validate(); err != nil {
		return nil, &schemas.RuleConstructionError{RuleID: def.ID, Err: err}
	}
	for i, c := range def.Criteria {
		if _, ok := matchers[c.Operator.Normalize()]; !ok {
			return nil, &schemas.RuleConstructionError{
				RuleID: def.ID,
				Err:    fmt.Errorf("criterion %d: unsupported operator %q", i, c.Operator),
			}
		}
	}
	return &Rule{
		BaseRule: core.NewBaseRule(def.ID, def.Title, def.Severity, core.KindDeclarative, logger),
		def:      def,
		target:   def.Target.Normalize(),
	}, nil
}

// Check implements core.Rule. Threats follow the entity order of the
// targeted collection.
func (r *Rule) Check(ctx context.Context, project *schemas.Project) ([]schemas.Threat, error) {
	var threats []schemas.Threat
	for _, entity := range r.entities(project) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.Matches(entity) {
			continue
		}
		threats = append(threats, r.NewThreat(
			entity.EntityID(),
			core.RenderDescription(r.def.Description, entity.EntityName()),
			r.def.Mitigation,
		))
	}
	r.Logger.Debug("Declarative rule evaluated", zap.Int("matches", len(threats)))
	return threats, nil
}

// Matches reports whether every criterion holds for entity. An empty
// criteria list matches everything.
func (r *Rule) Matches(entity schemas.GraphEntity) bool {
	for _, c := range r.def.Criteria {
		resolved := r.resolver.Resolve(entity, c.Field)
		if !Match(c.Operator, resolved, c.Value) {
			return false
		}
	}
	return true
}

func (r *Rule) entities(project *schemas.Project) []schemas.GraphEntity {
	switch r.target {
	case schemas.TargetTrustZone:
		out := make([]schemas.GraphEntity, len(project.TrustZones))
		for i := range project.TrustZones {
			out[i] = &project.TrustZones[i]
		}
		return out
	default:
		out := make([]schemas.GraphEntity, len(project.Components))
		for i := range project.Components {
			out[i] = &project.Components[i]
		}
		return out
	}
}
