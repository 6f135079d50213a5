package rules

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/analysis/core"
)

const (
	MissingOwnerID    = "RULE-003"
	missingOwnerTitle = "Missing Component Owner"
	ownerMitigation   = "Add an 'owner:team-name' tag to facilitate incident response."
	ownerTagPrefix    = "owner:"
)

// MissingOwnerRule flags components without an "owner:" tag.
type MissingOwnerRule struct {
	*core.BaseRule
}

// NewMissingOwnerRule creates RULE-003.
func NewMissingOwnerRule(logger *zap.Logger) *MissingOwnerRule {
	return &MissingOwnerRule{
		BaseRule: core.NewBaseRule(MissingOwnerID, missingOwnerTitle, schemas.SeverityLow, core.KindFixed, logger),
	}
}

// Check implements core.Rule.
func (r *MissingOwnerRule) Check(ctx context.Context, project *schemas.Project) ([]schemas.Threat, error) {
	var threats []schemas.Threat
	for i := range project.Components {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		comp := &project.Components[i]
		if hasOwner(comp.Tags) {
			continue
		}
		threats = append(threats, r.NewThreat(
			comp.ID,
			fmt.Sprintf("Component '%s' is missing an 'owner:...' tag.", comp.Name),
			ownerMitigation,
		))
	}
	return threats, nil
}

func hasOwner(tags []string) bool {
	for _, tag := range tags {
		if strings.HasPrefix(tag, ownerTagPrefix) {
			return true
		}
	}
	return false
}
