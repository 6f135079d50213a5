package rules

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/analysis/core"
)

const (
	PublicZoneID    = "RULE-002"
	publicZoneTitle = "High Risk Public Zone"
	zoneMitigation  = "Verify that this zone is intentionally untrusted (e.g. Public Internet) and all ingress is filtered."

	// lowTrustThreshold is the rating below which a zone is considered public.
	lowTrustThreshold = 20
)

// PublicZoneRule flags trust zones with very low confidentiality or
// integrity ratings.
type PublicZoneRule struct {
	*core.BaseRule
}

// NewPublicZoneRule creates RULE-002.
func NewPublicZoneRule(logger *zap.Logger) *PublicZoneRule {
	return &PublicZoneRule{
		BaseRule: core.NewBaseRule(PublicZoneID, publicZoneTitle, schemas.SeverityMedium, core.KindFixed, logger),
	}
}

// Check implements core.Rule.
func (r *PublicZoneRule) Check(ctx context.Context, project *schemas.Project) ([]schemas.Threat, error) {
	var threats []schemas.Threat
	for i := range project.TrustZones {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tz := &project.TrustZones[i]
		if tz.Risk.Confidentiality >= lowTrustThreshold && tz.Risk.Integrity >= lowTrustThreshold {
			continue
		}
		threats = append(threats, r.NewThreat(
			tz.ID,
			fmt.Sprintf("Trust Zone '%s' has very low trust ratings. Ensure strict boundaries.", tz.Name),
			zoneMitigation,
		))
	}
	return threats, nil
}
