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
	UnencryptedStorageID    = "RULE-001"
	unencryptedStorageTitle = "Unencrypted Data Storage"
	storageMitigation       = "Enable server-side encryption for this data store."
)

// storageTypes are the component types treated as data stores.
var storageTypes = map[string]struct{}{
	"database": {},
	"storage":  {},
	"s3":       {},
}

// UnencryptedStorageRule flags data stores that do not declare encryption.
type UnencryptedStorageRule struct {
	*core.BaseRule
}

// NewUnencryptedStorageRule creates RULE-001.
func NewUnencryptedStorageRule(logger *zap.Logger) *UnencryptedStorageRule {
	return &UnencryptedStorageRule{
		BaseRule: core.NewBaseRule(UnencryptedStorageID, unencryptedStorageTitle, schemas.SeverityHigh, core.KindFixed, logger),
	}
}

// Check implements core.Rule.
func (r *UnencryptedStorageRule) Check(ctx context.Context, project *schemas.Project) ([]schemas.Threat, error) {
	var threats []schemas.Threat
	for i := range project.Components {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		comp := &project.Components[i]
		if _, ok := storageTypes[comp.Type]; !ok {
			continue
		}
		if isEncrypted(comp.Attributes) {
			continue
		}
		r.Logger.Debug("Data store without encryption", zap.String("component_id", comp.ID))
		threats = append(threats, r.NewThreat(
			comp.ID,
			fmt.Sprintf("Component '%s' (%s) does not appear to have encryption enabled.", comp.Name, comp.Type),
			storageMitigation,
		))
	}
	return threats, nil
}

// isEncrypted looks up "encrypted" with case-insensitive keys. Only a value
// that stringifies to "true" (any case) counts.
func isEncrypted(attrs schemas.Attributes) bool {
	for k, v := range attrs {
		if strings.ToLower(k) != "encrypted" {
			continue
		}
		if strings.ToLower(v.String()) == "true" {
			return true
		}
	}
	return false
}
