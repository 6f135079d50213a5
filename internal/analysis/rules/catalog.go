// Package rules holds the fixed, hand-written security checks.
package rules

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/internal/analysis/core"
)

// DefaultCatalog builds the fixed rule set in its canonical order.
func DefaultCatalog(logger *zap.Logger) core.Catalog {
	return core.NewCatalog(
		NewUnencryptedStorageRule(logger),
		NewPublicZoneRule(logger),
		NewMissingOwnerRule(logger),
	)
}

// ConfiguredCatalog is DefaultCatalog minus the disabled rule ids. An id that
// names no fixed rule is logged and otherwise ignored.
func ConfiguredCatalog(logger *zap.Logger, disabled ...string) core.Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	catalog := DefaultCatalog(logger)
	for _, id := range disabled {
		if _, ok := catalog.Lookup(id); !ok {
			logger.Warn("Unknown rule in analysis.disabled_rules", zap.String("rule_id", id))
		}
	}
	return catalog.Without(disabled...)
}
