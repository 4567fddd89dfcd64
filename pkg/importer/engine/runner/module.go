package runner

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/quayside/groupage/pkg/importer/core/config"
	"github.com/quayside/groupage/pkg/importer/engine/grouping"
	"github.com/quayside/groupage/pkg/importer/entity/order"
	"github.com/quayside/groupage/pkg/importer/entity/sku"
)

// NewRuleSet selects the rule set named by the configured entity kind.
func NewRuleSet(cfg *config.Config) (grouping.RuleSet, error) {
	kind := cfg.Groupage.Import.EntityKind
	switch kind {
	case order.EntityKind:
		return order.NewRules(), nil
	case sku.EntityKind:
		return sku.NewRules(), nil
	default:
		return nil, fmt.Errorf("unknown entity kind '%s' (expected '%s' or '%s')", kind, order.EntityKind, sku.EntityKind)
	}
}

// Module is an Fx module that provides the configured rule set and the Importer.
var Module = fx.Options(
	fx.Provide(NewRuleSet),
	fx.Provide(NewImporter),
)
