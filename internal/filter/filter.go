package filter

import (
	"github.com/mirrorlabs/insider-mirror/internal/config"
	"github.com/mirrorlabs/insider-mirror/internal/model"
)

// Criteria is the significance threshold set. Exclusion wins over
// inclusion: a type present in both sets is rejected.
type Criteria struct {
	MinValue      float64
	MinShares     int64
	AllowedTypes  map[model.TransactionType]struct{}
	ExcludedTypes map[model.TransactionType]struct{}
}

func CriteriaFromConfig(cfg config.FilterConfig) Criteria {
	return Criteria{
		MinValue:      cfg.MinValue,
		MinShares:     cfg.MinShares,
		AllowedTypes:  typeSet(cfg.AllowedTypes),
		ExcludedTypes: typeSet(cfg.ExcludedTypes),
	}
}

func typeSet(names []string) map[model.TransactionType]struct{} {
	set := make(map[model.TransactionType]struct{}, len(names))
	for _, n := range names {
		set[model.ParseTransactionType(n)] = struct{}{}
	}
	return set
}

// Apply reduces a batch to the trades worth mirroring. Pure and stable: the
// output preserves input order, so repeated same-symbol filings execute in
// filing order downstream. Applying it to its own output is a no-op.
func Apply(trades []model.Trade, criteria Criteria) []model.SignificantTrade {
	significant := make([]model.SignificantTrade, 0, len(trades))
	for _, t := range trades {
		if !passes(t, criteria) {
			continue
		}
		significant = append(significant, model.SignificantTrade{Trade: t})
	}
	return significant
}

func passes(t model.Trade, c Criteria) bool {
	if _, excluded := c.ExcludedTypes[t.Type]; excluded {
		return false
	}
	if _, allowed := c.AllowedTypes[t.Type]; !allowed {
		return false
	}
	return t.Value() >= c.MinValue && t.Shares >= c.MinShares
}
