package rates

import "github.com/temirov/freightaudit/internal/normalize"

// Resolver walks its tiers in order and returns the first hit.
type Resolver struct {
	tiers []Tier
}

// NewResolver builds a resolver over an explicit tier order.
func NewResolver(tiers ...Tier) *Resolver {
	return &Resolver{tiers: append([]Tier(nil), tiers...)}
}

// DefaultTiers returns the standard chain: fixed fee, keyword, route, contract.
func DefaultTiers(source Catalog, locationIndex *normalize.LocationIndex) []Tier {
	return []Tier{
		NewFixedFeeTier(source, DefaultFixedFeeCharges()),
		NewKeywordTier(source),
		NewRouteTier(source, locationIndex),
		NewContractTier(source),
	}
}

// Tiers returns the tier order.
func (resolver *Resolver) Tiers() []Tier {
	return append([]Tier(nil), resolver.tiers...)
}

// Resolve returns nil when every tier misses. A zero rate is a valid hit.
func (resolver *Resolver) Resolve(description string, resolutionContext Context) *ReferenceRate {
	for _, tier := range resolver.tiers {
		if referenceRate, resolved := tier.TryResolve(description, resolutionContext); resolved {
			return &referenceRate
		}
	}
	return nil
}
