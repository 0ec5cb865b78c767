package rates

import (
	"regexp"
	"strings"

	"github.com/temirov/freightaudit/internal/catalog"
	"github.com/temirov/freightaudit/internal/normalize"
)

// Fixed-fee charge codes as they appear in the catalog fixed_fees table.
const (
	FixedFeeCodeDeliveryOrder    = "delivery_order"
	FixedFeeCodeCustomsClearance = "customs_clearance"
	FixedFeeCodePortal           = "portal"
	FixedFeeCodeAppointment      = "appointment"
)

const (
	fixedFeeTierNameConstant = "fixed-fee"
	keywordTierNameConstant  = "keyword"
	routeTierNameConstant    = "route"
	contractTierNameConstant = "contract-general"
)

// FixedFeeCharge is one well-known charge type recognized by keyword.
type FixedFeeCharge struct {
	Code     string
	Keywords []string
}

// DefaultFixedFeeCharges returns the fixed registry of well-known charge types in match order.
func DefaultFixedFeeCharges() []FixedFeeCharge {
	return []FixedFeeCharge{
		{Code: FixedFeeCodeDeliveryOrder, Keywords: []string{"DELIVERY ORDER", "D/O", "DO FEE"}},
		{Code: FixedFeeCodeCustomsClearance, Keywords: []string{"CUSTOMS CLEARANCE", "CUSTOMS DECLARATION", "BILL OF ENTRY"}},
		{Code: FixedFeeCodePortal, Keywords: []string{"PORTAL", "MIRSAL", "E-PORTAL"}},
		{Code: FixedFeeCodeAppointment, Keywords: []string{"APPOINTMENT", "TOKEN FEE"}},
	}
}

// IsPortalFeeCode reports whether a fixed-fee code is graded on the portal tolerance ladder.
func IsPortalFeeCode(code string) bool {
	return code == FixedFeeCodePortal || code == FixedFeeCodeAppointment
}

// FixedFeeTier matches well-known charge types and prices them per transport mode.
type FixedFeeTier struct {
	source  Catalog
	charges []FixedFeeCharge
}

// NewFixedFeeTier builds the tier over the given charge registry.
func NewFixedFeeTier(source Catalog, charges []FixedFeeCharge) FixedFeeTier {
	return FixedFeeTier{source: source, charges: append([]FixedFeeCharge(nil), charges...)}
}

// Name identifies the tier.
func (tier FixedFeeTier) Name() string {
	return fixedFeeTierNameConstant
}

// TryResolve returns the catalog fixed fee of the first registered charge type whose keyword
// appears in the description.
func (tier FixedFeeTier) TryResolve(description string, resolutionContext Context) (ReferenceRate, bool) {
	for _, charge := range tier.charges {
		if !containsAnyPhrase(description, charge.Keywords) {
			continue
		}
		fee, found := tier.source.FixedFee(charge.Code, resolutionContext.Mode)
		if !found {
			return ReferenceRate{}, false
		}
		rate, converted := convert(fee, resolutionContext)
		if !converted {
			return ReferenceRate{}, false
		}
		return ReferenceRate{Rate: rate, Provenance: ProvenanceFixedFee, MatchedKey: charge.Code}, true
	}
	return ReferenceRate{}, false
}

// KeywordTier prices charges from the catalog keyword fee table.
type KeywordTier struct {
	source Catalog
}

// NewKeywordTier builds the tier.
func NewKeywordTier(source Catalog) KeywordTier {
	return KeywordTier{source: source}
}

// Name identifies the tier.
func (tier KeywordTier) Name() string {
	return keywordTierNameConstant
}

// TryResolve picks the longest keyword contained in the description. When that entry declares
// a required transport mode that differs from the context mode, the tier yields nothing.
func (tier KeywordTier) TryResolve(description string, resolutionContext Context) (ReferenceRate, bool) {
	for _, keywordFee := range tier.source.KeywordFees() {
		if !containsPhrase(description, keywordFee.Keyword) {
			continue
		}
		if len(keywordFee.RequiredMode) > 0 && !strings.EqualFold(keywordFee.RequiredMode, strings.TrimSpace(resolutionContext.Mode)) {
			return ReferenceRate{}, false
		}
		rate, converted := convert(catalog.Money{Amount: keywordFee.Rate, Currency: keywordFee.Currency}, resolutionContext)
		if !converted {
			return ReferenceRate{}, false
		}
		return ReferenceRate{Rate: rate, Provenance: ProvenanceKeyword, MatchedKey: keywordFee.Keyword}, true
	}
	return ReferenceRate{}, false
}

var (
	routeTriggerWords      = []string{"TRANSPORTATION", "TRUCKING", "INLAND", "FROM", "TO"}
	transportTriggerWords  = []string{"TRANSPORTATION", "TRUCKING", "INLAND"}
	fromToRoutePattern     = regexp.MustCompile(`(?i)\bFROM\s+(.+?)\s+TO\s+(.+)$`)
	arrowRoutePattern      = regexp.MustCompile(`^(.+?)\s*(?:->|→|=>)\s*(.+)$`)
	routeLeadingWordsRegex = regexp.MustCompile(`(?i)^(?:(?:TRANSPORTATION|TRUCKING|INLAND|CHARGES?|FEE)\s+)+`)
)

// RouteTier prices routed transport charges from the inland and general lane tables.
type RouteTier struct {
	source        Catalog
	locationIndex *normalize.LocationIndex
}

// NewRouteTier builds the tier. A nil location index leaves endpoints as written.
func NewRouteTier(source Catalog, locationIndex *normalize.LocationIndex) RouteTier {
	return RouteTier{source: source, locationIndex: locationIndex}
}

// Name identifies the tier.
func (tier RouteTier) Name() string {
	return routeTierNameConstant
}

// TryResolve runs only for descriptions carrying a route trigger word. Endpoints are parsed
// from "FROM x TO y" or "x -> y". The context origin and destination stand in for an unparsed
// route only when the description names a transport charge; FROM or TO alone is not enough.
func (tier RouteTier) TryResolve(description string, resolutionContext Context) (ReferenceRate, bool) {
	if !containsAnyPhrase(description, routeTriggerWords) {
		return ReferenceRate{}, false
	}

	origin, destination, parsed := ParseRoute(description)
	if !parsed {
		if !containsAnyPhrase(description, transportTriggerWords) {
			return ReferenceRate{}, false
		}
		origin = resolutionContext.Origin
		destination = resolutionContext.Destination
	}
	if len(strings.TrimSpace(origin)) == 0 || len(strings.TrimSpace(destination)) == 0 {
		return ReferenceRate{}, false
	}

	canonicalOrigin := tier.locationIndex.Normalize(origin)
	canonicalDestination := tier.locationIndex.Normalize(destination)
	laneKey := catalog.LaneKey(canonicalOrigin, canonicalDestination, resolutionContext.Unit)

	fee, found := tier.source.InlandRate(canonicalOrigin, canonicalDestination, resolutionContext.Unit)
	if !found {
		fee, found = tier.source.LaneRate(canonicalOrigin, canonicalDestination, resolutionContext.Unit)
	}
	if !found {
		return ReferenceRate{}, false
	}
	rate, converted := convert(fee, resolutionContext)
	if !converted {
		return ReferenceRate{}, false
	}
	return ReferenceRate{Rate: rate, Provenance: ProvenanceLane, MatchedKey: laneKey}, true
}

// ParseRoute extracts origin and destination from "FROM x TO y" or an arrow-separated route.
func ParseRoute(description string) (string, string, bool) {
	trimmed := strings.TrimSpace(description)
	if matches := fromToRoutePattern.FindStringSubmatch(trimmed); matches != nil {
		return strings.TrimSpace(matches[1]), strings.TrimSpace(matches[2]), true
	}
	if matches := arrowRoutePattern.FindStringSubmatch(trimmed); matches != nil {
		origin := strings.TrimSpace(routeLeadingWordsRegex.ReplaceAllString(matches[1], ""))
		destination := strings.TrimSpace(matches[2])
		if len(origin) > 0 && len(destination) > 0 {
			return origin, destination, true
		}
	}
	return "", "", false
}

// ContractTier prices charges from the general contract table keyed by normalized description.
type ContractTier struct {
	source Catalog
}

// NewContractTier builds the tier.
func NewContractTier(source Catalog) ContractTier {
	return ContractTier{source: source}
}

// Name identifies the tier.
func (tier ContractTier) Name() string {
	return contractTierNameConstant
}

// TryResolve looks the whole description up in the contract table.
func (tier ContractTier) TryResolve(description string, resolutionContext Context) (ReferenceRate, bool) {
	fee, found := tier.source.ContractRate(description)
	if !found {
		return ReferenceRate{}, false
	}
	rate, converted := convert(fee, resolutionContext)
	if !converted {
		return ReferenceRate{}, false
	}
	return ReferenceRate{Rate: rate, Provenance: ProvenanceContractGeneral, MatchedKey: strings.ToUpper(strings.TrimSpace(description))}, true
}

func containsAnyPhrase(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if containsPhrase(text, phrase) {
			return true
		}
	}
	return false
}
