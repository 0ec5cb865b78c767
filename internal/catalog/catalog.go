package catalog

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/temirov/freightaudit/internal/costguard"
	"github.com/temirov/freightaudit/internal/currency"
	"github.com/temirov/freightaudit/internal/normalize"
)

const (
	negativeRateTemplateConstant      = "%s rate for %q must be a finite non-negative number"
	emptyKeywordMessageConstant       = "keyword fee entries must define a keyword"
	emptyLaneEndpointTemplateConstant = "lane %d must define origin and destination"
	emptyContractMessageConstant      = "contract rate entries must define a description"
	invalidExchangeRateTemplate       = "exchange rate for %s must be positive"
	invalidBandsTemplateConstant      = "invalid cost guard bands: %w"
	fixedFeeKindConstant              = "fixed fee"
	keywordFeeKindConstant            = "keyword fee"
	laneKindConstant                  = "lane"
	contractKindConstant              = "contract"
	laneKeySeparatorConstant          = "|"
)

// Catalog is an immutable in-memory rate catalog. All lookups are map or slice reads, so a
// Catalog is safe for concurrent use once built.
type Catalog struct {
	baseCurrency   string
	exchangeRates  map[string]float64
	costGuardBands *costguard.Thresholds
	synonyms       []normalize.Synonym
	aliases        Aliases
	fixedFees      map[string]FixedFeeDefinition
	keywordFees    []KeywordFee
	lanes          map[string]Lane
	inlandLanes    map[string]Lane
	contractRates  []ContractRate
	contractIndex  map[string]ContractRate
}

// New validates a catalog document and indexes it for lookup.
func New(document Document) (*Catalog, error) {
	if document.CostGuardBands != nil {
		if bandsError := document.CostGuardBands.Validate(); bandsError != nil {
			return nil, fmt.Errorf(invalidBandsTemplateConstant, bandsError)
		}
	}

	exchangeRates := make(map[string]float64, len(document.ExchangeRates))
	for currencyCode, rate := range document.ExchangeRates {
		if !(rate > 0) || math.IsInf(rate, 0) {
			return nil, fmt.Errorf(invalidExchangeRateTemplate, currencyCode)
		}
		exchangeRates[normalizeKey(currencyCode)] = rate
	}

	fixedFees := make(map[string]FixedFeeDefinition, len(document.FixedFees))
	for code, definition := range document.FixedFees {
		rates := make(map[string]float64, len(definition.Rates))
		for mode, rate := range definition.Rates {
			if rateError := validateRate(fixedFeeKindConstant, code, rate); rateError != nil {
				return nil, rateError
			}
			rates[strings.ToLower(strings.TrimSpace(mode))] = rate
		}
		fixedFees[normalizeKey(code)] = FixedFeeDefinition{Currency: definition.Currency, Rates: rates}
	}

	keywordFees := make([]KeywordFee, 0, len(document.KeywordFees))
	for _, keywordFee := range document.KeywordFees {
		keyword := normalizeKey(keywordFee.Keyword)
		if len(keyword) == 0 {
			return nil, errors.New(emptyKeywordMessageConstant)
		}
		if rateError := validateRate(keywordFeeKindConstant, keyword, keywordFee.Rate); rateError != nil {
			return nil, rateError
		}
		keywordFee.Keyword = keyword
		keywordFee.RequiredMode = strings.TrimSpace(keywordFee.RequiredMode)
		keywordFees = append(keywordFees, keywordFee)
	}

	lanes, lanesError := indexLanes(document.Lanes)
	if lanesError != nil {
		return nil, lanesError
	}
	inlandLanes, inlandError := indexLanes(document.InlandLanes)
	if inlandError != nil {
		return nil, inlandError
	}

	contractRates := make([]ContractRate, 0, len(document.ContractRates))
	contractIndex := make(map[string]ContractRate, len(document.ContractRates))
	for _, contractRate := range document.ContractRates {
		if len(strings.TrimSpace(contractRate.Description)) == 0 {
			return nil, errors.New(emptyContractMessageConstant)
		}
		if rateError := validateRate(contractKindConstant, contractRate.Description, contractRate.Rate); rateError != nil {
			return nil, rateError
		}
		contractRates = append(contractRates, contractRate)
		contractIndex[normalizeKey(contractRate.Description)] = contractRate
	}

	var bands *costguard.Thresholds
	if document.CostGuardBands != nil {
		copied := *document.CostGuardBands
		bands = &copied
	}

	baseCurrency := normalizeKey(document.BaseCurrency)
	if len(baseCurrency) == 0 {
		baseCurrency = currency.BaseCurrencyCode
	}

	return &Catalog{
		baseCurrency:   baseCurrency,
		exchangeRates:  exchangeRates,
		costGuardBands: bands,
		synonyms:       append([]normalize.Synonym(nil), document.Synonyms...),
		aliases: Aliases{
			Ports:        mergeStringMaps(nil, document.Aliases.Ports),
			Destinations: mergeStringMaps(nil, document.Aliases.Destinations),
		},
		fixedFees:     fixedFees,
		keywordFees:   keywordFees,
		lanes:         lanes,
		inlandLanes:   inlandLanes,
		contractRates: contractRates,
		contractIndex: contractIndex,
	}, nil
}

func indexLanes(lanes []Lane) (map[string]Lane, error) {
	indexed := make(map[string]Lane, len(lanes))
	for laneIndex, lane := range lanes {
		if len(strings.TrimSpace(lane.Origin)) == 0 || len(strings.TrimSpace(lane.Destination)) == 0 {
			return nil, fmt.Errorf(emptyLaneEndpointTemplateConstant, laneIndex)
		}
		key := LaneKey(lane.Origin, lane.Destination, lane.Unit)
		if rateError := validateRate(laneKindConstant, key, lane.Rate); rateError != nil {
			return nil, rateError
		}
		indexed[key] = lane
	}
	return indexed, nil
}

func validateRate(kind string, name string, rate float64) error {
	if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf(negativeRateTemplateConstant, kind, name)
	}
	return nil
}

// LaneKey builds the lookup key for an origin, destination, and unit tuple.
func LaneKey(origin string, destination string, unit string) string {
	return strings.Join([]string{normalizeKey(origin), normalizeKey(destination), normalizeKey(unit)}, laneKeySeparatorConstant)
}

// BaseCurrency reports the currency reference rates are normalized into.
func (catalog *Catalog) BaseCurrency() string {
	return catalog.baseCurrency
}

// ExchangeRates returns a copy of the units-per-base-unit table.
func (catalog *Catalog) ExchangeRates() map[string]float64 {
	return mergeFloatMaps(nil, catalog.exchangeRates)
}

// Converter builds a currency converter over the catalog exchange rates.
func (catalog *Catalog) Converter() currency.Converter {
	return currency.NewConverter(catalog.baseCurrency, catalog.exchangeRates)
}

// CostGuardBands returns catalog-specific band thresholds when the catalog declares them.
func (catalog *Catalog) CostGuardBands() (costguard.Thresholds, bool) {
	if catalog.costGuardBands == nil {
		return costguard.Thresholds{}, false
	}
	return *catalog.costGuardBands, true
}

// Synonyms returns the ordered charge-description synonyms.
func (catalog *Catalog) Synonyms() []normalize.Synonym {
	return append([]normalize.Synonym(nil), catalog.synonyms...)
}

// NormalizationAliases returns copies of the port and destination alias tables.
func (catalog *Catalog) NormalizationAliases() Aliases {
	return Aliases{
		Ports:        mergeStringMaps(nil, catalog.aliases.Ports),
		Destinations: mergeStringMaps(nil, catalog.aliases.Destinations),
	}
}

// FixedFee returns the rate of a well-known charge code for a transport mode, falling back to
// the default entry when the mode has no dedicated rate.
func (catalog *Catalog) FixedFee(code string, mode string) (Money, bool) {
	definition, exists := catalog.fixedFees[normalizeKey(code)]
	if !exists {
		return Money{}, false
	}
	if rate, modeExists := definition.Rates[strings.ToLower(strings.TrimSpace(mode))]; modeExists && len(strings.TrimSpace(mode)) > 0 {
		return Money{Amount: rate, Currency: definition.Currency}, true
	}
	if rate, defaultExists := definition.Rates[DefaultModeKeyConstant]; defaultExists {
		return Money{Amount: rate, Currency: definition.Currency}, true
	}
	return Money{}, false
}

// KeywordFees returns the keyword fee table sorted by descending keyword length, then keyword.
func (catalog *Catalog) KeywordFees() []KeywordFee {
	sorted := append([]KeywordFee(nil), catalog.keywordFees...)
	sort.SliceStable(sorted, func(first int, second int) bool {
		if len(sorted[first].Keyword) != len(sorted[second].Keyword) {
			return len(sorted[first].Keyword) > len(sorted[second].Keyword)
		}
		return sorted[first].Keyword < sorted[second].Keyword
	})
	return sorted
}

// LaneRate looks up the general lane table. A lane declared without a unit matches any unit.
func (catalog *Catalog) LaneRate(origin string, destination string, unit string) (Money, bool) {
	return lookupLane(catalog.lanes, origin, destination, unit)
}

// InlandRate looks up the inland transport table. A lane declared without a unit matches any unit.
func (catalog *Catalog) InlandRate(origin string, destination string, unit string) (Money, bool) {
	return lookupLane(catalog.inlandLanes, origin, destination, unit)
}

func lookupLane(lanes map[string]Lane, origin string, destination string, unit string) (Money, bool) {
	if lane, exists := lanes[LaneKey(origin, destination, unit)]; exists {
		return Money{Amount: lane.Rate, Currency: lane.Currency}, true
	}
	if lane, exists := lanes[LaneKey(origin, destination, "")]; exists {
		return Money{Amount: lane.Rate, Currency: lane.Currency}, true
	}
	return Money{}, false
}

// ContractRates returns the general contract table in declaration order.
func (catalog *Catalog) ContractRates() []ContractRate {
	return append([]ContractRate(nil), catalog.contractRates...)
}

// ContractRate looks up the general contract table by description, ignoring case and
// whitespace runs. A later entry for the same description replaces an earlier one.
func (catalog *Catalog) ContractRate(description string) (Money, bool) {
	contractRate, exists := catalog.contractIndex[normalizeKey(description)]
	if !exists {
		return Money{}, false
	}
	return Money{Amount: contractRate.Rate, Currency: contractRate.Currency}, true
}

func normalizeKey(value string) string {
	return strings.ToUpper(strings.Join(strings.Fields(value), " "))
}
