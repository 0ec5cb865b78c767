package catalog

import (
	"strings"

	"github.com/temirov/freightaudit/internal/costguard"
	"github.com/temirov/freightaudit/internal/normalize"
)

// DefaultModeKeyConstant names the fixed-fee rate used when no per-mode rate exists.
const DefaultModeKeyConstant = "default"

// Money is an amount in a named currency. An empty currency means the catalog base currency.
type Money struct {
	Amount   float64
	Currency string
}

// FixedFeeDefinition lists per-mode rates for one well-known charge code.
type FixedFeeDefinition struct {
	Currency string             `yaml:"currency" json:"currency"`
	Rates    map[string]float64 `yaml:"rates" json:"rates"`
}

// KeywordFee is one entry of the keyword fee table.
type KeywordFee struct {
	Keyword      string  `yaml:"keyword" json:"keyword"`
	Rate         float64 `yaml:"rate" json:"rate"`
	Currency     string  `yaml:"currency" json:"currency"`
	RequiredMode string  `yaml:"required_mode" json:"required_mode"`
}

// Lane is an origin, destination, and unit tuple with its contracted rate.
type Lane struct {
	Origin      string  `yaml:"origin" json:"origin"`
	Destination string  `yaml:"destination" json:"destination"`
	Unit        string  `yaml:"unit" json:"unit"`
	Rate        float64 `yaml:"rate" json:"rate"`
	Currency    string  `yaml:"currency" json:"currency"`
}

// ContractRate is a general contract rate keyed by charge description.
type ContractRate struct {
	Description string  `yaml:"description" json:"description"`
	Rate        float64 `yaml:"rate" json:"rate"`
	Currency    string  `yaml:"currency" json:"currency"`
}

// Aliases holds the port and destination alias tables, alias to canonical name.
type Aliases struct {
	Ports        map[string]string `yaml:"ports" json:"ports"`
	Destinations map[string]string `yaml:"destinations" json:"destinations"`
}

// Document is the serialized form of a rate catalog.
type Document struct {
	BaseCurrency   string                        `yaml:"base_currency" json:"base_currency"`
	ExchangeRates  map[string]float64            `yaml:"exchange_rates" json:"exchange_rates"`
	CostGuardBands *costguard.Thresholds         `yaml:"cost_guard_bands" json:"cost_guard_bands"`
	Synonyms       OrderedMapping                `yaml:"synonyms" json:"synonyms"`
	Aliases        Aliases                       `yaml:"aliases" json:"aliases"`
	FixedFees      map[string]FixedFeeDefinition `yaml:"fixed_fees" json:"fixed_fees"`
	KeywordFees    []KeywordFee                  `yaml:"keyword_fees" json:"keyword_fees"`
	Lanes          []Lane                        `yaml:"lanes" json:"lanes"`
	InlandLanes    []Lane                        `yaml:"inland_lanes" json:"inland_lanes"`
	ContractRates  []ContractRate                `yaml:"contract_rates" json:"contract_rates"`
}

// Merge appends the tables of other onto document. Scalar settings and maps from other win
// when they are set.
func (document Document) Merge(other Document) Document {
	merged := document
	if len(strings.TrimSpace(other.BaseCurrency)) > 0 {
		merged.BaseCurrency = other.BaseCurrency
	}
	if other.CostGuardBands != nil {
		bands := *other.CostGuardBands
		merged.CostGuardBands = &bands
	}
	merged.ExchangeRates = mergeFloatMaps(document.ExchangeRates, other.ExchangeRates)
	merged.Synonyms = append(append(OrderedMapping{}, document.Synonyms...), other.Synonyms...)
	merged.Aliases = Aliases{
		Ports:        mergeStringMaps(document.Aliases.Ports, other.Aliases.Ports),
		Destinations: mergeStringMaps(document.Aliases.Destinations, other.Aliases.Destinations),
	}
	merged.FixedFees = make(map[string]FixedFeeDefinition, len(document.FixedFees)+len(other.FixedFees))
	for code, definition := range document.FixedFees {
		merged.FixedFees[code] = definition
	}
	for code, definition := range other.FixedFees {
		merged.FixedFees[code] = definition
	}
	merged.KeywordFees = append(append([]KeywordFee{}, document.KeywordFees...), other.KeywordFees...)
	merged.Lanes = append(append([]Lane{}, document.Lanes...), other.Lanes...)
	merged.InlandLanes = append(append([]Lane{}, document.InlandLanes...), other.InlandLanes...)
	merged.ContractRates = append(append([]ContractRate{}, document.ContractRates...), other.ContractRates...)
	return merged
}

// OrderedMapping is a string to string mapping that remembers declaration order.
type OrderedMapping []normalize.Synonym

func mergeFloatMaps(first map[string]float64, second map[string]float64) map[string]float64 {
	merged := make(map[string]float64, len(first)+len(second))
	for key, value := range first {
		merged[key] = value
	}
	for key, value := range second {
		merged[key] = value
	}
	return merged
}

func mergeStringMaps(first map[string]string, second map[string]string) map[string]string {
	merged := make(map[string]string, len(first)+len(second))
	for key, value := range first {
		merged[key] = value
	}
	for key, value := range second {
		merged[key] = value
	}
	return merged
}
