package rates

import (
	"github.com/temirov/freightaudit/internal/catalog"
	"github.com/temirov/freightaudit/internal/currency"
)

// Provenance identifies the tier that produced a reference rate.
type Provenance string

// Known provenance values.
const (
	ProvenanceFixedFee        Provenance = "fixed-fee"
	ProvenanceKeyword         Provenance = "keyword"
	ProvenanceLane            Provenance = "lane"
	ProvenanceContractGeneral Provenance = "contract-general"
	ProvenanceNone            Provenance = "none"
)

// ReferenceRate is a resolved rate expressed in the base currency.
type ReferenceRate struct {
	Rate       float64    `json:"rate"`
	Provenance Provenance `json:"provenance"`
	MatchedKey string     `json:"matched_key"`
}

// Context carries the line-item facts tiers may consult besides the description.
// The zero Converter converts base-currency amounts and rejects every other currency.
type Context struct {
	Mode        string
	Origin      string
	Destination string
	Unit        string
	Converter   currency.Converter
}

// Tier is one strategy in the resolution chain.
type Tier interface {
	Name() string
	TryResolve(description string, resolutionContext Context) (ReferenceRate, bool)
}

// Catalog is the subset of the rate catalog consulted by the tiers.
type Catalog interface {
	FixedFee(code string, mode string) (catalog.Money, bool)
	KeywordFees() []catalog.KeywordFee
	InlandRate(origin string, destination string, unit string) (catalog.Money, bool)
	LaneRate(origin string, destination string, unit string) (catalog.Money, bool)
	ContractRate(description string) (catalog.Money, bool)
}

func convert(money catalog.Money, resolutionContext Context) (float64, bool) {
	converted := resolutionContext.Converter.Convert(money.Amount, money.Currency)
	if converted == nil {
		return 0, false
	}
	return *converted, true
}
