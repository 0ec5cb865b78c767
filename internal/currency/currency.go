// Package currency converts catalog and invoice amounts into the audit base currency.
package currency

import "strings"

// BaseCurrencyCode is the currency every reference rate is expressed in.
const BaseCurrencyCode = "USD"

// ToBase converts amount using an exchange rate quoted as units of the source currency per one
// base unit. A zero exchange rate yields nil rather than a division by zero.
func ToBase(amount float64, unitsPerBase float64) *float64 {
	if unitsPerBase == 0 {
		return nil
	}
	converted := amount / unitsPerBase
	return &converted
}

// FromBase converts a base-currency amount into a currency quoted as units per base unit.
func FromBase(amount float64, unitsPerBase float64) *float64 {
	if unitsPerBase == 0 {
		return nil
	}
	converted := amount * unitsPerBase
	return &converted
}

// Converter resolves exchange rates by currency code. It is read-only after construction.
type Converter struct {
	baseCurrency string
	unitsPerBase map[string]float64
}

// NewConverter builds a Converter from a table of units per base unit keyed by currency code.
func NewConverter(baseCurrency string, unitsPerBase map[string]float64) Converter {
	normalizedBase := normalizeCode(baseCurrency)
	if len(normalizedBase) == 0 {
		normalizedBase = BaseCurrencyCode
	}
	rates := make(map[string]float64, len(unitsPerBase))
	for code, rate := range unitsPerBase {
		rates[normalizeCode(code)] = rate
	}
	return Converter{baseCurrency: normalizedBase, unitsPerBase: rates}
}

// BaseCurrency reports the currency amounts are converted into.
func (converter Converter) BaseCurrency() string {
	if len(converter.baseCurrency) == 0 {
		return BaseCurrencyCode
	}
	return converter.baseCurrency
}

// Rate returns the units of currencyCode per base unit, or zero when unknown.
func (converter Converter) Rate(currencyCode string) float64 {
	normalizedCode := normalizeCode(currencyCode)
	if len(normalizedCode) == 0 || normalizedCode == converter.BaseCurrency() {
		return 1
	}
	return converter.unitsPerBase[normalizedCode]
}

// Convert expresses amount in the base currency. Unknown or zero-rated currencies yield nil.
func (converter Converter) Convert(amount float64, currencyCode string) *float64 {
	return ToBase(amount, converter.Rate(currencyCode))
}

// WithOverride returns a copy whose rate for currencyCode is replaced. A zero override is kept
// so that conversions in that currency fail closed.
func (converter Converter) WithOverride(currencyCode string, unitsPerBase float64) Converter {
	rates := make(map[string]float64, len(converter.unitsPerBase)+1)
	for code, rate := range converter.unitsPerBase {
		rates[code] = rate
	}
	rates[normalizeCode(currencyCode)] = unitsPerBase
	return Converter{baseCurrency: converter.BaseCurrency(), unitsPerBase: rates}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
