// Package normalize canonicalizes the free text found on freight invoices.
//
// CategoryNormalizer turns charge descriptions into comparable keys by removing
// quantity annotations, applying configured synonyms, and collapsing whitespace.
// LocationIndex maps place names and abbreviations to canonical location
// identifiers using alias tables supplied by the rate catalog.
package normalize
