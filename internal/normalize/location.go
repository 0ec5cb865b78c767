package normalize

import (
	"sort"
	"strings"
)

// LocationIndex resolves place names and abbreviations to canonical location names.
// It is built once and never mutated, so concurrent lookups need no locking.
type LocationIndex struct {
	canonicalByAlias   map[string]string
	aliasesByCanonical map[string][]string
	substringKeys      []string
}

// NewLocationIndex builds an index from alias tables mapping alias to canonical name.
// Tables are consulted in the order given; the first table defining an alias wins.
// Every canonical name is also registered as an alias of itself.
func NewLocationIndex(aliasTables ...map[string]string) *LocationIndex {
	index := &LocationIndex{
		canonicalByAlias:   make(map[string]string),
		aliasesByCanonical: make(map[string][]string),
	}

	for _, aliasTable := range aliasTables {
		sortedAliases := make([]string, 0, len(aliasTable))
		for alias := range aliasTable {
			sortedAliases = append(sortedAliases, alias)
		}
		sort.Strings(sortedAliases)
		for _, alias := range sortedAliases {
			index.register(alias, aliasTable[alias])
		}
	}

	canonicalNames := make([]string, 0, len(index.aliasesByCanonical))
	for canonical := range index.aliasesByCanonical {
		canonicalNames = append(canonicalNames, canonical)
	}
	for _, canonical := range canonicalNames {
		index.register(canonical, canonical)
	}

	index.substringKeys = make([]string, 0, len(index.canonicalByAlias))
	for alias := range index.canonicalByAlias {
		index.substringKeys = append(index.substringKeys, alias)
	}
	sort.Slice(index.substringKeys, func(first int, second int) bool {
		firstKey := index.substringKeys[first]
		secondKey := index.substringKeys[second]
		if len(firstKey) != len(secondKey) {
			return len(firstKey) > len(secondKey)
		}
		return firstKey < secondKey
	})

	for canonical := range index.aliasesByCanonical {
		sort.Strings(index.aliasesByCanonical[canonical])
	}

	return index
}

func (index *LocationIndex) register(alias string, canonical string) {
	aliasKey := strings.ToUpper(collapseWhitespace(alias))
	canonicalName := strings.ToUpper(collapseWhitespace(canonical))
	if len(aliasKey) == 0 || len(canonicalName) == 0 {
		return
	}
	if _, exists := index.canonicalByAlias[aliasKey]; exists {
		return
	}
	index.canonicalByAlias[aliasKey] = canonicalName
	index.aliasesByCanonical[canonicalName] = append(index.aliasesByCanonical[canonicalName], aliasKey)
}

// Normalize maps text to a canonical location name. Exact alias matches win; otherwise the
// longest alias contained in the text wins, ties broken alphabetically. Unknown text is
// returned trimmed but otherwise unchanged.
func (index *LocationIndex) Normalize(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) == 0 || index == nil {
		return trimmed
	}

	lookupKey := strings.ToUpper(collapseWhitespace(trimmed))
	if canonical, exists := index.canonicalByAlias[lookupKey]; exists {
		return canonical
	}

	for _, alias := range index.substringKeys {
		if strings.Contains(lookupKey, alias) {
			return index.canonicalByAlias[alias]
		}
	}

	return trimmed
}

// Canonical reports the canonical name registered for an exact alias.
func (index *LocationIndex) Canonical(alias string) (string, bool) {
	if index == nil {
		return "", false
	}
	canonical, exists := index.canonicalByAlias[strings.ToUpper(collapseWhitespace(alias))]
	return canonical, exists
}

// Aliases lists the known aliases of a canonical name in alphabetical order.
func (index *LocationIndex) Aliases(canonical string) []string {
	if index == nil {
		return nil
	}
	aliases := index.aliasesByCanonical[strings.ToUpper(collapseWhitespace(canonical))]
	return append([]string(nil), aliases...)
}
