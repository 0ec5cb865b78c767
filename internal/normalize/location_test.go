package normalize_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/freightaudit/internal/normalize"
)

func newTestLocationIndex() *normalize.LocationIndex {
	ports := map[string]string{
		"JEA":       "JEBEL ALI",
		"Jebel Ali": "JEBEL ALI",
		"AUH":       "ABU DHABI",
		"KHALIFA":   "KHALIFA PORT",
	}
	destinations := map[string]string{
		"DXB":        "DUBAI",
		"Dubai City": "DUBAI",
		"JEA":        "SHOULD NOT OVERRIDE PORT",
		"KHALIFA IZ": "KHALIFA INDUSTRIAL ZONE",
	}
	return normalize.NewLocationIndex(ports, destinations)
}

func TestLocationIndexNormalize(testInstance *testing.T) {
	index := newTestLocationIndex()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "exact_alias", input: "jea", expected: "JEBEL ALI"},
		{name: "exact_alias_with_padding", input: "  dxb ", expected: "DUBAI"},
		{name: "canonical_name_is_its_own_alias", input: "abu dhabi", expected: "ABU DHABI"},
		{name: "first_table_wins_collision", input: "JEA", expected: "JEBEL ALI"},
		{name: "substring_fallback", input: "Port of Jebel Ali, UAE", expected: "JEBEL ALI"},
		{name: "longest_alias_wins", input: "warehouse in khalifa iz block 4", expected: "KHALIFA INDUSTRIAL ZONE"},
		{name: "unknown_returned_trimmed", input: "  Nowhere Town ", expected: "Nowhere Town"},
		{name: "empty", input: "", expected: ""},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			require.Equal(testInstance, testCase.expected, index.Normalize(testCase.input))
		})
	}
}

func TestLocationIndexReverseLookup(testInstance *testing.T) {
	index := newTestLocationIndex()

	require.Equal(testInstance, []string{"JEA", "JEBEL ALI"}, index.Aliases("jebel ali"))
	canonical, found := index.Canonical("Dubai City")
	require.True(testInstance, found)
	require.Equal(testInstance, "DUBAI", canonical)

	_, missing := index.Canonical("atlantis")
	require.False(testInstance, missing)
}

func TestLocationIndexEqualLengthTieIsAlphabetical(testInstance *testing.T) {
	index := normalize.NewLocationIndex(map[string]string{
		"ABC": "FIRST",
		"XYZ": "SECOND",
	})
	require.Equal(testInstance, "FIRST", index.Normalize("route XYZ ABC"))
}

func TestNilLocationIndexFailsOpen(testInstance *testing.T) {
	var index *normalize.LocationIndex
	require.Equal(testInstance, "Somewhere", index.Normalize(" Somewhere "))
}
