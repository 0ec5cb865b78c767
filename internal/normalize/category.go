package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	caseInsensitivePatternPrefixConstant = "(?i)"
	wordBoundaryPatternConstant          = `\b`
	singleSpaceConstant                  = " "
	emptySynonymTermMessageConstant      = "synonym term must be non-empty"
	selfFeedingSynonymTemplateConstant   = "synonym %q maps to %q, which contains the term again"
	maximumNormalizationPassesConstant   = 8
)

var (
	parenthesizedAnnotationPattern = regexp.MustCompile(`\([^()]*\)`)
	repeatedWhitespacePattern      = regexp.MustCompile(`\s+`)
	errEmptySynonymTerm            = errors.New(emptySynonymTermMessageConstant)
)

// Synonym maps a free-text charge term onto its canonical spelling.
type Synonym struct {
	Term      string
	Canonical string
}

type compiledSynonym struct {
	pattern   *regexp.Regexp
	canonical string
}

// CategoryNormalizer canonicalizes charge descriptions. It is immutable after construction.
type CategoryNormalizer struct {
	synonyms []compiledSynonym
}

// NewCategoryNormalizer compiles the ordered synonym list. A term repeated later in the list
// replaces the canonical value of its first occurrence while keeping the first position.
// A canonical form that contains its own term, other than the term itself, is rejected: it
// would grow on every pass and never settle.
func NewCategoryNormalizer(synonyms []Synonym) (*CategoryNormalizer, error) {
	orderedTerms := make([]string, 0, len(synonyms))
	canonicalByTerm := make(map[string]string, len(synonyms))

	for _, synonym := range synonyms {
		trimmedTerm := collapseWhitespace(synonym.Term)
		if len(trimmedTerm) == 0 {
			return nil, errEmptySynonymTerm
		}
		lookupKey := strings.ToUpper(trimmedTerm)
		if _, exists := canonicalByTerm[lookupKey]; !exists {
			orderedTerms = append(orderedTerms, trimmedTerm)
		}
		canonicalByTerm[lookupKey] = strings.ToUpper(collapseWhitespace(synonym.Canonical))
	}

	compiled := make([]compiledSynonym, 0, len(orderedTerms))
	for _, term := range orderedTerms {
		pattern := regexp.MustCompile(buildTermPattern(term))
		canonical := canonicalByTerm[strings.ToUpper(term)]
		if canonical != strings.ToUpper(term) && pattern.MatchString(canonical) {
			return nil, fmt.Errorf(selfFeedingSynonymTemplateConstant, term, canonical)
		}
		compiled = append(compiled, compiledSynonym{pattern: pattern, canonical: canonical})
	}

	return &CategoryNormalizer{synonyms: compiled}, nil
}

// Normalize strips parenthesized annotations, applies synonyms, collapses whitespace, and upper-cases.
// Passes repeat until the text is stable so that Normalize(Normalize(x)) == Normalize(x).
func (normalizer *CategoryNormalizer) Normalize(text string) string {
	if len(strings.TrimSpace(text)) == 0 {
		return ""
	}

	current := text
	for pass := 0; pass < maximumNormalizationPassesConstant; pass++ {
		next := normalizer.normalizeOnce(current)
		if next == current {
			return next
		}
		current = next
	}
	return current
}

func (normalizer *CategoryNormalizer) normalizeOnce(text string) string {
	stripped := stripParenthesized(text)
	normalized := collapseWhitespace(stripped)
	if normalizer != nil {
		for _, synonym := range normalizer.synonyms {
			normalized = synonym.pattern.ReplaceAllLiteralString(normalized, synonym.canonical)
		}
	}
	return strings.ToUpper(collapseWhitespace(normalized))
}

func stripParenthesized(text string) string {
	current := text
	for {
		next := parenthesizedAnnotationPattern.ReplaceAllLiteralString(current, singleSpaceConstant)
		if next == current {
			return next
		}
		current = next
	}
}

func collapseWhitespace(text string) string {
	return strings.TrimSpace(repeatedWhitespacePattern.ReplaceAllLiteralString(text, singleSpaceConstant))
}

// buildTermPattern anchors the term on word boundaries only where the term edge is a word character;
// `\b` never matches next to punctuation such as a leading slash.
func buildTermPattern(term string) string {
	var builder strings.Builder
	builder.WriteString(caseInsensitivePatternPrefixConstant)

	firstRune, _ := utf8.DecodeRuneInString(term)
	if isWordRune(firstRune) {
		builder.WriteString(wordBoundaryPatternConstant)
	}

	for index, word := range strings.Split(term, singleSpaceConstant) {
		if index > 0 {
			builder.WriteString(`\s+`)
		}
		builder.WriteString(regexp.QuoteMeta(word))
	}

	lastRune, _ := utf8.DecodeLastRuneInString(term)
	if isWordRune(lastRune) {
		builder.WriteString(wordBoundaryPatternConstant)
	}
	return builder.String()
}

func isWordRune(character rune) bool {
	return character == '_' || (character < utf8.RuneSelf && (unicode.IsLetter(character) || unicode.IsDigit(character)))
}
