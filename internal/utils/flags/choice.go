// Package flags holds helpers for enumerated command-line flags.
package flags

import (
	"fmt"
	"strings"
)

const (
	choicePlaceholderPrefix  = "<"
	choicePlaceholderSuffix  = ">"
	choiceSeparatorLiteral   = "|"
	choiceUsageEmptyTemplate = "`%s`"
	choiceUsageFullTemplate  = "`%s` %s"
	unknownChoiceTemplate    = "unsupported value %q, expected one of %s"
)

// Choice is an enumerated flag value set with a default.
type Choice struct {
	defaultChoice string
	choices       []string
}

// NewChoice builds a Choice. Choices are compared case-insensitively; duplicates and blanks
// are dropped.
func NewChoice(defaultChoice string, choices ...string) Choice {
	seen := make(map[string]struct{}, len(choices))
	normalizedChoices := make([]string, 0, len(choices))
	for _, choice := range choices {
		normalizedChoice := strings.ToLower(strings.TrimSpace(choice))
		if len(normalizedChoice) == 0 {
			continue
		}
		if _, exists := seen[normalizedChoice]; exists {
			continue
		}
		seen[normalizedChoice] = struct{}{}
		normalizedChoices = append(normalizedChoices, normalizedChoice)
	}
	return Choice{defaultChoice: strings.ToLower(strings.TrimSpace(defaultChoice)), choices: normalizedChoices}
}

// Usage renders the choices as a placeholder, upper-casing the default, followed by description.
func (choice Choice) Usage(description string) string {
	highlighted := make([]string, 0, len(choice.choices))
	for _, value := range choice.choices {
		if value == choice.defaultChoice {
			value = strings.ToUpper(value)
		}
		highlighted = append(highlighted, value)
	}
	placeholder := choicePlaceholderPrefix + strings.Join(highlighted, choiceSeparatorLiteral) + choicePlaceholderSuffix
	if len(strings.TrimSpace(description)) == 0 {
		return fmt.Sprintf(choiceUsageEmptyTemplate, placeholder)
	}
	return fmt.Sprintf(choiceUsageFullTemplate, placeholder, description)
}

// Parse resolves a flag value; an empty value selects the default.
func (choice Choice) Parse(value string) (string, error) {
	normalizedValue := strings.ToLower(strings.TrimSpace(value))
	if len(normalizedValue) == 0 {
		return choice.defaultChoice, nil
	}
	for _, candidate := range choice.choices {
		if candidate == normalizedValue {
			return candidate, nil
		}
	}
	return "", fmt.Errorf(unknownChoiceTemplate, value, strings.Join(choice.choices, choiceSeparatorLiteral))
}
