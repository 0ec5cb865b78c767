package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/temirov/freightaudit/internal/normalize"
)

const (
	catalogPathRequiredMessageConstant = "rate catalog path must be provided"
	catalogReadErrorTemplateConstant   = "failed to read rate catalog: %w"
	catalogParseErrorTemplateConstant  = "failed to parse rate catalog: %w"
	orderedMappingKindErrorTemplate    = "ordered mapping must be a YAML mapping, got line %d"
	orderedMappingEntryErrorTemplate   = "ordered mapping entry at line %d: %w"
	yamlNullTagConstant                = "!!null"
)

// LoadFile reads a YAML rate catalog from disk.
func LoadFile(filePath string) (Document, error) {
	trimmedPath := strings.TrimSpace(filePath)
	if len(trimmedPath) == 0 {
		return Document{}, errors.New(catalogPathRequiredMessageConstant)
	}

	contentBytes, readError := os.ReadFile(trimmedPath)
	if readError != nil {
		return Document{}, fmt.Errorf(catalogReadErrorTemplateConstant, readError)
	}

	return Parse(contentBytes)
}

// Parse decodes a YAML rate catalog, rejecting unknown fields.
func Parse(content []byte) (Document, error) {
	var document Document
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if decodeError := decoder.Decode(&document); decodeError != nil && !errors.Is(decodeError, io.EOF) {
		return Document{}, fmt.Errorf(catalogParseErrorTemplateConstant, decodeError)
	}
	return document, nil
}

// UnmarshalYAML keeps mapping entries in declaration order, including repeated keys.
func (mapping *OrderedMapping) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == yamlNullTagConstant {
		*mapping = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf(orderedMappingKindErrorTemplate, node.Line)
	}

	entries := make(OrderedMapping, 0, len(node.Content)/2)
	for contentIndex := 0; contentIndex+1 < len(node.Content); contentIndex += 2 {
		keyNode := node.Content[contentIndex]
		valueNode := node.Content[contentIndex+1]

		var term string
		if decodeError := keyNode.Decode(&term); decodeError != nil {
			return fmt.Errorf(orderedMappingEntryErrorTemplate, keyNode.Line, decodeError)
		}
		var canonical string
		if decodeError := valueNode.Decode(&canonical); decodeError != nil {
			return fmt.Errorf(orderedMappingEntryErrorTemplate, valueNode.Line, decodeError)
		}
		entries = append(entries, normalize.Synonym{Term: term, Canonical: canonical})
	}

	*mapping = entries
	return nil
}
