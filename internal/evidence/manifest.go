package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/temirov/freightaudit/internal/gates"
)

const (
	manifestPathRequiredMessageConstant = "evidence manifest path must be provided"
	manifestReadErrorTemplateConstant   = "failed to read evidence manifest: %w"
	manifestParseErrorTemplateConstant  = "failed to parse evidence manifest: %w"
	manifestKeyTemplateConstant         = "%s#%d"
)

// ManifestDocument is the evidence recorded for one invoice line.
type ManifestDocument struct {
	Sheet                string                         `yaml:"sheet"`
	Sequence             int                            `yaml:"sequence"`
	EvidenceCount        int                            `yaml:"evidence_count"`
	CertificationMissing bool                           `yaml:"certification_missing"`
	SignatureRisk        bool                           `yaml:"signature_risk"`
	Lines                map[string]gates.ExtractedLine `yaml:"lines"`
}

type manifestFile struct {
	Documents []ManifestDocument `yaml:"documents"`
}

// ManifestProvider serves evidence from an in-memory manifest.
type ManifestProvider struct {
	documents map[string]ManifestDocument
}

// LoadManifest reads a YAML evidence manifest from disk.
func LoadManifest(filePath string) (*ManifestProvider, error) {
	trimmedPath := strings.TrimSpace(filePath)
	if len(trimmedPath) == 0 {
		return nil, errors.New(manifestPathRequiredMessageConstant)
	}
	contentBytes, readError := os.ReadFile(trimmedPath)
	if readError != nil {
		return nil, fmt.Errorf(manifestReadErrorTemplateConstant, readError)
	}
	return ParseManifest(contentBytes)
}

// ParseManifest decodes a YAML evidence manifest.
func ParseManifest(content []byte) (*ManifestProvider, error) {
	var manifest manifestFile
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if decodeError := decoder.Decode(&manifest); decodeError != nil && !errors.Is(decodeError, io.EOF) {
		return nil, fmt.Errorf(manifestParseErrorTemplateConstant, decodeError)
	}
	return NewManifestProvider(manifest.Documents), nil
}

// NewManifestProvider indexes documents by sheet and sequence. Line categories are matched
// case-insensitively.
func NewManifestProvider(documents []ManifestDocument) *ManifestProvider {
	provider := &ManifestProvider{documents: make(map[string]ManifestDocument, len(documents))}
	for _, document := range documents {
		lines := make(map[string]gates.ExtractedLine, len(document.Lines))
		for category, line := range document.Lines {
			lines[normalizeCategory(category)] = line
		}
		document.Lines = lines
		provider.documents[manifestKey(document.Sheet, document.Sequence)] = document
	}
	return provider
}

// EvidenceCount returns the number of supporting documents, zero when the line is unknown.
func (provider *ManifestProvider) EvidenceCount(_ context.Context, line gates.LineReference) (int, error) {
	document, exists := provider.documents[manifestKey(line.Sheet, line.Sequence)]
	if !exists {
		return 0, nil
	}
	return document.EvidenceCount, nil
}

// ExtractLineItem returns the extracted values for category, or gates.ErrEvidenceNotFound.
func (provider *ManifestProvider) ExtractLineItem(_ context.Context, line gates.LineReference, category string) (*gates.ExtractedLine, error) {
	document, exists := provider.documents[manifestKey(line.Sheet, line.Sequence)]
	if !exists {
		return nil, gates.ErrEvidenceNotFound
	}
	extractedLine, found := document.Lines[normalizeCategory(category)]
	if !found {
		return nil, gates.ErrEvidenceNotFound
	}
	return &extractedLine, nil
}

// QualityFlags returns the recorded evidence-quality flags.
func (provider *ManifestProvider) QualityFlags(_ context.Context, line gates.LineReference) (gates.QualityFlags, error) {
	document, exists := provider.documents[manifestKey(line.Sheet, line.Sequence)]
	if !exists {
		return gates.QualityFlags{}, gates.ErrEvidenceNotFound
	}
	return gates.QualityFlags{CertificationMissing: document.CertificationMissing, SignatureRisk: document.SignatureRisk}, nil
}

func manifestKey(sheet string, sequence int) string {
	return fmt.Sprintf(manifestKeyTemplateConstant, strings.ToUpper(strings.TrimSpace(sheet)), sequence)
}

func normalizeCategory(category string) string {
	return strings.ToUpper(strings.Join(strings.Fields(category), " "))
}
