// Package gates runs the fixed battery of supporting-evidence checks for a line item.
package gates

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Gate names in evaluation order.
const (
	GateSupportingDocument = "Gate-1"
	GateLineExtracted      = "Gate-2"
	GateAmountMatches      = "Gate-3"
	GateQuantityMatches    = "Gate-4"
	GateUnitRateMatches    = "Gate-5"
)

// Status is the overall gate outcome.
type Status string

// Gate statuses.
const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

const (
	reasonNoSupportingDocument   = "no supporting document"
	reasonDocumentPresentFormat  = "%d supporting document(s)"
	reasonLineNotExtracted       = "no line item extracted for category %q"
	reasonLineExtracted          = "line item extracted"
	reasonFieldMissingFormat     = "document carries no %s"
	reasonFieldMatchesFormat     = "document %s %.4f matches declared %.4f"
	reasonFieldMismatchFormat    = "document %s %.4f differs from declared %.4f"
	amountFieldNameConstant      = "amount"
	quantityFieldNameConstant    = "quantity"
	unitRateFieldNameConstant    = "unit rate"
	evidenceCountErrorTemplate   = "evidence count failed: %w"
	evidenceExtractErrorTemplate = "evidence extraction failed: %w"
	negativeToleranceMessage     = "gate tolerances must be non-negative"
	gateCountConstant            = 5
)

// ErrEvidenceNotFound may be returned by providers to report absent evidence; it fails the
// affected gate instead of surfacing as an error.
var ErrEvidenceNotFound = errors.New("evidence not found")

// LineReference identifies a line item to the evidence service.
type LineReference struct {
	Sheet       string
	Sequence    int
	Description string
	Category    string
	UnitRate    float64
	Quantity    float64
	TotalAmount float64
}

// ExtractedLine holds the values read from a supporting document. Nil fields were not found.
type ExtractedLine struct {
	Amount   *float64 `yaml:"amount" json:"amount"`
	Quantity *float64 `yaml:"quantity" json:"quantity"`
	UnitRate *float64 `yaml:"unit_rate" json:"unit_rate"`
}

// QualityFlags are binary evidence-quality signals fed to the risk blender.
type QualityFlags struct {
	CertificationMissing bool `yaml:"certification_missing" json:"certification_missing"`
	SignatureRisk        bool `yaml:"signature_risk" json:"signature_risk"`
}

// EvidenceProvider is the document evidence service contract.
type EvidenceProvider interface {
	EvidenceCount(executionContext context.Context, line LineReference) (int, error)
	ExtractLineItem(executionContext context.Context, line LineReference, category string) (*ExtractedLine, error)
}

// QualityFlagProvider is implemented by evidence providers that also grade document quality.
type QualityFlagProvider interface {
	QualityFlags(executionContext context.Context, line LineReference) (QualityFlags, error)
}

// Detail records one gate outcome.
type Detail struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// Result is the outcome of the gate battery.
type Result struct {
	Status        Status            `json:"status"`
	FailedGates   []string          `json:"failed_gates"`
	Score         float64           `json:"score"`
	Details       map[string]Detail `json:"details"`
	EvidenceCount int               `json:"evidence_count"`
}

// Settings configures value matching and the evidence deadline.
type Settings struct {
	RelativeTolerancePercent float64       `mapstructure:"relative_tolerance_percent" yaml:"relative_tolerance_percent" json:"relative_tolerance_percent"`
	AbsoluteTolerance        float64       `mapstructure:"absolute_tolerance" yaml:"absolute_tolerance" json:"absolute_tolerance"`
	Timeout                  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// DefaultSettings returns a 1% relative tolerance, one cent absolute tolerance, and a
// five second evidence deadline.
func DefaultSettings() Settings {
	return Settings{RelativeTolerancePercent: 1, AbsoluteTolerance: 0.01, Timeout: 5 * time.Second}
}

// Evaluator runs the gate battery against an evidence provider.
type Evaluator struct {
	provider EvidenceProvider
	settings Settings
}

// NewEvaluator builds an Evaluator. A nil provider makes every gate fail for lack of evidence.
func NewEvaluator(provider EvidenceProvider, settings Settings) (*Evaluator, error) {
	if settings.RelativeTolerancePercent < 0 || settings.AbsoluteTolerance < 0 {
		return nil, errors.New(negativeToleranceMessage)
	}
	return &Evaluator{provider: provider, settings: settings}, nil
}

// Evaluate runs every gate in order. Missing evidence fails gates; any other provider error is
// returned together with the partial result.
func (evaluator *Evaluator) Evaluate(executionContext context.Context, line LineReference) (Result, error) {
	recorder := newResultRecorder()

	if evaluator.provider == nil {
		recorder.failRemaining(reasonNoSupportingDocument)
		return recorder.result(0), nil
	}

	evidenceContext, cancel := evaluator.withDeadline(executionContext)
	defer cancel()

	evidenceCount, countError := evaluator.provider.EvidenceCount(evidenceContext, line)
	if countError != nil && !errors.Is(countError, ErrEvidenceNotFound) {
		recorder.failRemaining(countError.Error())
		return recorder.result(0), fmt.Errorf(evidenceCountErrorTemplate, countError)
	}
	if countError != nil || evidenceCount < 1 {
		recorder.failRemaining(reasonNoSupportingDocument)
		return recorder.result(0), nil
	}
	recorder.record(GateSupportingDocument, true, fmt.Sprintf(reasonDocumentPresentFormat, evidenceCount))

	extractedLine, extractError := evaluator.provider.ExtractLineItem(evidenceContext, line, line.Category)
	if extractError != nil && !errors.Is(extractError, ErrEvidenceNotFound) {
		recorder.failRemaining(extractError.Error())
		return recorder.result(evidenceCount), fmt.Errorf(evidenceExtractErrorTemplate, extractError)
	}
	if extractError != nil || extractedLine == nil {
		recorder.failRemaining(fmt.Sprintf(reasonLineNotExtracted, line.Category))
		return recorder.result(evidenceCount), nil
	}
	recorder.record(GateLineExtracted, true, reasonLineExtracted)

	evaluator.compare(recorder, GateAmountMatches, amountFieldNameConstant, extractedLine.Amount, line.TotalAmount)
	evaluator.compare(recorder, GateQuantityMatches, quantityFieldNameConstant, extractedLine.Quantity, line.Quantity)
	evaluator.compare(recorder, GateUnitRateMatches, unitRateFieldNameConstant, extractedLine.UnitRate, line.UnitRate)
	return recorder.result(evidenceCount), nil
}

// QualityFlags asks the provider for evidence-quality flags when it supports them.
func (evaluator *Evaluator) QualityFlags(executionContext context.Context, line LineReference) (QualityFlags, error) {
	flagProvider, supported := evaluator.provider.(QualityFlagProvider)
	if !supported {
		return QualityFlags{}, nil
	}
	evidenceContext, cancel := evaluator.withDeadline(executionContext)
	defer cancel()
	flags, flagsError := flagProvider.QualityFlags(evidenceContext, line)
	if errors.Is(flagsError, ErrEvidenceNotFound) {
		return QualityFlags{}, nil
	}
	return flags, flagsError
}

func (evaluator *Evaluator) withDeadline(executionContext context.Context) (context.Context, context.CancelFunc) {
	if evaluator.settings.Timeout > 0 {
		return context.WithTimeout(executionContext, evaluator.settings.Timeout)
	}
	return context.WithCancel(executionContext)
}

func (evaluator *Evaluator) compare(recorder *resultRecorder, gateName string, fieldName string, documentValue *float64, declaredValue float64) {
	if documentValue == nil {
		recorder.record(gateName, false, fmt.Sprintf(reasonFieldMissingFormat, fieldName))
		return
	}
	if evaluator.withinTolerance(*documentValue, declaredValue) {
		recorder.record(gateName, true, fmt.Sprintf(reasonFieldMatchesFormat, fieldName, *documentValue, declaredValue))
		return
	}
	recorder.record(gateName, false, fmt.Sprintf(reasonFieldMismatchFormat, fieldName, *documentValue, declaredValue))
}

func (evaluator *Evaluator) withinTolerance(documentValue float64, declaredValue float64) bool {
	allowed := math.Max(evaluator.settings.AbsoluteTolerance, math.Abs(declaredValue)*evaluator.settings.RelativeTolerancePercent/100)
	return math.Abs(documentValue-declaredValue) <= allowed
}

// GateNames lists the gates in evaluation order.
func GateNames() []string {
	return []string{GateSupportingDocument, GateLineExtracted, GateAmountMatches, GateQuantityMatches, GateUnitRateMatches}
}

type resultRecorder struct {
	details map[string]Detail
}

func newResultRecorder() *resultRecorder {
	return &resultRecorder{details: make(map[string]Detail, gateCountConstant)}
}

func (recorder *resultRecorder) record(gateName string, passed bool, reason string) {
	recorder.details[gateName] = Detail{Passed: passed, Reason: reason}
}

func (recorder *resultRecorder) failRemaining(reason string) {
	for _, gateName := range GateNames() {
		if _, recorded := recorder.details[gateName]; !recorded {
			recorder.record(gateName, false, reason)
		}
	}
}

func (recorder *resultRecorder) result(evidenceCount int) Result {
	result := Result{Details: recorder.details, FailedGates: []string{}, EvidenceCount: evidenceCount}
	passedCount := 0
	for _, gateName := range GateNames() {
		if recorder.details[gateName].Passed {
			passedCount++
			continue
		}
		result.FailedGates = append(result.FailedGates, gateName)
	}
	result.Score = float64(passedCount) / float64(gateCountConstant) * 100
	result.Status = StatusPass
	if len(result.FailedGates) > 0 {
		result.Status = StatusFail
	}
	return result
}
