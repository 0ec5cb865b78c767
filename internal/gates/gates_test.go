package gates_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/freightaudit/internal/gates"
)

const testCategoryConstant = "TERMINAL HANDLING"

type stubEvidenceProvider struct {
	evidenceCount  int
	countError     error
	extractedLine  *gates.ExtractedLine
	extractError   error
	flags          gates.QualityFlags
	receivedLabels []string
}

func (provider *stubEvidenceProvider) EvidenceCount(_ context.Context, _ gates.LineReference) (int, error) {
	return provider.evidenceCount, provider.countError
}

func (provider *stubEvidenceProvider) ExtractLineItem(_ context.Context, _ gates.LineReference, category string) (*gates.ExtractedLine, error) {
	provider.receivedLabels = append(provider.receivedLabels, category)
	return provider.extractedLine, provider.extractError
}

func (provider *stubEvidenceProvider) QualityFlags(_ context.Context, _ gates.LineReference) (gates.QualityFlags, error) {
	return provider.flags, nil
}

type blockingEvidenceProvider struct{}

func (blockingEvidenceProvider) EvidenceCount(executionContext context.Context, _ gates.LineReference) (int, error) {
	<-executionContext.Done()
	return 0, executionContext.Err()
}

func (blockingEvidenceProvider) ExtractLineItem(context.Context, gates.LineReference, string) (*gates.ExtractedLine, error) {
	return nil, nil
}

func floatPointer(value float64) *float64 {
	return &value
}

func testLine() gates.LineReference {
	return gates.LineReference{Sequence: 1, Category: testCategoryConstant, UnitRate: 120, Quantity: 2, TotalAmount: 240}
}

func TestEvaluatorScenarios(testInstance *testing.T) {
	testCases := []struct {
		name                string
		provider            *stubEvidenceProvider
		expectedStatus      gates.Status
		expectedFailedGates []string
		expectedScore       float64
	}{
		{
			name: "all_gates_pass",
			provider: &stubEvidenceProvider{evidenceCount: 2, extractedLine: &gates.ExtractedLine{
				Amount: floatPointer(240.5), Quantity: floatPointer(2), UnitRate: floatPointer(120),
			}},
			expectedStatus:      gates.StatusPass,
			expectedFailedGates: []string{},
			expectedScore:       100,
		},
		{
			name:                "no_document",
			provider:            &stubEvidenceProvider{evidenceCount: 0},
			expectedStatus:      gates.StatusFail,
			expectedFailedGates: gates.GateNames(),
			expectedScore:       0,
		},
		{
			name:                "not_found_is_absence",
			provider:            &stubEvidenceProvider{countError: gates.ErrEvidenceNotFound},
			expectedStatus:      gates.StatusFail,
			expectedFailedGates: gates.GateNames(),
			expectedScore:       0,
		},
		{
			name:                "document_without_line",
			provider:            &stubEvidenceProvider{evidenceCount: 1},
			expectedStatus:      gates.StatusFail,
			expectedFailedGates: []string{gates.GateLineExtracted, gates.GateAmountMatches, gates.GateQuantityMatches, gates.GateUnitRateMatches},
			expectedScore:       20,
		},
		{
			name: "amount_mismatch_and_missing_rate",
			provider: &stubEvidenceProvider{evidenceCount: 1, extractedLine: &gates.ExtractedLine{
				Amount: floatPointer(300), Quantity: floatPointer(2),
			}},
			expectedStatus:      gates.StatusFail,
			expectedFailedGates: []string{gates.GateAmountMatches, gates.GateUnitRateMatches},
			expectedScore:       60,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			evaluator, evaluatorError := gates.NewEvaluator(testCase.provider, gates.DefaultSettings())
			require.NoError(testInstance, evaluatorError)

			result, evaluateError := evaluator.Evaluate(context.Background(), testLine())
			require.NoError(testInstance, evaluateError)
			require.Equal(testInstance, testCase.expectedStatus, result.Status)
			require.Equal(testInstance, testCase.expectedFailedGates, result.FailedGates)
			require.InDelta(testInstance, testCase.expectedScore, result.Score, 1e-9)
			require.Len(testInstance, result.Details, len(gates.GateNames()))
		})
	}
}

func TestEvaluatorPassesCategoryToExtraction(testInstance *testing.T) {
	provider := &stubEvidenceProvider{evidenceCount: 1}
	evaluator, evaluatorError := gates.NewEvaluator(provider, gates.DefaultSettings())
	require.NoError(testInstance, evaluatorError)

	_, evaluateError := evaluator.Evaluate(context.Background(), testLine())
	require.NoError(testInstance, evaluateError)
	require.Equal(testInstance, []string{testCategoryConstant}, provider.receivedLabels)
}

func TestEvaluatorReturnsUnexpectedProviderErrors(testInstance *testing.T) {
	provider := &stubEvidenceProvider{evidenceCount: 1, extractError: errors.New("parser crashed")}
	evaluator, evaluatorError := gates.NewEvaluator(provider, gates.DefaultSettings())
	require.NoError(testInstance, evaluatorError)

	result, evaluateError := evaluator.Evaluate(context.Background(), testLine())
	require.Error(testInstance, evaluateError)
	require.Contains(testInstance, evaluateError.Error(), "parser crashed")
	require.Equal(testInstance, gates.StatusFail, result.Status)
	require.Equal(testInstance, 1, result.EvidenceCount)
}

func TestEvaluatorEnforcesEvidenceTimeout(testInstance *testing.T) {
	settings := gates.DefaultSettings()
	settings.Timeout = 10 * time.Millisecond
	evaluator, evaluatorError := gates.NewEvaluator(blockingEvidenceProvider{}, settings)
	require.NoError(testInstance, evaluatorError)

	result, evaluateError := evaluator.Evaluate(context.Background(), testLine())
	require.ErrorIs(testInstance, evaluateError, context.DeadlineExceeded)
	require.Equal(testInstance, gates.StatusFail, result.Status)
}

func TestEvaluatorWithoutProvider(testInstance *testing.T) {
	evaluator, evaluatorError := gates.NewEvaluator(nil, gates.DefaultSettings())
	require.NoError(testInstance, evaluatorError)

	result, evaluateError := evaluator.Evaluate(context.Background(), testLine())
	require.NoError(testInstance, evaluateError)
	require.Equal(testInstance, gates.StatusFail, result.Status)
	require.Zero(testInstance, result.Score)

	flags, flagsError := evaluator.QualityFlags(context.Background(), testLine())
	require.NoError(testInstance, flagsError)
	require.Equal(testInstance, gates.QualityFlags{}, flags)
}

func TestEvaluatorQualityFlags(testInstance *testing.T) {
	provider := &stubEvidenceProvider{flags: gates.QualityFlags{SignatureRisk: true}}
	evaluator, evaluatorError := gates.NewEvaluator(provider, gates.DefaultSettings())
	require.NoError(testInstance, evaluatorError)

	flags, flagsError := evaluator.QualityFlags(context.Background(), testLine())
	require.NoError(testInstance, flagsError)
	require.True(testInstance, flags.SignatureRisk)
	require.False(testInstance, flags.CertificationMissing)
}

func TestNewEvaluatorRejectsNegativeTolerance(testInstance *testing.T) {
	_, evaluatorError := gates.NewEvaluator(nil, gates.Settings{RelativeTolerancePercent: -1})
	require.Error(testInstance, evaluatorError)
}
