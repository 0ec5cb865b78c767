package costguard_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/freightaudit/internal/costguard"
)

func TestDeltaPercent(testInstance *testing.T) {
	testCases := []struct {
		name      string
		draft     float64
		reference float64
		expected  float64
	}{
		{name: "overcharge", draft: 110, reference: 100, expected: 10},
		{name: "undercharge", draft: 90, reference: 100, expected: -10},
		{name: "zero_reference_guard", draft: 500, reference: 0, expected: 0},
		{name: "zero_draft", draft: 0, reference: 80, expected: -100},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			require.InDelta(testInstance, testCase.expected, costguard.DeltaPercent(testCase.draft, testCase.reference), 1e-9)
		})
	}
}

func TestDeltaPercentOfIdenticalRatesIsZero(testInstance *testing.T) {
	for _, value := range []float64{-250, -1, 0.0001, 1, 3.14159, 42, 1e9} {
		require.Zero(testInstance, costguard.DeltaPercent(value, value))
	}
}

func TestThresholdsClassifyScenarios(testInstance *testing.T) {
	thresholds := costguard.Thresholds{Pass: 3, Warn: 5, High: 10, AutoFail: 15}

	testCases := []struct {
		name             string
		delta            float64
		expectedBand     costguard.Band
		expectedAutoFail bool
	}{
		{name: "within_pass", delta: 1.5, expectedBand: costguard.BandPass, expectedAutoFail: false},
		{name: "pass_boundary_inclusive", delta: 3, expectedBand: costguard.BandPass, expectedAutoFail: false},
		{name: "warn", delta: -4.2, expectedBand: costguard.BandWarn, expectedAutoFail: false},
		{name: "high_without_autofail", delta: 7.5, expectedBand: costguard.BandHigh, expectedAutoFail: false},
		{name: "critical_below_autofail", delta: 12, expectedBand: costguard.BandCritical, expectedAutoFail: false},
		{name: "critical_with_autofail", delta: 16, expectedBand: costguard.BandCritical, expectedAutoFail: true},
		{name: "negative_autofail", delta: -40, expectedBand: costguard.BandCritical, expectedAutoFail: true},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			delta := testCase.delta
			require.Equal(testInstance, testCase.expectedBand, thresholds.Classify(&delta))
			require.Equal(testInstance, testCase.expectedAutoFail, thresholds.ShouldAutoFail(delta))
		})
	}
}

func TestThresholdsClassifyNilDeltaIsNotApplicable(testInstance *testing.T) {
	require.Equal(testInstance, costguard.BandNotApplicable, costguard.DefaultThresholds().Classify(nil))
}

func TestThresholdsClassifyIsMonotonic(testInstance *testing.T) {
	thresholds := costguard.DefaultThresholds()

	previousSeverity := costguard.BandPass.Severity()
	for step := 0; step <= 400; step++ {
		magnitude := float64(step) * 0.1
		for _, delta := range []float64{magnitude, -magnitude} {
			severity := thresholds.ClassifyDelta(delta).Severity()
			require.GreaterOrEqual(testInstance, severity, previousSeverity, "delta %v", delta)
			previousSeverity = severity
		}
	}
}

func TestAutoFailIsIndependentOfBandLadder(testInstance *testing.T) {
	lenientAutoFail := costguard.Thresholds{Pass: 1, Warn: 2, High: 3, AutoFail: 50}
	strictAutoFail := costguard.Thresholds{Pass: 5, Warn: 10, High: 20, AutoFail: 8}

	require.Equal(testInstance, costguard.BandCritical, lenientAutoFail.ClassifyDelta(10))
	require.False(testInstance, lenientAutoFail.ShouldAutoFail(10))

	require.Equal(testInstance, costguard.BandHigh, strictAutoFail.ClassifyDelta(10))
	require.True(testInstance, strictAutoFail.ShouldAutoFail(10))
}

func TestThresholdsValidate(testInstance *testing.T) {
	require.NoError(testInstance, costguard.DefaultThresholds().Validate())
	require.Error(testInstance, costguard.Thresholds{Pass: 5, Warn: 3, High: 10, AutoFail: 15}.Validate())
	require.Error(testInstance, costguard.Thresholds{Pass: -1, Warn: 3, High: 10, AutoFail: 15}.Validate())
	require.Error(testInstance, costguard.Thresholds{Pass: 1, Warn: 3, High: 10, AutoFail: 0}.Validate())
}

func TestPortalThresholdsClassify(testInstance *testing.T) {
	thresholds := costguard.DefaultPortalThresholds()

	require.Equal(testInstance, costguard.PortalStatusPass, thresholds.Classify(0.4))
	require.Equal(testInstance, costguard.PortalStatusPass, thresholds.Classify(-0.5))
	require.Equal(testInstance, costguard.PortalStatusWarn, thresholds.Classify(2))
	require.Equal(testInstance, costguard.PortalStatusWarn, thresholds.Classify(5))
	require.Equal(testInstance, costguard.PortalStatusFail, thresholds.Classify(5.01))
	require.NoError(testInstance, thresholds.Validate())
	require.Error(testInstance, costguard.PortalThresholds{Pass: 6, Warn: 5}.Validate())
}
