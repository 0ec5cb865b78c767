package anomaly_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/freightaudit/internal/anomaly"
)

const (
	terminalHandlingCategoryConstant = "TERMINAL HANDLING"
	storageCategoryConstant          = "STORAGE"
	disabledLaneConstant             = "jebel ali->dubai"
)

func robustBaseline() []anomaly.Features {
	return []anomaly.Features{
		{Category: terminalHandlingCategoryConstant, UnitRate: 100},
		{Category: terminalHandlingCategoryConstant, UnitRate: 102},
		{Category: terminalHandlingCategoryConstant, UnitRate: 98},
		{Category: terminalHandlingCategoryConstant, UnitRate: 101},
		{Category: terminalHandlingCategoryConstant, UnitRate: 99},
		{Category: storageCategoryConstant, UnitRate: 20},
		{Category: storageCategoryConstant, UnitRate: 22},
	}
}

func TestRobustScorerGrading(testInstance *testing.T) {
	scorer, scorerError := anomaly.New(anomaly.DefaultSettings(), robustBaseline())
	require.NoError(testInstance, scorerError)
	require.Equal(testInstance, anomaly.StrategyRobustZScore, scorer.Strategy())

	testCases := []struct {
		name               string
		features           anomaly.Features
		expectedValue      float64
		expectedRiskLevel  anomaly.RiskLevel
		expectedFlagged    bool
		expectedPopulation string
	}{
		{name: "at_median", features: anomaly.Features{Category: "terminal  handling", UnitRate: 100}, expectedValue: 0, expectedRiskLevel: anomaly.RiskLevelNone, expectedFlagged: false, expectedPopulation: "category"},
		{name: "low_threshold_inclusive", features: anomaly.Features{Category: terminalHandlingCategoryConstant, UnitRate: 110}, expectedValue: 2, expectedRiskLevel: anomaly.RiskLevelLow, expectedFlagged: true, expectedPopulation: "category"},
		{name: "medium", features: anomaly.Features{Category: terminalHandlingCategoryConstant, UnitRate: 80}, expectedValue: 4, expectedRiskLevel: anomaly.RiskLevelMedium, expectedFlagged: true, expectedPopulation: "category"},
		{name: "high", features: anomaly.Features{Category: terminalHandlingCategoryConstant, UnitRate: 130}, expectedValue: 6, expectedRiskLevel: anomaly.RiskLevelHigh, expectedFlagged: true, expectedPopulation: "category"},
		{name: "small_category_uses_global", features: anomaly.Features{Category: storageCategoryConstant, UnitRate: 99}, expectedValue: 0, expectedRiskLevel: anomaly.RiskLevelNone, expectedFlagged: false, expectedPopulation: "global"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			score := scorer.ScoreItem(testCase.features)
			require.True(testInstance, score.Enabled)
			require.InDelta(testInstance, testCase.expectedValue, score.Value, 1e-9)
			require.Equal(testInstance, testCase.expectedRiskLevel, score.RiskLevel)
			require.Equal(testInstance, testCase.expectedFlagged, score.Flagged)
			require.Equal(testInstance, testCase.expectedPopulation, score.Details[anomaly.DetailPopulationKey])
		})
	}
}

func TestRobustScorerSpreadFloorAvoidsBlowUp(testInstance *testing.T) {
	settings := anomaly.DefaultSettings()
	settings.MinRelativeSpread = 0
	baseline := []anomaly.Features{{UnitRate: 50}, {UnitRate: 50}, {UnitRate: 50}}

	scorer, scorerError := anomaly.New(settings, baseline)
	require.NoError(testInstance, scorerError)

	score := scorer.ScoreItem(anomaly.Features{UnitRate: 50})
	require.Zero(testInstance, score.Value)
	require.False(testInstance, score.Flagged)

	outlier := scorer.ScoreItem(anomaly.Features{UnitRate: 51})
	require.True(testInstance, outlier.Flagged)
	require.Greater(testInstance, outlier.Value, 1.0)
}

func TestNewReportsModelUnavailable(testInstance *testing.T) {
	testCases := []struct {
		name     string
		settings func() anomaly.Settings
		baseline []anomaly.Features
	}{
		{name: "robust_empty_baseline", settings: anomaly.DefaultSettings, baseline: nil},
		{
			name: "forest_empty_baseline",
			settings: func() anomaly.Settings {
				settings := anomaly.DefaultSettings()
				settings.Strategy = anomaly.StrategyIsolationForest
				return settings
			},
		},
		{
			name: "forest_bad_contamination",
			settings: func() anomaly.Settings {
				settings := anomaly.DefaultSettings()
				settings.Strategy = anomaly.StrategyIsolationForest
				settings.IsolationForest.Contamination = 0.9
				return settings
			},
			baseline: robustBaseline(),
		},
		{
			name: "unordered_thresholds",
			settings: func() anomaly.Settings {
				settings := anomaly.DefaultSettings()
				settings.Thresholds = anomaly.Thresholds{Low: 5, Medium: 3, High: 1}
				return settings
			},
			baseline: robustBaseline(),
		},
		{
			name: "unknown_strategy",
			settings: func() anomaly.Settings {
				settings := anomaly.DefaultSettings()
				settings.Strategy = "neural_net"
				return settings
			},
			baseline: robustBaseline(),
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			scorer, scorerError := anomaly.New(testCase.settings(), testCase.baseline)
			require.Nil(testInstance, scorer)
			var modelError *anomaly.ModelUnavailableError
			require.True(testInstance, errors.As(scorerError, &modelError))
			require.NotNil(testInstance, modelError.Cause)
		})
	}
}

func TestNewOrDisabledDegradesAndLogs(testInstance *testing.T) {
	observedCore, observedLogs := observer.New(zapcore.WarnLevel)

	scorer := anomaly.NewOrDisabled(anomaly.DefaultSettings(), nil, zap.New(observedCore))
	require.Equal(testInstance, anomaly.StrategyDisabled, scorer.Strategy())

	score := scorer.ScoreItem(anomaly.Features{UnitRate: 1e6})
	require.False(testInstance, score.Enabled)
	require.False(testInstance, score.Flagged)
	require.Zero(testInstance, score.Value)
	require.Equal(testInstance, anomaly.RiskLevelNone, score.RiskLevel)
	reason, isString := score.Details[anomaly.DetailReasonKey].(string)
	require.True(testInstance, isString)
	require.True(testInstance, strings.HasPrefix(reason, anomaly.ReasonModelUnavailable))

	require.Equal(testInstance, 1, observedLogs.Len())
	require.Equal(testInstance, string(anomaly.StrategyRobustZScore), observedLogs.All()[0].ContextMap()["strategy"])
}

func TestNewOrDisabledKeepsWorkingModel(testInstance *testing.T) {
	scorer := anomaly.NewOrDisabled(anomaly.DefaultSettings(), robustBaseline(), nil)
	require.Equal(testInstance, anomaly.StrategyRobustZScore, scorer.Strategy())
}

func TestDisabledStrategy(testInstance *testing.T) {
	settings := anomaly.DefaultSettings()
	settings.Strategy = anomaly.StrategyDisabled

	scorer, scorerError := anomaly.New(settings, nil)
	require.NoError(testInstance, scorerError)
	score := scorer.ScoreItem(anomaly.Features{UnitRate: 10})
	require.False(testInstance, score.Enabled)
	require.Equal(testInstance, anomaly.ReasonDisabledByStrategy, score.Details[anomaly.DetailReasonKey])
}

func TestLaneDisabledOverride(testInstance *testing.T) {
	settings := anomaly.DefaultSettings()
	settings.DisabledLanes = []string{disabledLaneConstant}

	scorer, scorerError := anomaly.New(settings, robustBaseline())
	require.NoError(testInstance, scorerError)

	disabledScore := scorer.ScoreItem(anomaly.Features{
		Category: terminalHandlingCategoryConstant,
		Lane:     anomaly.LaneKey("Jebel Ali", "Dubai"),
		UnitRate: 10000,
	})
	require.False(testInstance, disabledScore.Enabled)
	require.False(testInstance, disabledScore.Flagged)
	require.Equal(testInstance, anomaly.ReasonLaneDisabled, disabledScore.Details[anomaly.DetailReasonKey])

	otherLaneScore := scorer.ScoreItem(anomaly.Features{
		Category: terminalHandlingCategoryConstant,
		Lane:     anomaly.LaneKey("Jebel Ali", "Abu Dhabi"),
		UnitRate: 10000,
	})
	require.True(testInstance, otherLaneScore.Enabled)
	require.True(testInstance, otherLaneScore.Flagged)
}

func TestScoreBatchSummary(testInstance *testing.T) {
	settings := anomaly.DefaultSettings()
	settings.DisabledLanes = []string{disabledLaneConstant}
	scorer, scorerError := anomaly.New(settings, robustBaseline())
	require.NoError(testInstance, scorerError)

	summary := scorer.ScoreBatch([]anomaly.Features{
		{Category: terminalHandlingCategoryConstant, UnitRate: 100},
		{Category: terminalHandlingCategoryConstant, UnitRate: 130},
		{Category: terminalHandlingCategoryConstant, UnitRate: 110},
		{Category: terminalHandlingCategoryConstant, UnitRate: 500, Lane: "JEBEL ALI->DUBAI"},
	})

	require.Equal(testInstance, 2, summary.FlaggedCount)
	require.InDelta(testInstance, (0.0+6.0+2.0)/3.0, summary.AverageScore, 1e-9)
	require.Equal(testInstance, map[anomaly.RiskLevel]int{
		anomaly.RiskLevelNone:   2,
		anomaly.RiskLevelLow:    1,
		anomaly.RiskLevelMedium: 0,
		anomaly.RiskLevelHigh:   1,
	}, summary.RiskHistogram)
}

func forestBaseline() []anomaly.Features {
	baseline := make([]anomaly.Features, 0, 200)
	for sampleIndex := 0; sampleIndex < 200; sampleIndex++ {
		unitRate := 95 + float64(sampleIndex%11)
		quantity := 1 + float64(sampleIndex%3)
		baseline = append(baseline, anomaly.Features{UnitRate: unitRate, Quantity: quantity, TotalAmount: unitRate * quantity})
	}
	return baseline
}

func TestIsolationForestScorer(testInstance *testing.T) {
	settings := anomaly.DefaultSettings()
	settings.Strategy = anomaly.StrategyIsolationForest

	scorer, scorerError := anomaly.New(settings, forestBaseline())
	require.NoError(testInstance, scorerError)
	require.Equal(testInstance, anomaly.StrategyIsolationForest, scorer.Strategy())

	typical := scorer.ScoreItem(anomaly.Features{UnitRate: 100, Quantity: 2, TotalAmount: 200})
	require.True(testInstance, typical.Enabled)
	require.False(testInstance, typical.Flagged)
	require.Zero(testInstance, typical.Value)
	require.Equal(testInstance, anomaly.RiskLevelNone, typical.RiskLevel)

	outlier := scorer.ScoreItem(anomaly.Features{UnitRate: 5000, Quantity: 1, TotalAmount: 5000})
	require.True(testInstance, outlier.Flagged)
	require.Greater(testInstance, outlier.Value, 0.0)
	require.LessOrEqual(testInstance, outlier.Value, settings.IsolationForest.ScoreScale)
	require.Greater(testInstance, outlier.Details[anomaly.DetailRawScoreKey], typical.Details[anomaly.DetailRawScoreKey])
}

func TestIsolationForestIsDeterministic(testInstance *testing.T) {
	settings := anomaly.DefaultSettings()
	settings.Strategy = anomaly.StrategyIsolationForest

	firstScorer, firstError := anomaly.New(settings, forestBaseline())
	require.NoError(testInstance, firstError)
	secondScorer, secondError := anomaly.New(settings, forestBaseline())
	require.NoError(testInstance, secondError)

	probe := anomaly.Features{UnitRate: 140, Quantity: 2, TotalAmount: 280}
	require.Equal(testInstance, firstScorer.ScoreItem(probe), secondScorer.ScoreItem(probe))
}

func TestThresholdsLevelAndValidate(testInstance *testing.T) {
	thresholds := anomaly.DefaultThresholds()
	require.NoError(testInstance, thresholds.Validate())
	require.Equal(testInstance, anomaly.RiskLevelNone, thresholds.Level(1.99))
	require.Equal(testInstance, anomaly.RiskLevelLow, thresholds.Level(2))
	require.Equal(testInstance, anomaly.RiskLevelMedium, thresholds.Level(3.5))
	require.Equal(testInstance, anomaly.RiskLevelHigh, thresholds.Level(50))
	require.Error(testInstance, anomaly.Thresholds{Low: 0, Medium: 1, High: 2}.Validate())
}

func TestParseStrategy(testInstance *testing.T) {
	testCases := []struct {
		input    string
		expected anomaly.Strategy
		fails    bool
	}{
		{input: "ROBUST_ZSCORE", expected: anomaly.StrategyRobustZScore},
		{input: " isolation_forest ", expected: anomaly.StrategyIsolationForest},
		{input: "", expected: anomaly.StrategyDisabled},
		{input: "disabled", expected: anomaly.StrategyDisabled},
		{input: "svm", fails: true},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.input), func(testInstance *testing.T) {
			strategy, parseError := anomaly.ParseStrategy(testCase.input)
			if testCase.fails {
				require.Error(testInstance, parseError)
				return
			}
			require.NoError(testInstance, parseError)
			require.Equal(testInstance, testCase.expected, strategy)
		})
	}
}

func TestLaneKey(testInstance *testing.T) {
	require.Equal(testInstance, "JEBEL ALI->DUBAI", anomaly.LaneKey(" jebel ali ", "Dubai"))
	require.Empty(testInstance, anomaly.LaneKey("", " "))
}
