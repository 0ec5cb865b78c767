package engine_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/freightaudit/internal/anomaly"
	"github.com/temirov/freightaudit/internal/catalog"
	"github.com/temirov/freightaudit/internal/costguard"
	"github.com/temirov/freightaudit/internal/engine"
	"github.com/temirov/freightaudit/internal/gates"
	"github.com/temirov/freightaudit/internal/normalize"
	"github.com/temirov/freightaudit/internal/rates"
	"github.com/temirov/freightaudit/internal/risk"
)

const (
	storageDescriptionConstant = "Warehouse Storage (per day)"
	portalDescriptionConstant  = "Mirsal portal fee"
	disabledLaneConstant       = "JEBEL ALI->DUBAI"
)

type echoEvidenceProvider struct {
	flags gates.QualityFlags
}

func (provider echoEvidenceProvider) EvidenceCount(context.Context, gates.LineReference) (int, error) {
	return 1, nil
}

func (provider echoEvidenceProvider) ExtractLineItem(_ context.Context, line gates.LineReference, _ string) (*gates.ExtractedLine, error) {
	amount := line.TotalAmount
	quantity := line.Quantity
	unitRate := line.UnitRate
	return &gates.ExtractedLine{Amount: &amount, Quantity: &quantity, UnitRate: &unitRate}, nil
}

func (provider echoEvidenceProvider) QualityFlags(context.Context, gates.LineReference) (gates.QualityFlags, error) {
	return provider.flags, nil
}

type panickingScorer struct{}

func (panickingScorer) Strategy() anomaly.Strategy {
	return anomaly.StrategyRobustZScore
}

func (panickingScorer) ScoreItem(anomaly.Features) anomaly.Score {
	panic("model corrupted")
}

func (panickingScorer) ScoreBatch([]anomaly.Features) anomaly.BatchSummary {
	return anomaly.BatchSummary{}
}

type engineOptions struct {
	provider     gates.EvidenceProvider
	scorer       anomaly.Scorer
	trigger      float64
	concurrency  int
	logger       *zap.Logger
	withoutGates bool
	thresholds   *costguard.Thresholds
}

func newTestEngine(testInstance *testing.T, options engineOptions) *engine.Engine {
	testInstance.Helper()

	rateCatalog, catalogError := catalog.New(catalog.Document{
		ExchangeRates: map[string]float64{"AED": 3.6725},
		FixedFees: map[string]catalog.FixedFeeDefinition{
			rates.FixedFeeCodePortal: {Rates: map[string]float64{catalog.DefaultModeKeyConstant: 100}},
		},
		Lanes: []catalog.Lane{{Origin: "JEBEL ALI", Destination: "DUBAI", Rate: 450}},
		ContractRates: []catalog.ContractRate{
			{Description: "STORAGE", Rate: 100},
			{Description: "DUTY", Rate: 0},
		},
	})
	require.NoError(testInstance, catalogError)

	normalizer, normalizerError := normalize.NewCategoryNormalizer([]normalize.Synonym{{Term: "WAREHOUSE STORAGE", Canonical: "STORAGE"}})
	require.NoError(testInstance, normalizerError)
	locationIndex := normalize.NewLocationIndex(map[string]string{"JEA": "JEBEL ALI"}, map[string]string{"DXB": "DUBAI"})

	trigger := options.trigger
	if trigger == 0 {
		trigger = 0.6
	}
	thresholds := costguard.DefaultThresholds()
	if options.thresholds != nil {
		thresholds = *options.thresholds
	}
	blender, blenderError := risk.NewBlender(risk.DefaultWeights(), trigger, thresholds.AutoFail)
	require.NoError(testInstance, blenderError)

	var gateEvaluator *gates.Evaluator
	if !options.withoutGates {
		provider := options.provider
		if provider == nil {
			provider = echoEvidenceProvider{}
		}
		var evaluatorError error
		gateEvaluator, evaluatorError = gates.NewEvaluator(provider, gates.DefaultSettings())
		require.NoError(testInstance, evaluatorError)
	}

	auditEngine, engineError := engine.New(engine.Dependencies{
		Normalizer:        normalizer,
		LocationIndex:     locationIndex,
		Resolver:          rates.NewResolver(rates.DefaultTiers(rateCatalog, locationIndex)...),
		Converter:         rateCatalog.Converter(),
		Thresholds:        thresholds,
		PortalThresholds:  costguard.DefaultPortalThresholds(),
		Scorer:            options.scorer,
		AnomalyThresholds: anomaly.DefaultThresholds(),
		Blender:           blender,
		Gates:             gateEvaluator,
		Concurrency:       options.concurrency,
		Logger:            options.logger,
	})
	require.NoError(testInstance, engineError)
	return auditEngine
}

func storageItem(unitRate float64) engine.LineItem {
	return engine.LineItem{Sequence: 1, Sheet: "INV-1", Description: storageDescriptionConstant, UnitRate: unitRate, Quantity: 1, TotalAmount: unitRate, Currency: "USD"}
}

func TestEvaluateScenarios(testInstance *testing.T) {
	auditEngine := newTestEngine(testInstance, engineOptions{})

	testCases := []struct {
		name                string
		item                engine.LineItem
		expectedBand        costguard.Band
		expectedAutoFail    bool
		expectedStatus      engine.Status
		expectedChargeGroup engine.ChargeGroup
		expectedDelta       float64
	}{
		{
			name:                "within_pass_band",
			item:                storageItem(101.5),
			expectedBand:        costguard.BandPass,
			expectedStatus:      engine.StatusPass,
			expectedChargeGroup: engine.ChargeGroupContractFixed,
			expectedDelta:       1.5,
		},
		{
			name:                "high_band_without_autofail",
			item:                storageItem(107.5),
			expectedBand:        costguard.BandHigh,
			expectedStatus:      engine.StatusReviewNeeded,
			expectedChargeGroup: engine.ChargeGroupContractFixed,
			expectedDelta:       7.5,
		},
		{
			name:                "autofail_dominates",
			item:                storageItem(116),
			expectedBand:        costguard.BandCritical,
			expectedAutoFail:    true,
			expectedStatus:      engine.StatusFail,
			expectedChargeGroup: engine.ChargeGroupContractFixed,
			expectedDelta:       16,
		},
		{
			name:                "converted_draft_currency",
			item:                engine.LineItem{Description: "STORAGE", UnitRate: 367.25, Quantity: 1, TotalAmount: 367.25, Currency: "AED"},
			expectedBand:        costguard.BandPass,
			expectedStatus:      engine.StatusPass,
			expectedChargeGroup: engine.ChargeGroupContractFixed,
			expectedDelta:       0,
		},
		{
			name:                "missing_reference",
			item:                engine.LineItem{Description: "Mystery surcharge", UnitRate: 80, Quantity: 1, TotalAmount: 80},
			expectedBand:        costguard.BandNotApplicable,
			expectedStatus:      engine.StatusReviewNeeded,
			expectedChargeGroup: engine.ChargeGroupOther,
			expectedDelta:       0,
		},
		{
			name:                "unknown_draft_currency",
			item:                engine.LineItem{Description: "STORAGE", UnitRate: 100, Quantity: 1, TotalAmount: 100, Currency: "XYZ"},
			expectedBand:        costguard.BandNotApplicable,
			expectedStatus:      engine.StatusReviewNeeded,
			expectedChargeGroup: engine.ChargeGroupOther,
			expectedDelta:       0,
		},
		{
			name:                "portal_fee_within_tolerance",
			item:                engine.LineItem{Description: portalDescriptionConstant, UnitRate: 100.2, Quantity: 1, TotalAmount: 100.2},
			expectedBand:        costguard.BandPass,
			expectedStatus:      engine.StatusPass,
			expectedChargeGroup: engine.ChargeGroupPortalFee,
			expectedDelta:       0.2,
		},
		{
			name:                "portal_fee_warn",
			item:                engine.LineItem{Description: portalDescriptionConstant, UnitRate: 102, Quantity: 1, TotalAmount: 102},
			expectedBand:        costguard.BandPass,
			expectedStatus:      engine.StatusWarn,
			expectedChargeGroup: engine.ChargeGroupPortalFee,
			expectedDelta:       2,
		},
		{
			name:                "portal_fee_fail",
			item:                engine.LineItem{Description: portalDescriptionConstant, UnitRate: 108, Quantity: 1, TotalAmount: 108},
			expectedBand:        costguard.BandHigh,
			expectedStatus:      engine.StatusFail,
			expectedChargeGroup: engine.ChargeGroupPortalFee,
			expectedDelta:       8,
		},
		{
			name:                "at_cost_rate_source",
			item:                engine.LineItem{Description: "STORAGE", RateSource: "At Cost", UnitRate: 100, Quantity: 1, TotalAmount: 100},
			expectedBand:        costguard.BandPass,
			expectedStatus:      engine.StatusPass,
			expectedChargeGroup: engine.ChargeGroupAtCost,
			expectedDelta:       0,
		},
		{
			name:                "zero_reference_guard",
			item:                engine.LineItem{Description: "DUTY", UnitRate: 55, Quantity: 1, TotalAmount: 55},
			expectedBand:        costguard.BandPass,
			expectedStatus:      engine.StatusPass,
			expectedChargeGroup: engine.ChargeGroupContractFixed,
			expectedDelta:       0,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			result := auditEngine.Evaluate(context.Background(), testCase.item)

			require.Equal(testInstance, testCase.expectedBand, result.Band)
			require.Equal(testInstance, testCase.expectedAutoFail, result.AutoFail)
			require.Equal(testInstance, testCase.expectedStatus, result.Status)
			require.Equal(testInstance, testCase.expectedChargeGroup, result.ChargeGroup)
			require.InDelta(testInstance, testCase.expectedDelta, result.Delta(), 1e-9)
			require.Equal(testInstance, testCase.item, result.Item)
			require.NotEqual(testInstance, engine.StatusCritical, result.Status)
		})
	}
}

func TestEvaluateFailsOnEitherLadder(testInstance *testing.T) {
	testCases := []struct {
		name             string
		thresholds       costguard.Thresholds
		unitRate         float64
		expectedBand     costguard.Band
		expectedAutoFail bool
	}{
		{
			name:             "autofail_below_critical_band",
			thresholds:       costguard.Thresholds{Pass: 5, Warn: 10, High: 20, AutoFail: 8},
			unitRate:         115,
			expectedBand:     costguard.BandHigh,
			expectedAutoFail: true,
		},
		{
			name:             "critical_band_below_autofail",
			thresholds:       costguard.Thresholds{Pass: 1, Warn: 2, High: 3, AutoFail: 50},
			unitRate:         110,
			expectedBand:     costguard.BandCritical,
			expectedAutoFail: false,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			thresholds := testCase.thresholds
			auditEngine := newTestEngine(testInstance, engineOptions{thresholds: &thresholds})

			result := auditEngine.Evaluate(context.Background(), storageItem(testCase.unitRate))

			require.Equal(testInstance, testCase.expectedBand, result.Band)
			require.Equal(testInstance, testCase.expectedAutoFail, result.AutoFail)
			require.Equal(testInstance, engine.StatusFail, result.Status)
		})
	}
}

func TestEvaluateMissingReferenceLeavesVarianceUnset(testInstance *testing.T) {
	auditEngine := newTestEngine(testInstance, engineOptions{})

	result := auditEngine.Evaluate(context.Background(), engine.LineItem{Description: "Mystery surcharge", UnitRate: 80})

	require.Nil(testInstance, result.ReferenceRate)
	require.Nil(testInstance, result.VariancePercent)
	require.Equal(testInstance, rates.ProvenanceNone, result.Provenance())
	require.NotEmpty(testInstance, result.Issues)
	require.Equal(testInstance, []engine.Stage{
		engine.StageRaw,
		engine.StageNormalized,
		engine.StageRateMissing,
		engine.StageNotBanded,
		engine.StageAnomalyScored,
		engine.StageRiskBlended,
		engine.StageGated,
		engine.StageFinal,
	}, result.Metadata.Stages)
}

func TestEvaluateRecordsResolvedStages(testInstance *testing.T) {
	auditEngine := newTestEngine(testInstance, engineOptions{})

	result := auditEngine.Evaluate(context.Background(), storageItem(101.5))

	require.Equal(testInstance, "STORAGE", result.Metadata.NormalizedDescription)
	require.NotNil(testInstance, result.ReferenceRate)
	require.Equal(testInstance, rates.ProvenanceContractGeneral, result.ReferenceRate.Provenance)
	require.Equal(testInstance, []engine.Stage{
		engine.StageRaw,
		engine.StageNormalized,
		engine.StageRateResolved,
		engine.StageBanded,
		engine.StageAnomalyScored,
		engine.StageRiskBlended,
		engine.StageGated,
		engine.StageFinal,
	}, result.Metadata.Stages)
	require.Equal(testInstance, gates.StatusPass, result.Gates.Status)
	require.Equal(testInstance, 1, result.Metadata.EvidenceCount)
	require.Empty(testInstance, result.Issues)
}

func TestEvaluateZeroReferenceNotesDivisionGuard(testInstance *testing.T) {
	auditEngine := newTestEngine(testInstance, engineOptions{})

	result := auditEngine.Evaluate(context.Background(), engine.LineItem{Description: "DUTY", UnitRate: 55})

	require.NotNil(testInstance, result.VariancePercent)
	require.Zero(testInstance, *result.VariancePercent)
	require.NotEmpty(testInstance, result.Metadata.Notes)
	require.NotEmpty(testInstance, result.Issues)
}

func TestEvaluateWithoutEvidenceNeedsReview(testInstance *testing.T) {
	auditEngine := newTestEngine(testInstance, engineOptions{withoutGates: true})

	result := auditEngine.Evaluate(context.Background(), storageItem(101.5))

	require.Equal(testInstance, costguard.BandPass, result.Band)
	require.Equal(testInstance, gates.StatusFail, result.Gates.Status)
	require.Equal(testInstance, gates.GateNames(), result.Gates.FailedGates)
	require.Equal(testInstance, engine.StatusReviewNeeded, result.Status)
}

func TestEvaluateRiskTriggerEscalates(testInstance *testing.T) {
	auditEngine := newTestEngine(testInstance, engineOptions{
		provider: echoEvidenceProvider{flags: gates.QualityFlags{CertificationMissing: true, SignatureRisk: true}},
		trigger:  0.25,
	})

	result := auditEngine.Evaluate(context.Background(), storageItem(101.5))

	require.Equal(testInstance, costguard.BandPass, result.Band)
	require.True(testInstance, result.Risk.Triggered)
	require.GreaterOrEqual(testInstance, result.Risk.Score, 0.3)
	require.Equal(testInstance, engine.StatusReviewNeeded, result.Status)
}

func TestEvaluateRecoversStrategyPanic(testInstance *testing.T) {
	observedCore, observedLogs := observer.New(zap.WarnLevel)
	auditEngine := newTestEngine(testInstance, engineOptions{scorer: panickingScorer{}, logger: zap.New(observedCore)})

	testCases := []struct {
		name           string
		item           engine.LineItem
		expectedStatus engine.Status
	}{
		{name: "panic_needs_review", item: storageItem(101.5), expectedStatus: engine.StatusReviewNeeded},
		{name: "autofail_still_fails", item: storageItem(116), expectedStatus: engine.StatusFail},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			result := auditEngine.Evaluate(context.Background(), testCase.item)

			require.Equal(testInstance, testCase.expectedStatus, result.Status)
			require.False(testInstance, result.Anomaly.Enabled)
			require.Contains(testInstance, fmt.Sprint(result.Issues), "model corrupted")
		})
	}
	require.Equal(testInstance, len(testCases), observedLogs.Len())
}

func TestEvaluateHonorsDisabledLane(testInstance *testing.T) {
	baseline := make([]anomaly.Features, 0, 10)
	for index := 0; index < 10; index++ {
		baseline = append(baseline, anomaly.Features{Category: "STORAGE", UnitRate: 100 + float64(index%3), Quantity: 1, TotalAmount: 100})
	}
	settings := anomaly.DefaultSettings()
	settings.DisabledLanes = []string{disabledLaneConstant}
	scorer, scorerError := anomaly.New(settings, baseline)
	require.NoError(testInstance, scorerError)

	auditEngine := newTestEngine(testInstance, engineOptions{scorer: scorer})

	disabledItem := storageItem(500)
	disabledItem.Origin = "JEA"
	disabledItem.Destination = "DXB"
	disabledResult := auditEngine.Evaluate(context.Background(), disabledItem)
	require.Equal(testInstance, disabledLaneConstant, disabledResult.Metadata.Lane)
	require.False(testInstance, disabledResult.Anomaly.Enabled)
	require.False(testInstance, disabledResult.Anomaly.Flagged)
	require.Equal(testInstance, anomaly.ReasonLaneDisabled, disabledResult.Anomaly.Details[anomaly.DetailReasonKey])

	scoredItem := storageItem(500)
	scoredItem.Origin = "DUBAI"
	scoredItem.Destination = "JEBEL ALI"
	scoredResult := auditEngine.Evaluate(context.Background(), scoredItem)
	require.True(testInstance, scoredResult.Anomaly.Enabled)
	require.True(testInstance, scoredResult.Anomaly.Flagged)
}

func TestNewRejectsInvalidDependencies(testInstance *testing.T) {
	blender, blenderError := risk.NewBlender(risk.DefaultWeights(), 0.6, 15)
	require.NoError(testInstance, blenderError)
	resolver := rates.NewResolver()

	testCases := []struct {
		name         string
		dependencies engine.Dependencies
	}{
		{name: "missing_resolver", dependencies: engine.Dependencies{Blender: blender, Thresholds: costguard.DefaultThresholds()}},
		{name: "missing_blender", dependencies: engine.Dependencies{Resolver: resolver, Thresholds: costguard.DefaultThresholds()}},
		{
			name: "unordered_bands",
			dependencies: engine.Dependencies{
				Resolver: resolver, Blender: blender,
				Thresholds:        costguard.Thresholds{Pass: 5, Warn: 3, High: 10, AutoFail: 15},
				PortalThresholds:  costguard.DefaultPortalThresholds(),
				AnomalyThresholds: anomaly.DefaultThresholds(),
			},
		},
		{
			name: "invalid_anomaly_thresholds",
			dependencies: engine.Dependencies{
				Resolver: resolver, Blender: blender,
				Thresholds:       costguard.DefaultThresholds(),
				PortalThresholds: costguard.DefaultPortalThresholds(),
			},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			_, engineError := engine.New(testCase.dependencies)
			require.Error(testInstance, engineError)
		})
	}
}
