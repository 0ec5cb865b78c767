package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/freightaudit/internal/anomaly"
	"github.com/temirov/freightaudit/internal/costguard"
	"github.com/temirov/freightaudit/internal/currency"
	"github.com/temirov/freightaudit/internal/gates"
	"github.com/temirov/freightaudit/internal/normalize"
	"github.com/temirov/freightaudit/internal/rates"
	"github.com/temirov/freightaudit/internal/risk"
)

const (
	resolverRequiredMessageConstant   = "engine requires a reference rate resolver"
	blenderRequiredMessageConstant    = "engine requires a risk blender"
	invalidThresholdsTemplateConstant = "invalid cost guard thresholds: %w"
	invalidPortalTemplateConstant     = "invalid portal thresholds: %w"
	invalidAnomalyTemplateConstant    = "invalid anomaly thresholds: %w"
	missingReferenceIssueConstant     = "no reference rate found for %q"
	draftConversionIssueTemplate      = "cannot convert draft rate from currency %q"
	zeroReferenceIssueConstant        = "reference rate is zero; variance not computable"
	autoFailIssueTemplateConstant     = "variance %.2f%% exceeds autofail threshold %.2f%%"
	bandIssueTemplateConstant         = "variance %.2f%% graded %s"
	portalIssueTemplateConstant       = "portal fee variance %.2f%% graded %s"
	anomalyIssueTemplateConstant      = "anomaly score %.2f graded %s"
	riskIssueTemplateConstant         = "blended risk %.2f reached trigger %.2f"
	gateIssueTemplateConstant         = "evidence gates failed: %s"
	scorerFailureIssueTemplate        = "anomaly scorer failed: %v"
	qualityFlagsFailureIssueTemplate  = "evidence quality lookup failed: %v"
	gateFailureIssueTemplateConstant  = "evidence gate evaluation failed: %v"
	strategyPanicTemplateConstant     = "panic: %v"
	scorerErrorReasonConstant         = "scorer_error"
	atCostMarkerConstant              = "AT COST"
	strategyFailureLogMessageConstant = "Pluggable strategy failed"
	itemEvaluatedLogMessageConstant   = "Line item evaluated"
	sequenceLogFieldNameConstant      = "sequence"
	statusLogFieldNameConstant        = "status"
	errorLogFieldNameConstant         = "error"
	gateSeparatorConstant             = ", "
)

// Dependencies are the collaborators and settings of an Engine. Every collaborator must be
// immutable once the engine is built.
type Dependencies struct {
	Normalizer        *normalize.CategoryNormalizer
	LocationIndex     *normalize.LocationIndex
	Resolver          *rates.Resolver
	Converter         currency.Converter
	Thresholds        costguard.Thresholds
	PortalThresholds  costguard.PortalThresholds
	Scorer            anomaly.Scorer
	AnomalyThresholds anomaly.Thresholds
	Blender           *risk.Blender
	Gates             *gates.Evaluator
	Concurrency       int
	Logger            *zap.Logger
}

// Engine evaluates invoice line items.
type Engine struct {
	dependencies Dependencies
	logger       *zap.Logger
}

// New validates dependencies. A nil scorer is replaced with a disabled scorer and a nil gate
// evaluator with one that has no evidence provider.
func New(dependencies Dependencies) (*Engine, error) {
	if dependencies.Resolver == nil {
		return nil, errors.New(resolverRequiredMessageConstant)
	}
	if dependencies.Blender == nil {
		return nil, errors.New(blenderRequiredMessageConstant)
	}
	if thresholdsError := dependencies.Thresholds.Validate(); thresholdsError != nil {
		return nil, fmt.Errorf(invalidThresholdsTemplateConstant, thresholdsError)
	}
	if portalError := dependencies.PortalThresholds.Validate(); portalError != nil {
		return nil, fmt.Errorf(invalidPortalTemplateConstant, portalError)
	}
	if anomalyError := dependencies.AnomalyThresholds.Validate(); anomalyError != nil {
		return nil, fmt.Errorf(invalidAnomalyTemplateConstant, anomalyError)
	}
	if dependencies.Scorer == nil {
		dependencies.Scorer = anomaly.NewDisabledScorer(anomaly.ReasonDisabledByStrategy)
	}
	if dependencies.Gates == nil {
		evaluator, evaluatorError := gates.NewEvaluator(nil, gates.DefaultSettings())
		if evaluatorError != nil {
			return nil, evaluatorError
		}
		dependencies.Gates = evaluator
	}
	if dependencies.Concurrency < 1 {
		dependencies.Concurrency = 1
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{dependencies: dependencies, logger: logger}, nil
}

// Evaluate runs the full pipeline for one line item. It never fails: strategy errors and
// panics become issues on a REVIEW_NEEDED result unless a hard failure already applies.
func (engine *Engine) Evaluate(executionContext context.Context, item LineItem) ValidationResult {
	evaluation := newEvaluation(item)

	normalizedDescription := engine.dependencies.Normalizer.Normalize(item.Description)
	canonicalOrigin := engine.dependencies.LocationIndex.Normalize(item.Origin)
	canonicalDestination := engine.dependencies.LocationIndex.Normalize(item.Destination)
	evaluation.result.Metadata.NormalizedDescription = normalizedDescription
	evaluation.result.Metadata.Lane = anomaly.LaneKey(canonicalOrigin, canonicalDestination)
	evaluation.advance(StageNormalized)

	converter := engine.dependencies.Converter
	draftRate := converter.Convert(item.UnitRate, item.Currency)
	evaluation.result.Metadata.DraftRateBase = draftRate

	referenceRate := engine.dependencies.Resolver.Resolve(normalizedDescription, rates.Context{
		Mode:        item.Mode,
		Origin:      canonicalOrigin,
		Destination: canonicalDestination,
		Unit:        item.Unit,
		Converter:   converter,
	})
	switch {
	case referenceRate == nil:
		evaluation.addIssue(fmt.Sprintf(missingReferenceIssueConstant, normalizedDescription))
		evaluation.advance(StageRateMissing)
	case draftRate == nil:
		evaluation.addIssue(fmt.Sprintf(draftConversionIssueTemplate, item.Currency))
		evaluation.advance(StageRateMissing)
	default:
		evaluation.result.ReferenceRate = referenceRate
		evaluation.advance(StageRateResolved)
	}

	engine.band(&evaluation, draftRate)
	engine.scoreAnomaly(&evaluation, normalizedDescription, draftRate)

	line := gates.LineReference{
		Sheet:       item.Sheet,
		Sequence:    item.Sequence,
		Description: item.Description,
		Category:    normalizedDescription,
		UnitRate:    item.UnitRate,
		Quantity:    item.Quantity,
		TotalAmount: item.TotalAmount,
	}
	engine.blendRisk(executionContext, &evaluation, line)
	engine.gate(executionContext, &evaluation, line)

	evaluation.result.ChargeGroup = classifyChargeGroup(item, normalizedDescription, evaluation.result.ReferenceRate)
	evaluation.result.Status = deriveStatus(evaluation)
	evaluation.advance(StageFinal)

	engine.logger.Debug(itemEvaluatedLogMessageConstant,
		zap.Int(sequenceLogFieldNameConstant, item.Sequence),
		zap.String(statusLogFieldNameConstant, string(evaluation.result.Status)),
	)
	return evaluation.result
}

func (engine *Engine) band(evaluation *evaluation, draftRate *float64) {
	referenceRate := evaluation.result.ReferenceRate
	if referenceRate == nil {
		evaluation.result.Band = costguard.BandNotApplicable
		evaluation.advance(StageNotBanded)
		return
	}

	delta := costguard.DeltaPercent(*draftRate, referenceRate.Rate)
	if referenceRate.Rate == 0 {
		evaluation.addNote(zeroReferenceIssueConstant)
		evaluation.addIssue(zeroReferenceIssueConstant)
	}
	thresholds := engine.dependencies.Thresholds
	evaluation.result.VariancePercent = &delta
	evaluation.result.Band = thresholds.Classify(&delta)
	evaluation.result.AutoFail = thresholds.ShouldAutoFail(delta)

	if evaluation.result.AutoFail {
		evaluation.addIssue(fmt.Sprintf(autoFailIssueTemplateConstant, delta, thresholds.AutoFail))
	}
	if evaluation.result.Band != costguard.BandPass {
		evaluation.addIssue(fmt.Sprintf(bandIssueTemplateConstant, delta, evaluation.result.Band))
	}

	if referenceRate.Provenance == rates.ProvenanceFixedFee && rates.IsPortalFeeCode(referenceRate.MatchedKey) {
		evaluation.result.PortalStatus = engine.dependencies.PortalThresholds.Classify(delta)
		if evaluation.result.PortalStatus != costguard.PortalStatusPass {
			evaluation.addIssue(fmt.Sprintf(portalIssueTemplateConstant, delta, evaluation.result.PortalStatus))
		}
	}
	evaluation.advance(StageBanded)
}

func (engine *Engine) scoreAnomaly(evaluation *evaluation, normalizedDescription string, draftRate *float64) {
	features := anomaly.Features{
		Category:    normalizedDescription,
		Lane:        evaluation.result.Metadata.Lane,
		UnitRate:    evaluation.result.Item.UnitRate,
		Quantity:    evaluation.result.Item.Quantity,
		TotalAmount: evaluation.result.Item.TotalAmount,
	}
	if draftRate != nil {
		features.UnitRate = *draftRate
	}

	var score anomaly.Score
	scoreError := recoverStrategy(func() error {
		score = engine.dependencies.Scorer.ScoreItem(features)
		return nil
	})
	if scoreError != nil {
		engine.recordStrategyFailure(evaluation, fmt.Sprintf(scorerFailureIssueTemplate, scoreError), scoreError)
		score = anomaly.NewDisabledScorer(scorerErrorReasonConstant).ScoreItem(features)
	}
	if score.Enabled && score.Flagged {
		evaluation.addIssue(fmt.Sprintf(anomalyIssueTemplateConstant, score.Value, score.RiskLevel))
	}
	evaluation.result.Anomaly = score
	evaluation.advance(StageAnomalyScored)
}

func (engine *Engine) blendRisk(executionContext context.Context, evaluation *evaluation, line gates.LineReference) {
	var flags gates.QualityFlags
	flagsError := recoverStrategy(func() error {
		var lookupError error
		flags, lookupError = engine.dependencies.Gates.QualityFlags(executionContext, line)
		return lookupError
	})
	if flagsError != nil {
		engine.recordStrategyFailure(evaluation, fmt.Sprintf(qualityFlagsFailureIssueTemplate, flagsError), flagsError)
		flags = gates.QualityFlags{}
	}

	anomalyIndicator := 0.0
	if evaluation.result.Anomaly.Enabled {
		anomalyIndicator = evaluation.result.Anomaly.Value / engine.dependencies.AnomalyThresholds.High
	}

	assessment := engine.dependencies.Blender.Blend(risk.Inputs{
		DeltaPercent:         evaluation.result.Delta(),
		AnomalyIndicator:     anomalyIndicator,
		CertificationMissing: flags.CertificationMissing,
		SignatureRisk:        flags.SignatureRisk,
	})
	if assessment.Triggered {
		evaluation.addIssue(fmt.Sprintf(riskIssueTemplateConstant, assessment.Score, engine.dependencies.Blender.TriggerThreshold()))
	}
	evaluation.result.Risk = assessment
	evaluation.advance(StageRiskBlended)
}

func (engine *Engine) gate(executionContext context.Context, evaluation *evaluation, line gates.LineReference) {
	var gateResult gates.Result
	gateError := recoverStrategy(func() error {
		var evaluateError error
		gateResult, evaluateError = engine.dependencies.Gates.Evaluate(executionContext, line)
		return evaluateError
	})
	if gateError != nil {
		engine.recordStrategyFailure(evaluation, fmt.Sprintf(gateFailureIssueTemplateConstant, gateError), gateError)
	}
	if len(gateResult.Status) == 0 {
		gateResult = gates.Result{Status: gates.StatusFail, FailedGates: gates.GateNames(), Details: map[string]gates.Detail{}}
	}
	if gateResult.Status == gates.StatusFail && gateError == nil {
		evaluation.addIssue(fmt.Sprintf(gateIssueTemplateConstant, strings.Join(gateResult.FailedGates, gateSeparatorConstant)))
	}
	evaluation.result.Gates = gateResult
	evaluation.result.Metadata.EvidenceCount = gateResult.EvidenceCount
	evaluation.advance(StageGated)
}

func (engine *Engine) recordStrategyFailure(evaluation *evaluation, issue string, cause error) {
	evaluation.strategyFailed = true
	evaluation.addIssue(issue)
	engine.logger.Warn(strategyFailureLogMessageConstant,
		zap.Int(sequenceLogFieldNameConstant, evaluation.result.Item.Sequence),
		zap.String(errorLogFieldNameConstant, cause.Error()),
	)
}

// deriveStatus applies the verdict rules in order; the first match wins.
func deriveStatus(evaluation evaluation) Status {
	result := evaluation.result
	switch {
	case result.Band == costguard.BandCritical || result.AutoFail || result.PortalStatus == costguard.PortalStatusFail:
		return StatusFail
	case evaluation.strategyFailed:
		return StatusReviewNeeded
	case result.Risk.Triggered:
		return StatusReviewNeeded
	case result.ReferenceRate == nil:
		return StatusReviewNeeded
	case result.Band == costguard.BandWarn || result.Band == costguard.BandHigh:
		return StatusReviewNeeded
	case result.Gates.Status == gates.StatusFail:
		return StatusReviewNeeded
	case result.PortalStatus == costguard.PortalStatusWarn:
		return StatusWarn
	default:
		return StatusPass
	}
}

func classifyChargeGroup(item LineItem, normalizedDescription string, referenceRate *rates.ReferenceRate) ChargeGroup {
	switch {
	case strings.Contains(strings.ToUpper(item.RateSource), atCostMarkerConstant) || strings.Contains(normalizedDescription, atCostMarkerConstant):
		return ChargeGroupAtCost
	case referenceRate != nil && referenceRate.Provenance == rates.ProvenanceFixedFee && rates.IsPortalFeeCode(referenceRate.MatchedKey):
		return ChargeGroupPortalFee
	case referenceRate != nil:
		return ChargeGroupContractFixed
	default:
		return ChargeGroupOther
	}
}

func recoverStrategy(operation func() error) (strategyError error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			strategyError = fmt.Errorf(strategyPanicTemplateConstant, recovered)
		}
	}()
	return operation()
}

type evaluation struct {
	result         ValidationResult
	strategyFailed bool
}

func newEvaluation(item LineItem) evaluation {
	return evaluation{result: ValidationResult{
		Item:     item,
		Band:     costguard.BandNotApplicable,
		Issues:   []string{},
		Metadata: Metadata{Stages: []Stage{StageRaw}},
	}}
}

func (evaluation *evaluation) advance(stage Stage) {
	evaluation.result.Metadata.Stages = append(evaluation.result.Metadata.Stages, stage)
}

func (evaluation *evaluation) addIssue(issue string) {
	evaluation.result.Issues = append(evaluation.result.Issues, issue)
}

func (evaluation *evaluation) addNote(note string) {
	evaluation.result.Metadata.Notes = append(evaluation.result.Metadata.Notes, note)
}
