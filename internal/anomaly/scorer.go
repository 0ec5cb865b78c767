package anomaly

import (
	"errors"
	"strings"

	"go.uber.org/zap"
)

const (
	emptyBaselineMessageConstant     = "baseline sample is empty"
	scorerDisabledLogMessageConstant = "Anomaly scoring disabled"
	strategyLogFieldNameConstant     = "strategy"
	reasonLogFieldNameConstant       = "reason"
)

var errEmptyBaseline = errors.New(emptyBaselineMessageConstant)

// New builds the scorer selected by settings, fitting it from the baseline sample.
func New(settings Settings, baseline []Features) (Scorer, error) {
	strategy, strategyError := ParseStrategy(string(settings.Strategy))
	if strategyError != nil {
		return nil, &ModelUnavailableError{Strategy: settings.Strategy, Cause: strategyError}
	}

	var scorer Scorer
	switch strategy {
	case StrategyDisabled:
		return NewDisabledScorer(ReasonDisabledByStrategy), nil
	case StrategyRobustZScore:
		robustScorer, robustError := newRobustScorer(settings, baseline)
		if robustError != nil {
			return nil, &ModelUnavailableError{Strategy: strategy, Cause: robustError}
		}
		scorer = robustScorer
	case StrategyIsolationForest:
		forestScorer, forestError := newIsolationForestScorer(settings, baseline)
		if forestError != nil {
			return nil, &ModelUnavailableError{Strategy: strategy, Cause: forestError}
		}
		scorer = forestScorer
	}

	return withLaneOverrides(scorer, settings.DisabledLanes), nil
}

// NewOrDisabled builds the configured scorer and degrades to a disabled scorer when the model
// cannot be constructed. The degradation is logged at warn level.
func NewOrDisabled(settings Settings, baseline []Features, logger *zap.Logger) Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	scorer, scorerError := New(settings, baseline)
	if scorerError == nil {
		return scorer
	}
	logger.Warn(scorerDisabledLogMessageConstant,
		zap.String(strategyLogFieldNameConstant, string(settings.Strategy)),
		zap.String(reasonLogFieldNameConstant, scorerError.Error()),
	)
	return NewDisabledScorer(ReasonModelUnavailable + ": " + scorerError.Error())
}

// DisabledScorer never flags and reports Enabled=false.
type DisabledScorer struct {
	reason string
}

// NewDisabledScorer builds a disabled scorer that records reason on every score.
func NewDisabledScorer(reason string) DisabledScorer {
	return DisabledScorer{reason: reason}
}

// Strategy identifies the scorer.
func (scorer DisabledScorer) Strategy() Strategy {
	return StrategyDisabled
}

// ScoreItem returns a disabled, zero, non-flagging score.
func (scorer DisabledScorer) ScoreItem(Features) Score {
	return disabledScore(scorer.reason)
}

// ScoreBatch summarizes a batch of disabled scores.
func (scorer DisabledScorer) ScoreBatch(features []Features) BatchSummary {
	return summarize(scorer, features)
}

func disabledScore(reason string) Score {
	return Score{
		Enabled:   false,
		RiskLevel: RiskLevelNone,
		Model:     string(StrategyDisabled),
		Details:   map[string]any{DetailReasonKey: reason},
	}
}

type laneOverrideScorer struct {
	Scorer
	disabledLanes map[string]struct{}
}

func withLaneOverrides(scorer Scorer, disabledLanes []string) Scorer {
	if len(disabledLanes) == 0 {
		return scorer
	}
	lanes := make(map[string]struct{}, len(disabledLanes))
	for _, lane := range disabledLanes {
		lanes[normalizeLane(lane)] = struct{}{}
	}
	return laneOverrideScorer{Scorer: scorer, disabledLanes: lanes}
}

func (scorer laneOverrideScorer) ScoreItem(features Features) Score {
	if _, disabled := scorer.disabledLanes[normalizeLane(features.Lane)]; disabled && len(strings.TrimSpace(features.Lane)) > 0 {
		return disabledScore(ReasonLaneDisabled)
	}
	return scorer.Scorer.ScoreItem(features)
}

func (scorer laneOverrideScorer) ScoreBatch(features []Features) BatchSummary {
	return summarize(scorer, features)
}

func normalizeLane(lane string) string {
	return strings.ToUpper(strings.Join(strings.Fields(lane), " "))
}

func summarize(scorer Scorer, features []Features) BatchSummary {
	scores := make([]Score, 0, len(features))
	for _, itemFeatures := range features {
		scores = append(scores, scorer.ScoreItem(itemFeatures))
	}
	return Summarize(scores)
}

// Summarize aggregates already computed scores.
func Summarize(scores []Score) BatchSummary {
	summary := BatchSummary{RiskHistogram: map[RiskLevel]int{
		RiskLevelNone:   0,
		RiskLevelLow:    0,
		RiskLevelMedium: 0,
		RiskLevelHigh:   0,
	}}
	enabledCount := 0
	scoreTotal := 0.0
	for _, score := range scores {
		riskLevel := score.RiskLevel
		if len(riskLevel) == 0 {
			riskLevel = RiskLevelNone
		}
		summary.RiskHistogram[riskLevel]++
		if !score.Enabled {
			continue
		}
		enabledCount++
		scoreTotal += score.Value
		if score.Flagged {
			summary.FlaggedCount++
		}
	}
	if enabledCount > 0 {
		summary.AverageScore = scoreTotal / float64(enabledCount)
	}
	return summary
}
