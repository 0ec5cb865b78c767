package anomaly

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy tags the scoring model.
type Strategy string

// Supported strategies.
const (
	StrategyRobustZScore    Strategy = "robust_zscore"
	StrategyIsolationForest Strategy = "isolation_forest"
	StrategyDisabled        Strategy = "disabled"
)

// RiskLevel grades an anomaly score against the shared thresholds.
type RiskLevel string

// Risk levels in ascending order.
const (
	RiskLevelNone   RiskLevel = "NONE"
	RiskLevelLow    RiskLevel = "LOW"
	RiskLevelMedium RiskLevel = "MEDIUM"
	RiskLevelHigh   RiskLevel = "HIGH"
)

// Detail keys recorded on scores.
const (
	DetailReasonKey          = "reason"
	DetailMedianKey          = "median"
	DetailSpreadKey          = "spread"
	DetailPopulationKey      = "population"
	DetailSampleSizeKey      = "sample_size"
	DetailRawScoreKey        = "raw_score"
	DetailOffsetKey          = "offset"
	ReasonLaneDisabled       = "lane_disabled"
	ReasonDisabledByStrategy = "disabled_by_configuration"
	ReasonModelUnavailable   = "model_unavailable"
)

const (
	unknownStrategyTemplateConstant  = "unknown anomaly strategy %q"
	thresholdOrderMessageConstant    = "anomaly thresholds must satisfy 0 < low <= medium <= high"
	minimumSpreadMessageConstant     = "min_relative_spread must be non-negative"
	modelUnavailableTemplateConstant = "anomaly model %s unavailable: %v"
)

// Features is the numeric view of one line item seen by the scorer.
type Features struct {
	Category    string
	Lane        string
	UnitRate    float64
	Quantity    float64
	TotalAmount float64
}

// Score is the scorer verdict for one item. Callers must check Enabled before reading a false
// Flagged as a genuine negative.
type Score struct {
	Enabled   bool           `json:"enabled"`
	Value     float64        `json:"score"`
	RiskLevel RiskLevel      `json:"risk_level"`
	Flagged   bool           `json:"flagged"`
	Model     string         `json:"model"`
	Details   map[string]any `json:"details,omitempty"`
}

// BatchSummary aggregates scores across a batch. AverageScore covers enabled scores only.
type BatchSummary struct {
	FlaggedCount  int               `json:"flagged_count"`
	AverageScore  float64           `json:"average_score"`
	RiskHistogram map[RiskLevel]int `json:"risk_histogram"`
}

// Scorer scores line items against the fitted population. Implementations are read-only after
// construction and safe for concurrent use.
type Scorer interface {
	Strategy() Strategy
	ScoreItem(features Features) Score
	ScoreBatch(features []Features) BatchSummary
}

// Thresholds grade scores into risk levels.
type Thresholds struct {
	Low    float64 `mapstructure:"low" yaml:"low" json:"low"`
	Medium float64 `mapstructure:"medium" yaml:"medium" json:"medium"`
	High   float64 `mapstructure:"high" yaml:"high" json:"high"`
}

// DefaultThresholds returns the stock risk thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 2, Medium: 3.5, High: 5}
}

// Validate checks threshold ordering.
func (thresholds Thresholds) Validate() error {
	if !(thresholds.Low > 0) || thresholds.Medium < thresholds.Low || thresholds.High < thresholds.Medium {
		return errors.New(thresholdOrderMessageConstant)
	}
	return nil
}

// Level maps a score onto a risk level.
func (thresholds Thresholds) Level(score float64) RiskLevel {
	switch {
	case score >= thresholds.High:
		return RiskLevelHigh
	case score >= thresholds.Medium:
		return RiskLevelMedium
	case score >= thresholds.Low:
		return RiskLevelLow
	default:
		return RiskLevelNone
	}
}

// IsolationForestSettings configures the isolation forest strategy.
type IsolationForestSettings struct {
	Trees         int     `mapstructure:"trees" yaml:"trees" json:"trees"`
	SampleSize    int     `mapstructure:"sample_size" yaml:"sample_size" json:"sample_size"`
	Contamination float64 `mapstructure:"contamination" yaml:"contamination" json:"contamination"`
	Seed          int64   `mapstructure:"seed" yaml:"seed" json:"seed"`
	ScoreScale    float64 `mapstructure:"score_scale" yaml:"score_scale" json:"score_scale"`
}

// DefaultIsolationForestSettings returns the stock forest parameters.
func DefaultIsolationForestSettings() IsolationForestSettings {
	return IsolationForestSettings{Trees: 100, SampleSize: 256, Contamination: 0.05, Seed: 42, ScoreScale: 10}
}

// Settings selects and parameterizes the scoring strategy.
type Settings struct {
	Strategy          Strategy                `mapstructure:"strategy" yaml:"strategy" json:"strategy"`
	Thresholds        Thresholds              `mapstructure:"thresholds" yaml:"thresholds" json:"thresholds"`
	MinRelativeSpread float64                 `mapstructure:"min_relative_spread" yaml:"min_relative_spread" json:"min_relative_spread"`
	DisabledLanes     []string                `mapstructure:"disabled_lanes" yaml:"disabled_lanes" json:"disabled_lanes"`
	IsolationForest   IsolationForestSettings `mapstructure:"isolation_forest" yaml:"isolation_forest" json:"isolation_forest"`
}

// DefaultSettings returns robust scoring with stock thresholds.
func DefaultSettings() Settings {
	return Settings{
		Strategy:          StrategyRobustZScore,
		Thresholds:        DefaultThresholds(),
		MinRelativeSpread: 0.05,
		IsolationForest:   DefaultIsolationForestSettings(),
	}
}

// ParseStrategy accepts a strategy tag case-insensitively. The empty tag means disabled.
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(value))) {
	case StrategyRobustZScore:
		return StrategyRobustZScore, nil
	case StrategyIsolationForest:
		return StrategyIsolationForest, nil
	case StrategyDisabled, "":
		return StrategyDisabled, nil
	default:
		return "", fmt.Errorf(unknownStrategyTemplateConstant, value)
	}
}

// LaneKey builds the lane identifier matched against disabled lanes.
func LaneKey(origin string, destination string) string {
	trimmedOrigin := strings.ToUpper(strings.TrimSpace(origin))
	trimmedDestination := strings.ToUpper(strings.TrimSpace(destination))
	if len(trimmedOrigin) == 0 && len(trimmedDestination) == 0 {
		return ""
	}
	return trimmedOrigin + "->" + trimmedDestination
}

// ModelUnavailableError reports a scorer that could not be constructed.
type ModelUnavailableError struct {
	Strategy Strategy
	Cause    error
}

func (modelError *ModelUnavailableError) Error() string {
	return fmt.Sprintf(modelUnavailableTemplateConstant, modelError.Strategy, modelError.Cause)
}

func (modelError *ModelUnavailableError) Unwrap() error {
	return modelError.Cause
}
