package anomaly

import (
	"errors"
	"math"
	"sort"
	"strings"
)

const (
	medianAbsoluteDeviationScaleConstant = 1.4826
	absoluteSpreadFloorConstant          = 1e-9
	minimumCategorySampleConstant        = 3
	globalPopulationConstant             = "global"
	categoryPopulationConstant           = "category"
)

type robustStatistics struct {
	median     float64
	spread     float64
	sampleSize int
}

// RobustScorer scores unit rates by their distance from the peer median in units of scaled
// median absolute deviation. Categories with too few baseline samples use global statistics.
type RobustScorer struct {
	thresholds      Thresholds
	global          robustStatistics
	statsByCategory map[string]robustStatistics
}

func newRobustScorer(settings Settings, baseline []Features) (*RobustScorer, error) {
	if thresholdsError := settings.Thresholds.Validate(); thresholdsError != nil {
		return nil, thresholdsError
	}
	if settings.MinRelativeSpread < 0 || math.IsNaN(settings.MinRelativeSpread) {
		return nil, errors.New(minimumSpreadMessageConstant)
	}
	if len(baseline) == 0 {
		return nil, errEmptyBaseline
	}

	ratesByCategory := make(map[string][]float64)
	allRates := make([]float64, 0, len(baseline))
	for _, sample := range baseline {
		allRates = append(allRates, sample.UnitRate)
		category := normalizeCategory(sample.Category)
		ratesByCategory[category] = append(ratesByCategory[category], sample.UnitRate)
	}

	scorer := &RobustScorer{
		thresholds:      settings.Thresholds,
		global:          computeRobustStatistics(allRates, settings.MinRelativeSpread),
		statsByCategory: make(map[string]robustStatistics),
	}
	for category, categoryRates := range ratesByCategory {
		if len(category) == 0 || len(categoryRates) < minimumCategorySampleConstant {
			continue
		}
		scorer.statsByCategory[category] = computeRobustStatistics(categoryRates, settings.MinRelativeSpread)
	}
	return scorer, nil
}

// Strategy identifies the scorer.
func (scorer *RobustScorer) Strategy() Strategy {
	return StrategyRobustZScore
}

// ScoreItem returns |unit rate - median| / spread graded against the thresholds.
func (scorer *RobustScorer) ScoreItem(features Features) Score {
	statistics, population := scorer.statisticsFor(features.Category)
	value := math.Abs(features.UnitRate-statistics.median) / statistics.spread
	if math.IsNaN(value) || math.IsInf(value, 0) {
		value = 0
	}
	return Score{
		Enabled:   true,
		Value:     value,
		RiskLevel: scorer.thresholds.Level(value),
		Flagged:   value >= scorer.thresholds.Low,
		Model:     string(StrategyRobustZScore),
		Details: map[string]any{
			DetailMedianKey:     statistics.median,
			DetailSpreadKey:     statistics.spread,
			DetailPopulationKey: population,
			DetailSampleSizeKey: statistics.sampleSize,
		},
	}
}

// ScoreBatch scores and summarizes a batch.
func (scorer *RobustScorer) ScoreBatch(features []Features) BatchSummary {
	return summarize(scorer, features)
}

func (scorer *RobustScorer) statisticsFor(category string) (robustStatistics, string) {
	if statistics, exists := scorer.statsByCategory[normalizeCategory(category)]; exists {
		return statistics, categoryPopulationConstant
	}
	return scorer.global, globalPopulationConstant
}

func computeRobustStatistics(values []float64, minRelativeSpread float64) robustStatistics {
	median := medianOf(values)
	deviations := make([]float64, 0, len(values))
	for _, value := range values {
		deviations = append(deviations, math.Abs(value-median))
	}
	spread := medianAbsoluteDeviationScaleConstant * medianOf(deviations)
	spread = math.Max(spread, minRelativeSpread*math.Abs(median))
	spread = math.Max(spread, absoluteSpreadFloorConstant)
	return robustStatistics{median: median, spread: spread, sampleSize: len(values)}
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	middle := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[middle]
	}
	return (sorted[middle-1] + sorted[middle]) / 2
}

func normalizeCategory(category string) string {
	return strings.ToUpper(strings.Join(strings.Fields(category), " "))
}
