package engine

import (
	"context"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/freightaudit/internal/anomaly"
	"github.com/temirov/freightaudit/internal/currency"
	"github.com/temirov/freightaudit/internal/normalize"
)

const (
	batchEvaluatedLogMessageConstant = "Batch evaluated"
	itemCountLogFieldNameConstant    = "items"
	concurrencyLogFieldNameConstant  = "concurrency"
)

// EvaluateBatch evaluates every item and returns results aligned with the input order. Items
// are independent, so they run on up to Concurrency goroutines; a concurrency of one is
// sequential. A cancelled context still yields a result for every item, with gate failures
// reported by the evidence boundary.
func (engine *Engine) EvaluateBatch(executionContext context.Context, items []LineItem) []ValidationResult {
	results := make([]ValidationResult, len(items))
	if len(items) == 0 {
		return results
	}

	var evaluatedCount atomic.Int64
	var group errgroup.Group
	group.SetLimit(engine.dependencies.Concurrency)
	for itemIndex := range items {
		itemIndex := itemIndex
		group.Go(func() error {
			results[itemIndex] = engine.Evaluate(executionContext, items[itemIndex])
			evaluatedCount.Inc()
			return nil
		})
	}
	_ = group.Wait()

	engine.logger.Info(batchEvaluatedLogMessageConstant,
		zap.Int64(itemCountLogFieldNameConstant, evaluatedCount.Load()),
		zap.Int(concurrencyLogFieldNameConstant, engine.dependencies.Concurrency),
	)
	return results
}

// BaselineFeatures converts historical line items into anomaly scorer training features,
// normalizing descriptions and lanes the same way Evaluate does. Draft rates are converted to
// the base currency; items in an unknown currency keep their declared rate.
func BaselineFeatures(items []LineItem, normalizer *normalize.CategoryNormalizer, locationIndex *normalize.LocationIndex, converter currency.Converter) []anomaly.Features {
	features := make([]anomaly.Features, 0, len(items))
	for _, item := range items {
		unitRate := item.UnitRate
		if converted := converter.Convert(item.UnitRate, item.Currency); converted != nil {
			unitRate = *converted
		}
		features = append(features, anomaly.Features{
			Category:    normalizer.Normalize(item.Description),
			Lane:        anomaly.LaneKey(locationIndex.Normalize(item.Origin), locationIndex.Normalize(item.Destination)),
			UnitRate:    unitRate,
			Quantity:    item.Quantity,
			TotalAmount: item.TotalAmount,
		})
	}
	return features
}
