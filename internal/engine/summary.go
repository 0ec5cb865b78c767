package engine

import (
	"github.com/temirov/freightaudit/internal/anomaly"
	"github.com/temirov/freightaudit/internal/costguard"
)

// BatchSummary aggregates a batch of results.
type BatchSummary struct {
	ItemCount         int                     `json:"item_count"`
	StatusCounts      map[Status]int          `json:"status_counts"`
	BandCounts        map[costguard.Band]int  `json:"band_counts"`
	ChargeGroupCounts map[ChargeGroup]int     `json:"charge_group_counts"`
	ChargeGroupTotals map[ChargeGroup]float64 `json:"charge_group_totals"`
	DraftTotal        float64                 `json:"draft_total"`
	ReferencedTotal   float64                 `json:"referenced_total"`
	UnresolvedCount   int                     `json:"unresolved_count"`
	AutoFailCount     int                     `json:"autofail_count"`
	GateFailureCount  int                     `json:"gate_failure_count"`
	Anomaly           anomaly.BatchSummary    `json:"anomaly"`
}

// Summarize counts results per status, band, and charge group and totals the declared amounts.
// ReferencedTotal sums the declared totals of items that resolved a reference rate.
func Summarize(results []ValidationResult) BatchSummary {
	summary := BatchSummary{
		ItemCount:         len(results),
		StatusCounts:      map[Status]int{},
		BandCounts:        map[costguard.Band]int{},
		ChargeGroupCounts: map[ChargeGroup]int{},
		ChargeGroupTotals: map[ChargeGroup]float64{},
	}
	scores := make([]anomaly.Score, 0, len(results))
	for _, result := range results {
		summary.StatusCounts[result.Status]++
		summary.BandCounts[result.Band]++
		summary.ChargeGroupCounts[result.ChargeGroup]++
		summary.ChargeGroupTotals[result.ChargeGroup] += result.Item.TotalAmount
		summary.DraftTotal += result.Item.TotalAmount
		if result.ReferenceRate == nil {
			summary.UnresolvedCount++
		} else {
			summary.ReferencedTotal += result.Item.TotalAmount
		}
		if result.AutoFail {
			summary.AutoFailCount++
		}
		if len(result.Gates.FailedGates) > 0 {
			summary.GateFailureCount++
		}
		scores = append(scores, result.Anomaly)
	}
	summary.Anomaly = anomaly.Summarize(scores)
	return summary
}

// WorstStatus returns the most severe status in the summary, escalating to CRITICAL when
// failures reach criticalFailureCount. A non-positive count disables escalation.
func (summary BatchSummary) WorstStatus(criticalFailureCount int) Status {
	failures := summary.StatusCounts[StatusFail]
	switch {
	case criticalFailureCount > 0 && failures >= criticalFailureCount:
		return StatusCritical
	case failures > 0:
		return StatusFail
	case summary.StatusCounts[StatusReviewNeeded] > 0:
		return StatusReviewNeeded
	case summary.StatusCounts[StatusWarn] > 0:
		return StatusWarn
	default:
		return StatusPass
	}
}
