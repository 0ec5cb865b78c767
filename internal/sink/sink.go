package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/temirov/freightaudit/internal/engine"
)

const (
	sinkWriteErrorTemplateConstant = "sink %s failed: %w"
	failedGateSeparatorConstant    = ";"
	issueSeparatorConstant         = " | "
)

// Sink receives the results of one audit run.
type Sink interface {
	Name() string
	Write(executionContext context.Context, run Run, results []engine.ValidationResult) error
}

// Run identifies one batch evaluation.
type Run struct {
	ID        string              `json:"run_id"`
	Source    string              `json:"source"`
	StartedAt time.Time           `json:"started_at"`
	Summary   engine.BatchSummary `json:"summary"`
}

// NewRun assigns a random run identifier.
func NewRun(source string, startedAt time.Time, summary engine.BatchSummary) Run {
	return Run{ID: uuid.NewString(), Source: source, StartedAt: startedAt.UTC(), Summary: summary}
}

// Record is the flat view of a result shared by the tabular sinks.
type Record struct {
	RunID                 string   `json:"run_id"`
	Sheet                 string   `json:"sheet"`
	Sequence              int      `json:"sequence"`
	Description           string   `json:"description"`
	NormalizedDescription string   `json:"normalized_description"`
	Status                string   `json:"status"`
	Band                  string   `json:"band"`
	ChargeGroup           string   `json:"charge_group"`
	DraftRate             float64  `json:"draft_rate"`
	Currency              string   `json:"currency"`
	ReferenceRate         *float64 `json:"reference_rate"`
	Provenance            string   `json:"provenance"`
	MatchedKey            string   `json:"matched_key"`
	VariancePercent       *float64 `json:"variance_percent"`
	AutoFail              bool     `json:"autofail"`
	PortalStatus          string   `json:"portal_status"`
	AnomalyEnabled        bool     `json:"anomaly_enabled"`
	AnomalyScore          float64  `json:"anomaly_score"`
	AnomalyRiskLevel      string   `json:"anomaly_risk_level"`
	RiskScore             float64  `json:"risk_score"`
	GateStatus            string   `json:"gate_status"`
	FailedGates           []string `json:"failed_gates"`
	Issues                []string `json:"issues"`
}

// NewRecord flattens a result.
func NewRecord(run Run, result engine.ValidationResult) Record {
	record := Record{
		RunID:                 run.ID,
		Sheet:                 result.Item.Sheet,
		Sequence:              result.Item.Sequence,
		Description:           result.Item.Description,
		NormalizedDescription: result.Metadata.NormalizedDescription,
		Status:                string(result.Status),
		Band:                  string(result.Band),
		ChargeGroup:           string(result.ChargeGroup),
		DraftRate:             result.Item.UnitRate,
		Currency:              result.Item.Currency,
		Provenance:            string(result.Provenance()),
		VariancePercent:       result.VariancePercent,
		AutoFail:              result.AutoFail,
		PortalStatus:          string(result.PortalStatus),
		AnomalyEnabled:        result.Anomaly.Enabled,
		AnomalyScore:          result.Anomaly.Value,
		AnomalyRiskLevel:      string(result.Anomaly.RiskLevel),
		RiskScore:             result.Risk.Score,
		GateStatus:            string(result.Gates.Status),
		FailedGates:           append([]string{}, result.Gates.FailedGates...),
		Issues:                append([]string{}, result.Issues...),
	}
	if result.ReferenceRate != nil {
		referenceRate := result.ReferenceRate.Rate
		record.ReferenceRate = &referenceRate
		record.MatchedKey = result.ReferenceRate.MatchedKey
	}
	return record
}

// Multi fans results out to every sink in order and stops at the first failure.
type Multi []Sink

// Name identifies the sink.
func (sinks Multi) Name() string {
	names := make([]string, 0, len(sinks))
	for _, sink := range sinks {
		names = append(names, sink.Name())
	}
	return strings.Join(names, ",")
}

// Write delivers the run to each sink.
func (sinks Multi) Write(executionContext context.Context, run Run, results []engine.ValidationResult) error {
	for _, sink := range sinks {
		if writeError := sink.Write(executionContext, run, results); writeError != nil {
			return fmt.Errorf(sinkWriteErrorTemplateConstant, sink.Name(), writeError)
		}
	}
	return nil
}
