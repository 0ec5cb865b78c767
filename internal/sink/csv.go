package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/temirov/freightaudit/internal/engine"
)

const (
	csvSinkNameConstant           = "csv"
	csvWriteErrorTemplateConstant = "failed to write CSV report: %w"
	floatFormatConstant           = 'f'
	floatPrecisionConstant        = 4
)

var csvHeader = []string{
	"run_id", "sheet", "sequence", "description", "normalized_description", "status", "band",
	"charge_group", "draft_rate", "currency", "reference_rate", "provenance", "matched_key",
	"variance_percent", "autofail", "portal_status", "anomaly_score", "anomaly_risk_level",
	"risk_score", "gate_status", "failed_gates", "issues",
}

// CSVSink writes one row per result, preceded by a header row.
type CSVSink struct {
	writer io.Writer
}

// NewCSVSink builds a CSV sink over writer.
func NewCSVSink(writer io.Writer) *CSVSink {
	return &CSVSink{writer: writer}
}

// Name identifies the sink.
func (sink *CSVSink) Name() string {
	return csvSinkNameConstant
}

// Write emits the report.
func (sink *CSVSink) Write(_ context.Context, run Run, results []engine.ValidationResult) error {
	csvWriter := csv.NewWriter(sink.writer)
	if writeError := csvWriter.Write(csvHeader); writeError != nil {
		return fmt.Errorf(csvWriteErrorTemplateConstant, writeError)
	}
	for _, result := range results {
		record := NewRecord(run, result)
		row := []string{
			record.RunID,
			record.Sheet,
			strconv.Itoa(record.Sequence),
			record.Description,
			record.NormalizedDescription,
			record.Status,
			record.Band,
			record.ChargeGroup,
			formatFloat(record.DraftRate),
			record.Currency,
			formatOptionalFloat(record.ReferenceRate),
			record.Provenance,
			record.MatchedKey,
			formatOptionalFloat(record.VariancePercent),
			strconv.FormatBool(record.AutoFail),
			record.PortalStatus,
			formatFloat(record.AnomalyScore),
			record.AnomalyRiskLevel,
			formatFloat(record.RiskScore),
			record.GateStatus,
			strings.Join(record.FailedGates, failedGateSeparatorConstant),
			strings.Join(record.Issues, issueSeparatorConstant),
		}
		if writeError := csvWriter.Write(row); writeError != nil {
			return fmt.Errorf(csvWriteErrorTemplateConstant, writeError)
		}
	}
	csvWriter.Flush()
	if flushError := csvWriter.Error(); flushError != nil {
		return fmt.Errorf(csvWriteErrorTemplateConstant, flushError)
	}
	return nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, floatFormatConstant, floatPrecisionConstant, 64)
}

func formatOptionalFloat(value *float64) string {
	if value == nil {
		return ""
	}
	return formatFloat(*value)
}
