package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/temirov/freightaudit/internal/engine"
)

const (
	jsonLinesSinkNameConstant   = "jsonl"
	jsonLinesWriteErrorTemplate = "failed to write JSON lines report: %w"
)

// ResultEnvelope is one JSON-lines entry: a full result tagged with its run.
type ResultEnvelope struct {
	RunID  string                  `json:"run_id"`
	Result engine.ValidationResult `json:"result"`
}

// JSONLinesSink writes one JSON document per result.
type JSONLinesSink struct {
	writer io.Writer
}

// NewJSONLinesSink builds a JSON-lines sink over writer.
func NewJSONLinesSink(writer io.Writer) *JSONLinesSink {
	return &JSONLinesSink{writer: writer}
}

// Name identifies the sink.
func (sink *JSONLinesSink) Name() string {
	return jsonLinesSinkNameConstant
}

// Write emits the report.
func (sink *JSONLinesSink) Write(_ context.Context, run Run, results []engine.ValidationResult) error {
	encoder := json.NewEncoder(sink.writer)
	for _, result := range results {
		if encodeError := encoder.Encode(ResultEnvelope{RunID: run.ID, Result: result}); encodeError != nil {
			return fmt.Errorf(jsonLinesWriteErrorTemplate, encodeError)
		}
	}
	return nil
}
