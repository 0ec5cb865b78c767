package lineitems

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/temirov/freightaudit/internal/engine"
)

const (
	pathRequiredMessageConstant       = "line item path must be provided"
	readErrorTemplateConstant         = "failed to read line items: %w"
	unsupportedFormatTemplateConstant = "unsupported line item format %q"
	csvParseErrorTemplateConstant     = "failed to parse line item CSV: %w"
	csvHeaderMissingMessageConstant   = "line item CSV requires a header row"
	csvColumnMissingTemplateConstant  = "line item CSV is missing required column %q"
	csvNumberErrorTemplateConstant    = "row %d column %q: invalid number %q"
	yamlParseErrorTemplateConstant    = "failed to parse line item YAML: %w"
	itemValidationErrorTemplate       = "line item %d is invalid: %w"
	ymlExtensionConstant              = ".yml"
	columnSequenceConstant            = "sequence"
	columnSheetConstant               = "sheet"
	columnDescriptionConstant         = "description"
	columnRateSourceConstant          = "rate_source"
	columnUnitRateConstant            = "unit_rate"
	columnQuantityConstant            = "quantity"
	columnTotalAmountConstant         = "total_amount"
	columnRemarkConstant              = "remark"
	columnCurrencyConstant            = "currency"
	columnModeConstant                = "mode"
	columnOriginConstant              = "origin"
	columnDestinationConstant         = "destination"
	columnUnitConstant                = "unit"
	thousandsSeparatorConstant        = ","
)

// Supported line item file formats.
const (
	FormatCSV  = "csv"
	FormatYAML = "yaml"
)

var itemValidator = validator.New()

type yamlFile struct {
	Items []engine.LineItem `yaml:"items"`
}

// Load reads line items from a .csv, .yaml, or .yml file.
func Load(filePath string) ([]engine.LineItem, error) {
	trimmedPath := strings.TrimSpace(filePath)
	if len(trimmedPath) == 0 {
		return nil, errors.New(pathRequiredMessageConstant)
	}
	format, formatError := FormatFromPath(trimmedPath)
	if formatError != nil {
		return nil, formatError
	}
	contentBytes, readError := os.ReadFile(trimmedPath)
	if readError != nil {
		return nil, fmt.Errorf(readErrorTemplateConstant, readError)
	}
	return Parse(contentBytes, format)
}

// FormatFromPath maps a file extension onto a supported format.
func FormatFromPath(filePath string) (string, error) {
	extension := strings.ToLower(filepath.Ext(filePath))
	switch extension {
	case "." + FormatCSV:
		return FormatCSV, nil
	case "." + FormatYAML, ymlExtensionConstant:
		return FormatYAML, nil
	default:
		return "", fmt.Errorf(unsupportedFormatTemplateConstant, extension)
	}
}

// Parse decodes content in the given format and validates every item.
func Parse(content []byte, format string) ([]engine.LineItem, error) {
	var items []engine.LineItem
	var parseError error
	switch strings.ToLower(format) {
	case FormatCSV:
		items, parseError = parseCSV(content)
	case FormatYAML:
		items, parseError = parseYAML(content)
	default:
		return nil, fmt.Errorf(unsupportedFormatTemplateConstant, format)
	}
	if parseError != nil {
		return nil, parseError
	}
	for itemIndex := range items {
		if validationError := itemValidator.Struct(items[itemIndex]); validationError != nil {
			return nil, fmt.Errorf(itemValidationErrorTemplate, itemIndex+1, validationError)
		}
	}
	return items, nil
}

func parseYAML(content []byte) ([]engine.LineItem, error) {
	var file yamlFile
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if decodeError := decoder.Decode(&file); decodeError != nil && !errors.Is(decodeError, io.EOF) {
		return nil, fmt.Errorf(yamlParseErrorTemplateConstant, decodeError)
	}
	return file.Items, nil
}

// parseCSV reads a header row naming the columns, matched case-insensitively, followed by one
// row per item. Only the description column is required. A missing sequence defaults to the
// row number.
func parseCSV(content []byte) ([]engine.LineItem, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	records, readError := reader.ReadAll()
	if readError != nil {
		return nil, fmt.Errorf(csvParseErrorTemplateConstant, readError)
	}
	if len(records) == 0 {
		return nil, errors.New(csvHeaderMissingMessageConstant)
	}

	columns := make(map[string]int, len(records[0]))
	for columnIndex, columnName := range records[0] {
		columns[strings.ToLower(strings.TrimSpace(columnName))] = columnIndex
	}
	if _, exists := columns[columnDescriptionConstant]; !exists {
		return nil, fmt.Errorf(csvColumnMissingTemplateConstant, columnDescriptionConstant)
	}

	items := make([]engine.LineItem, 0, len(records)-1)
	for recordIndex, record := range records[1:] {
		row := csvRow{record: record, columns: columns, rowNumber: recordIndex + 2}
		if row.blank() {
			continue
		}
		item := engine.LineItem{
			Sheet:       row.text(columnSheetConstant),
			Description: row.text(columnDescriptionConstant),
			RateSource:  row.text(columnRateSourceConstant),
			Remark:      row.text(columnRemarkConstant),
			Currency:    row.text(columnCurrencyConstant),
			Mode:        row.text(columnModeConstant),
			Origin:      row.text(columnOriginConstant),
			Destination: row.text(columnDestinationConstant),
			Unit:        row.text(columnUnitConstant),
		}
		sequence, sequenceError := row.number(columnSequenceConstant)
		if sequenceError != nil {
			return nil, sequenceError
		}
		item.Sequence = int(sequence)
		if _, exists := columns[columnSequenceConstant]; !exists {
			item.Sequence = len(items) + 1
		}
		for _, numericField := range []struct {
			column string
			target *float64
		}{
			{column: columnUnitRateConstant, target: &item.UnitRate},
			{column: columnQuantityConstant, target: &item.Quantity},
			{column: columnTotalAmountConstant, target: &item.TotalAmount},
		} {
			value, numberError := row.number(numericField.column)
			if numberError != nil {
				return nil, numberError
			}
			*numericField.target = value
		}
		items = append(items, item)
	}
	return items, nil
}

type csvRow struct {
	record    []string
	columns   map[string]int
	rowNumber int
}

func (row csvRow) text(column string) string {
	columnIndex, exists := row.columns[column]
	if !exists || columnIndex >= len(row.record) {
		return ""
	}
	return strings.TrimSpace(row.record[columnIndex])
}

func (row csvRow) number(column string) (float64, error) {
	rawValue := strings.ReplaceAll(row.text(column), thousandsSeparatorConstant, "")
	if len(rawValue) == 0 {
		return 0, nil
	}
	value, parseError := strconv.ParseFloat(rawValue, 64)
	if parseError != nil {
		return 0, fmt.Errorf(csvNumberErrorTemplateConstant, row.rowNumber, column, row.text(column))
	}
	return value, nil
}

func (row csvRow) blank() bool {
	for _, field := range row.record {
		if len(strings.TrimSpace(field)) > 0 {
			return false
		}
	}
	return true
}
