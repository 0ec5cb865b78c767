package audit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/freightaudit/internal/config"
	"github.com/temirov/freightaudit/internal/engine"
	"github.com/temirov/freightaudit/internal/utils/flags"
)

const (
	commandNameConstant        = "audit [invoice-file]"
	commandShortDescription    = "Audit invoice line items against contract rates"
	commandLongDescription     = "audit evaluates every line item of a CSV or YAML invoice against the rate catalog, grades the variance, scores anomalies, checks supporting evidence, and writes one verdict per item."
	flagInvoiceName            = "invoice"
	flagInvoiceDescription     = "Path to the invoice file (.csv, .yaml, .yml)"
	flagOutputName             = "output"
	flagOutputDescription      = "Report path; standard output when empty"
	flagFormatName             = "format"
	flagFormatDescription      = "Report format"
	flagFailOnName             = "fail-on"
	flagFailOnDescription      = "Exit with an error when the batch reaches this status (PASS, WARN, REVIEW_NEEDED, FAIL, CRITICAL)"
	flagBaselineName           = "baseline"
	flagBaselineDescription    = "Historical line items used to fit the anomaly model"
	flagConcurrencyName        = "concurrency"
	flagConcurrencyDescription = "Number of items evaluated in parallel"
	flagCatalogName            = "catalog"
	flagCatalogDescription     = "Rate catalog YAML path"
	flagEvidenceName           = "evidence"
	flagEvidenceDescription    = "Evidence manifest YAML path"
	errorMissingInvoice        = "an invoice file must be provided as an argument or with --invoice"
	errorUnknownStatusTemplate = "unknown status %q for --fail-on"
	errorConfigurationTemplate = "invalid audit configuration: %w"
	maximumPositionalArguments = 1
)

var outputFormatChoice = flags.NewChoice(config.OutputFormatCSV, config.OutputFormatCSV, config.OutputFormatJSONLines)

// CommandBuilder assembles the audit cobra command with configurable dependencies.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	Connectors            Connectors
	Clock                 Clock
}

// Build constructs the cobra command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandNameConstant,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		Args:  cobra.MaximumNArgs(maximumPositionalArguments),
		RunE:  builder.run,
	}

	command.Flags().String(flagInvoiceName, "", flagInvoiceDescription)
	command.Flags().String(flagOutputName, "", flagOutputDescription)
	command.Flags().String(flagFormatName, "", outputFormatChoice.Usage(flagFormatDescription))
	command.Flags().String(flagFailOnName, "", flagFailOnDescription)
	command.Flags().String(flagBaselineName, "", flagBaselineDescription)
	command.Flags().Int(flagConcurrencyName, 0, flagConcurrencyDescription)
	command.Flags().String(flagCatalogName, "", flagCatalogDescription)
	command.Flags().String(flagEvidenceName, "", flagEvidenceDescription)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	configuration := builder.resolveConfiguration()
	options, configuration, optionsError := builder.parseOptions(command, arguments, configuration)
	if optionsError != nil {
		return optionsError
	}
	if validationError := configuration.Validate(); validationError != nil {
		return fmt.Errorf(errorConfigurationTemplate, validationError)
	}

	service := NewService(configuration, builder.Connectors, command.OutOrStdout(), builder.resolveLogger(), builder.Clock)
	_, runError := service.Run(command.Context(), options)
	return runError
}

func (builder *CommandBuilder) parseOptions(command *cobra.Command, arguments []string, configuration config.Configuration) (CommandOptions, config.Configuration, error) {
	invoicePath, _ := command.Flags().GetString(flagInvoiceName)
	if len(arguments) > 0 && len(strings.TrimSpace(arguments[0])) > 0 {
		invoicePath = arguments[0]
	}
	invoicePath = strings.TrimSpace(invoicePath)
	if len(invoicePath) == 0 {
		if helpError := command.Help(); helpError != nil {
			return CommandOptions{}, configuration, helpError
		}
		return CommandOptions{}, configuration, errors.New(errorMissingInvoice)
	}

	outputPath, _ := command.Flags().GetString(flagOutputName)
	outputFormat, _ := command.Flags().GetString(flagFormatName)
	failOnValue, _ := command.Flags().GetString(flagFailOnName)

	options := CommandOptions{InvoicePath: invoicePath, OutputPath: strings.TrimSpace(outputPath)}
	if len(strings.TrimSpace(outputFormat)) > 0 {
		parsedFormat, formatError := outputFormatChoice.Parse(outputFormat)
		if formatError != nil {
			return CommandOptions{}, configuration, formatError
		}
		options.OutputFormat = parsedFormat
	}
	if len(strings.TrimSpace(failOnValue)) > 0 {
		status, known := engine.ParseStatus(failOnValue)
		if !known {
			return CommandOptions{}, configuration, fmt.Errorf(errorUnknownStatusTemplate, failOnValue)
		}
		options.FailOnStatus = status
	}

	if command.Flags().Changed(flagBaselineName) {
		configuration.Engine.BaselinePath, _ = command.Flags().GetString(flagBaselineName)
	}
	if command.Flags().Changed(flagConcurrencyName) {
		configuration.Engine.Concurrency, _ = command.Flags().GetInt(flagConcurrencyName)
	}
	if command.Flags().Changed(flagCatalogName) {
		configuration.Catalog.Path, _ = command.Flags().GetString(flagCatalogName)
	}
	if command.Flags().Changed(flagEvidenceName) {
		configuration.Evidence.ManifestPath, _ = command.Flags().GetString(flagEvidenceName)
	}
	if len(options.OutputFormat) > 0 {
		configuration.Output.Format = options.OutputFormat
	}

	return options, configuration.Sanitize(), nil
}

func (builder *CommandBuilder) resolveConfiguration() config.Configuration {
	if builder.ConfigurationProvider == nil {
		return config.Default()
	}
	return builder.ConfigurationProvider()
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	if builder.LoggerProvider == nil {
		return zap.NewNop()
	}
	logger := builder.LoggerProvider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
