package httpapi

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/freightaudit/internal/audit"
	"github.com/temirov/freightaudit/internal/config"
)

const (
	commandNameConstant        = "serve"
	commandShortDescription    = "Serve the audit engine over HTTP"
	commandLongDescription     = "serve assembles the audit engine once and answers POST /v1/evaluate and POST /v1/evaluate/item with one verdict per line item."
	flagAddressName            = "address"
	flagAddressDescription     = "Listen address, host:port"
	flagCatalogName            = "catalog"
	flagCatalogDescription     = "Rate catalog YAML path"
	flagEvidenceName           = "evidence"
	flagEvidenceDescription    = "Evidence manifest YAML path"
	flagBaselineName           = "baseline"
	flagBaselineDescription    = "Historical line items used to fit the anomaly model"
	flagConcurrencyName        = "concurrency"
	flagConcurrencyDescription = "Number of items evaluated in parallel per request"
	errorConfigurationTemplate = "invalid serve configuration: %w"
	errorRouterTemplate        = "failed to build router: %w"
)

// LoggerProvider supplies a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider supplies the loaded configuration.
type ConfigurationProvider func() config.Configuration

// CommandBuilder assembles the serve cobra command with configurable dependencies.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	Connectors            audit.Connectors
}

// Build constructs the cobra command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandNameConstant,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}

	command.Flags().String(flagAddressName, "", flagAddressDescription)
	command.Flags().String(flagCatalogName, "", flagCatalogDescription)
	command.Flags().String(flagEvidenceName, "", flagEvidenceDescription)
	command.Flags().String(flagBaselineName, "", flagBaselineDescription)
	command.Flags().Int(flagConcurrencyName, 0, flagConcurrencyDescription)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, _ []string) error {
	configuration := builder.applyFlags(command, builder.resolveConfiguration())
	if validationError := configuration.Validate(); validationError != nil {
		return fmt.Errorf(errorConfigurationTemplate, validationError)
	}
	logger := builder.resolveLogger()

	executionContext := command.Context()
	if executionContext == nil {
		executionContext = context.Background()
	}
	signalContext, stopSignals := signal.NotifyContext(executionContext, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	assembly, assemblyError := audit.Assemble(signalContext, configuration, builder.Connectors, logger)
	if assemblyError != nil {
		return assemblyError
	}
	defer assembly.Close()

	router, routerError := NewRouter(assembly.Engine, Settings{
		MaximumItems:         configuration.Server.MaximumItems,
		CriticalFailureCount: assembly.CriticalFailureCount,
	}, logger)
	if routerError != nil {
		return fmt.Errorf(errorRouterTemplate, routerError)
	}

	return NewServer(configuration.Server, router, logger).Run(signalContext)
}

func (builder *CommandBuilder) applyFlags(command *cobra.Command, configuration config.Configuration) config.Configuration {
	if command.Flags().Changed(flagAddressName) {
		configuration.Server.Address, _ = command.Flags().GetString(flagAddressName)
	}
	if command.Flags().Changed(flagCatalogName) {
		configuration.Catalog.Path, _ = command.Flags().GetString(flagCatalogName)
	}
	if command.Flags().Changed(flagEvidenceName) {
		configuration.Evidence.ManifestPath, _ = command.Flags().GetString(flagEvidenceName)
	}
	if command.Flags().Changed(flagBaselineName) {
		configuration.Engine.BaselinePath, _ = command.Flags().GetString(flagBaselineName)
	}
	if command.Flags().Changed(flagConcurrencyName) {
		configuration.Engine.Concurrency, _ = command.Flags().GetInt(flagConcurrencyName)
	}
	return configuration.Sanitize()
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
