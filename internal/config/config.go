package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/temirov/freightaudit/internal/anomaly"
	"github.com/temirov/freightaudit/internal/costguard"
	"github.com/temirov/freightaudit/internal/gates"
	"github.com/temirov/freightaudit/internal/redisconn"
	"github.com/temirov/freightaudit/internal/risk"
)

const (
	fieldValidationErrorTemplate       = "configuration field %s failed %q validation"
	costGuardErrorTemplateConstant     = "cost_guard: %w"
	portalErrorTemplateConstant        = "portal: %w"
	anomalyErrorTemplateConstant       = "anomaly: %w"
	riskErrorTemplateConstant          = "risk.weights: %w"
	catalogSourceRequiredMessage       = "catalog.path or catalog.postgres_dsn must be provided"
	unknownOutputFormatTemplate        = "unknown output format %q"
	validationFailedTemplateConstant   = "invalid configuration: %w"
	defaultServerAddressConstant       = ":8080"
	defaultRedisChannelConstant        = "freight-audit.results"
	defaultEvidenceKeyPrefixConstant   = "evidence"
	defaultRiskTriggerConstant         = 0.6
	defaultMaximumRequestItemsConstant = 5000
)

// Output file formats.
const (
	OutputFormatCSV       = "csv"
	OutputFormatJSONLines = "jsonl"
)

var configurationValidator = validator.New()

// CatalogConfiguration locates the rate catalog. When both sources are set the Postgres tables
// are merged over the YAML document.
type CatalogConfiguration struct {
	Path        string `mapstructure:"path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// RiskConfiguration parameterizes the risk blender.
type RiskConfiguration struct {
	Weights          risk.Weights `mapstructure:"weights"`
	TriggerThreshold float64      `mapstructure:"trigger_threshold" validate:"gte=0,lte=1"`
}

// EvidenceConfiguration selects the document evidence source. A manifest wins over Redis.
type EvidenceConfiguration struct {
	ManifestPath string             `mapstructure:"manifest_path"`
	KeyPrefix    string             `mapstructure:"key_prefix"`
	Redis        redisconn.Settings `mapstructure:"redis"`
}

// EngineConfiguration tunes batch evaluation.
type EngineConfiguration struct {
	Concurrency          int    `mapstructure:"concurrency" validate:"gte=1,lte=256"`
	CriticalFailureCount int    `mapstructure:"critical_failure_count" validate:"gte=0"`
	BaselinePath         string `mapstructure:"baseline_path"`
}

// OutputConfiguration selects the sinks of the audit command. The file sink is always active;
// an empty path writes to standard output.
type OutputConfiguration struct {
	Format        string             `mapstructure:"format"`
	Path          string             `mapstructure:"path"`
	RedisChannel  string             `mapstructure:"redis_channel"`
	Redis         redisconn.Settings `mapstructure:"redis"`
	MySQLDSN      string             `mapstructure:"mysql_dsn"`
	MigrateSchema bool               `mapstructure:"migrate_schema"`
}

// ServerConfiguration configures the HTTP surface.
type ServerConfiguration struct {
	Address         string        `mapstructure:"address" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	MaximumItems    int           `mapstructure:"maximum_items" validate:"gte=1"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// Configuration is the complete, explicit configuration of the audit engine.
type Configuration struct {
	LogLevel  string                     `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string                     `mapstructure:"log_format" validate:"oneof=structured console"`
	Catalog   CatalogConfiguration       `mapstructure:"catalog"`
	CostGuard costguard.Thresholds       `mapstructure:"cost_guard"`
	Portal    costguard.PortalThresholds `mapstructure:"portal"`
	Anomaly   anomaly.Settings           `mapstructure:"anomaly"`
	Risk      RiskConfiguration          `mapstructure:"risk"`
	Gates     gates.Settings             `mapstructure:"gates"`
	Evidence  EvidenceConfiguration      `mapstructure:"evidence"`
	Engine    EngineConfiguration        `mapstructure:"engine"`
	Output    OutputConfiguration        `mapstructure:"output"`
	Server    ServerConfiguration        `mapstructure:"server"`
}

// Default returns the stock configuration.
func Default() Configuration {
	return Configuration{
		LogLevel:  "info",
		LogFormat: "structured",
		CostGuard: costguard.DefaultThresholds(),
		Portal:    costguard.DefaultPortalThresholds(),
		Anomaly:   anomaly.DefaultSettings(),
		Risk:      RiskConfiguration{Weights: risk.DefaultWeights(), TriggerThreshold: defaultRiskTriggerConstant},
		Gates:     gates.DefaultSettings(),
		Evidence:  EvidenceConfiguration{KeyPrefix: defaultEvidenceKeyPrefixConstant},
		Engine:    EngineConfiguration{Concurrency: 4},
		Output:    OutputConfiguration{Format: OutputFormatCSV, RedisChannel: defaultRedisChannelConstant},
		Server: ServerConfiguration{
			Address:         defaultServerAddressConstant,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			MaximumItems:    defaultMaximumRequestItemsConstant,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Sanitize trims string settings and lower-cases enumerations.
func (configuration Configuration) Sanitize() Configuration {
	sanitized := configuration
	sanitized.LogLevel = strings.ToLower(strings.TrimSpace(configuration.LogLevel))
	sanitized.LogFormat = strings.ToLower(strings.TrimSpace(configuration.LogFormat))
	sanitized.Catalog.Path = strings.TrimSpace(configuration.Catalog.Path)
	sanitized.Catalog.PostgresDSN = strings.TrimSpace(configuration.Catalog.PostgresDSN)
	sanitized.Evidence.ManifestPath = strings.TrimSpace(configuration.Evidence.ManifestPath)
	sanitized.Engine.BaselinePath = strings.TrimSpace(configuration.Engine.BaselinePath)
	sanitized.Output.Format = strings.ToLower(strings.TrimSpace(configuration.Output.Format))
	sanitized.Output.Path = strings.TrimSpace(configuration.Output.Path)
	sanitized.Output.MySQLDSN = strings.TrimSpace(configuration.Output.MySQLDSN)
	sanitized.Anomaly.Strategy = anomaly.Strategy(strings.ToLower(strings.TrimSpace(string(configuration.Anomaly.Strategy))))
	return sanitized
}

// Validate applies the field rules and the cross-field invariants. It does not require a
// catalog source; commands that need one call RequireCatalog.
func (configuration Configuration) Validate() error {
	if structError := configurationValidator.Struct(configuration); structError != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(structError, &fieldErrors) && len(fieldErrors) > 0 {
			return fmt.Errorf(validationFailedTemplateConstant, fmt.Errorf(fieldValidationErrorTemplate, fieldErrors[0].Namespace(), fieldErrors[0].Tag()))
		}
		return fmt.Errorf(validationFailedTemplateConstant, structError)
	}
	if thresholdsError := configuration.CostGuard.Validate(); thresholdsError != nil {
		return fmt.Errorf(validationFailedTemplateConstant, fmt.Errorf(costGuardErrorTemplateConstant, thresholdsError))
	}
	if portalError := configuration.Portal.Validate(); portalError != nil {
		return fmt.Errorf(validationFailedTemplateConstant, fmt.Errorf(portalErrorTemplateConstant, portalError))
	}
	if _, strategyError := anomaly.ParseStrategy(string(configuration.Anomaly.Strategy)); strategyError != nil {
		return fmt.Errorf(validationFailedTemplateConstant, fmt.Errorf(anomalyErrorTemplateConstant, strategyError))
	}
	if anomalyError := configuration.Anomaly.Thresholds.Validate(); anomalyError != nil {
		return fmt.Errorf(validationFailedTemplateConstant, fmt.Errorf(anomalyErrorTemplateConstant, anomalyError))
	}
	if _, weightsError := configuration.Risk.Weights.Normalized(); weightsError != nil {
		return fmt.Errorf(validationFailedTemplateConstant, fmt.Errorf(riskErrorTemplateConstant, weightsError))
	}
	switch configuration.Output.Format {
	case OutputFormatCSV, OutputFormatJSONLines:
	default:
		return fmt.Errorf(validationFailedTemplateConstant, fmt.Errorf(unknownOutputFormatTemplate, configuration.Output.Format))
	}
	return nil
}

// RequireCatalog reports an error when no catalog source is configured.
func (configuration Configuration) RequireCatalog() error {
	if len(configuration.Catalog.Path) == 0 && len(configuration.Catalog.PostgresDSN) == 0 {
		return errors.New(catalogSourceRequiredMessage)
	}
	return nil
}

// EffectiveThresholds returns catalog bands when the catalog declares them, otherwise the
// configured bands.
func (configuration Configuration) EffectiveThresholds(catalogBands costguard.Thresholds, catalogDeclaresBands bool) costguard.Thresholds {
	if catalogDeclaresBands {
		return catalogBands
	}
	return configuration.CostGuard
}
