package audit

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/temirov/freightaudit/internal/config"
	"github.com/temirov/freightaudit/internal/engine"
	"github.com/temirov/freightaudit/internal/lineitems"
	"github.com/temirov/freightaudit/internal/sink"
	"github.com/temirov/freightaudit/internal/utils"
)

const (
	invoicePathRequiredMessageConstant = "an invoice file must be provided"
	invoiceLoadErrorTemplateConstant   = "failed to load invoice: %w"
	sinkOpenErrorTemplateConstant      = "failed to open output sink: %w"
	statusThresholdErrorTemplate       = "%w: batch status %s reached %s"
	unknownFormatErrorTemplate         = "unknown output format %q"
	auditCompletedLogMessageConstant   = "Audit run completed"
	deliveringLogMessageConstant       = "Delivering audit results"
	runIdentifierLogFieldNameConstant  = "run_id"
	itemsLogFieldNameConstant          = "items"
	worstStatusLogFieldNameConstant    = "worst_status"
	failuresLogFieldNameConstant       = "failures"
	reviewsLogFieldNameConstant        = "review_needed"
	unresolvedLogFieldNameConstant     = "unresolved"
	sinksLogFieldNameConstant          = "sinks"
)

// ErrStatusThreshold reports that a run reached the status the caller asked to fail on.
var ErrStatusThreshold = errors.New("audit status threshold reached")

// CommandOptions configures one audit run.
type CommandOptions struct {
	InvoicePath  string
	OutputPath   string
	OutputFormat string
	FailOnStatus engine.Status
}

// Report is the outcome of one audit run.
type Report struct {
	Run         sink.Run
	Results     []engine.ValidationResult
	WorstStatus engine.Status
}

// Service evaluates invoices with an assembled engine and delivers the verdicts.
type Service struct {
	configuration config.Configuration
	connectors    Connectors
	outputWriter  io.Writer
	logger        *zap.Logger
	clock         Clock
}

// NewService constructs a Service. The output writer receives the file report when no output
// path is configured.
func NewService(configuration config.Configuration, connectors Connectors, outputWriter io.Writer, logger *zap.Logger, clock Clock) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{
		configuration: configuration,
		connectors:    connectors.withDefaults(),
		outputWriter:  outputWriter,
		logger:        logger,
		clock:         clock,
	}
}

// Run executes one audit. When FailOnStatus is set and the batch reaches it, the report is
// returned together with an error wrapping ErrStatusThreshold.
func (service *Service) Run(executionContext context.Context, options CommandOptions) (Report, error) {
	if len(options.InvoicePath) == 0 {
		return Report{}, errors.New(invoicePathRequiredMessageConstant)
	}
	items, itemsError := lineitems.Load(options.InvoicePath)
	if itemsError != nil {
		return Report{}, fmt.Errorf(invoiceLoadErrorTemplateConstant, itemsError)
	}

	assembly, assemblyError := Assemble(executionContext, service.configuration, service.connectors, service.logger)
	if assemblyError != nil {
		return Report{}, assemblyError
	}
	defer assembly.Close()

	startedAt := service.clock.Now()
	results := assembly.Engine.EvaluateBatch(executionContext, items)
	summary := engine.Summarize(results)
	report := Report{
		Run:         sink.NewRun(options.InvoicePath, startedAt, summary),
		Results:     results,
		WorstStatus: summary.WorstStatus(assembly.CriticalFailureCount),
	}

	if deliveryError := service.deliver(executionContext, options, report); deliveryError != nil {
		return report, deliveryError
	}

	service.logger.Info(auditCompletedLogMessageConstant,
		zap.String(runIdentifierLogFieldNameConstant, report.Run.ID),
		zap.Int(itemsLogFieldNameConstant, summary.ItemCount),
		zap.String(worstStatusLogFieldNameConstant, string(report.WorstStatus)),
		zap.Int(failuresLogFieldNameConstant, summary.StatusCounts[engine.StatusFail]),
		zap.Int(reviewsLogFieldNameConstant, summary.StatusCounts[engine.StatusReviewNeeded]),
		zap.Int(unresolvedLogFieldNameConstant, summary.UnresolvedCount),
	)

	if len(options.FailOnStatus) > 0 && report.WorstStatus.Severity() >= options.FailOnStatus.Severity() {
		return report, fmt.Errorf(statusThresholdErrorTemplate, ErrStatusThreshold, report.WorstStatus, options.FailOnStatus)
	}
	return report, nil
}

func (service *Service) deliver(executionContext context.Context, options CommandOptions, report Report) (deliveryError error) {
	outputPath := options.OutputPath
	if len(outputPath) == 0 {
		outputPath = service.configuration.Output.Path
	}
	outputFormat := options.OutputFormat
	if len(outputFormat) == 0 {
		outputFormat = service.configuration.Output.Format
	}

	reportWriter, writerError := utils.OpenReportWriter(outputPath, service.outputWriter)
	if writerError != nil {
		return fmt.Errorf(sinkOpenErrorTemplateConstant, writerError)
	}
	defer func() {
		if closeError := reportWriter.Close(); closeError != nil && deliveryError == nil {
			deliveryError = closeError
		}
	}()

	var fileSink sink.Sink
	switch outputFormat {
	case config.OutputFormatCSV:
		fileSink = sink.NewCSVSink(reportWriter)
	case config.OutputFormatJSONLines:
		fileSink = sink.NewJSONLinesSink(reportWriter)
	default:
		return fmt.Errorf(unknownFormatErrorTemplate, outputFormat)
	}
	sinks := sink.Multi{fileSink}

	outputConfiguration := service.configuration.Output
	if outputConfiguration.Redis.Enabled() {
		client, connectError := service.connectors.ConnectRedis(executionContext, outputConfiguration.Redis)
		if connectError != nil {
			return fmt.Errorf(sinkOpenErrorTemplateConstant, connectError)
		}
		defer func() { _ = client.Close() }()
		sinks = append(sinks, sink.NewRedisPublisher(client, outputConfiguration.RedisChannel))
	}
	if len(outputConfiguration.MySQLDSN) > 0 {
		database, openError := service.connectors.OpenMySQL(outputConfiguration.MySQLDSN)
		if openError != nil {
			return fmt.Errorf(sinkOpenErrorTemplateConstant, openError)
		}
		gormSink, gormError := sink.NewGormSink(database, outputConfiguration.MigrateSchema)
		if gormError != nil {
			return fmt.Errorf(sinkOpenErrorTemplateConstant, gormError)
		}
		sinks = append(sinks, gormSink)
	}

	service.logger.Debug(deliveringLogMessageConstant, zap.String(sinksLogFieldNameConstant, sinks.Name()))
	return sinks.Write(executionContext, report.Run, report.Results)
}
