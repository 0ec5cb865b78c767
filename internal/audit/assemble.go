package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/freightaudit/internal/anomaly"
	"github.com/temirov/freightaudit/internal/catalog"
	"github.com/temirov/freightaudit/internal/config"
	"github.com/temirov/freightaudit/internal/currency"
	"github.com/temirov/freightaudit/internal/engine"
	"github.com/temirov/freightaudit/internal/evidence"
	"github.com/temirov/freightaudit/internal/gates"
	"github.com/temirov/freightaudit/internal/lineitems"
	"github.com/temirov/freightaudit/internal/normalize"
	"github.com/temirov/freightaudit/internal/rates"
	"github.com/temirov/freightaudit/internal/risk"
)

const (
	catalogLoadErrorTemplateConstant    = "failed to load rate catalog: %w"
	catalogBuildErrorTemplateConstant   = "invalid rate catalog: %w"
	normalizerErrorTemplateConstant     = "invalid synonym table: %w"
	baselineLoadErrorTemplateConstant   = "failed to load anomaly baseline: %w"
	blenderErrorTemplateConstant        = "invalid risk configuration: %w"
	evidenceErrorTemplateConstant       = "failed to open evidence source: %w"
	gatesErrorTemplateConstant          = "invalid gate configuration: %w"
	engineErrorTemplateConstant         = "failed to build audit engine: %w"
	catalogLoadedLogMessageConstant     = "Rate catalog loaded"
	evidenceSourceLogMessageConstant    = "Evidence source selected"
	baselineLoadedLogMessageConstant    = "Anomaly baseline loaded"
	catalogPathLogFieldNameConstant     = "catalog_path"
	catalogDatabaseLogFieldNameConstant = "catalog_database"
	keywordCountLogFieldNameConstant    = "keyword_fees"
	contractCountLogFieldNameConstant   = "contract_rates"
	evidenceKindLogFieldNameConstant    = "evidence"
	baselineSizeLogFieldNameConstant    = "baseline_items"
	strategyLogFieldNameConstant        = "strategy"
	evidenceKindManifestConstant        = "manifest"
	evidenceKindRedisConstant           = "redis"
	evidenceKindNoneConstant            = "none"
)

// Assembly is a ready engine plus the resources it holds open.
type Assembly struct {
	Engine               *engine.Engine
	Catalog              *catalog.Catalog
	CriticalFailureCount int
	closers              []func()
}

// Close releases connections opened during assembly. It is safe to call more than once.
func (assembly *Assembly) Close() {
	if assembly == nil {
		return
	}
	for closerIndex := len(assembly.closers) - 1; closerIndex >= 0; closerIndex-- {
		assembly.closers[closerIndex]()
	}
	assembly.closers = nil
}

// Assemble builds the decision engine described by configuration.
func Assemble(executionContext context.Context, configuration config.Configuration, connectors Connectors, logger *zap.Logger) (*Assembly, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	connectors = connectors.withDefaults()
	if catalogError := configuration.RequireCatalog(); catalogError != nil {
		return nil, catalogError
	}

	assembly := &Assembly{CriticalFailureCount: configuration.Engine.CriticalFailureCount}
	builtEngine, buildError := assembly.build(executionContext, configuration, connectors, logger)
	if buildError != nil {
		assembly.Close()
		return nil, buildError
	}
	assembly.Engine = builtEngine
	return assembly, nil
}

func (assembly *Assembly) build(executionContext context.Context, configuration config.Configuration, connectors Connectors, logger *zap.Logger) (*engine.Engine, error) {
	document, documentError := loadCatalogDocument(executionContext, configuration.Catalog, connectors)
	if documentError != nil {
		return nil, fmt.Errorf(catalogLoadErrorTemplateConstant, documentError)
	}
	rateCatalog, catalogError := catalog.New(document)
	if catalogError != nil {
		return nil, fmt.Errorf(catalogBuildErrorTemplateConstant, catalogError)
	}
	assembly.Catalog = rateCatalog
	logger.Info(catalogLoadedLogMessageConstant,
		zap.String(catalogPathLogFieldNameConstant, configuration.Catalog.Path),
		zap.Bool(catalogDatabaseLogFieldNameConstant, len(configuration.Catalog.PostgresDSN) > 0),
		zap.Int(keywordCountLogFieldNameConstant, len(rateCatalog.KeywordFees())),
		zap.Int(contractCountLogFieldNameConstant, len(rateCatalog.ContractRates())),
	)

	normalizer, normalizerError := normalize.NewCategoryNormalizer(rateCatalog.Synonyms())
	if normalizerError != nil {
		return nil, fmt.Errorf(normalizerErrorTemplateConstant, normalizerError)
	}
	aliases := rateCatalog.NormalizationAliases()
	locationIndex := normalize.NewLocationIndex(aliases.Ports, aliases.Destinations)
	converter := rateCatalog.Converter()

	catalogBands, catalogDeclaresBands := rateCatalog.CostGuardBands()
	thresholds := configuration.EffectiveThresholds(catalogBands, catalogDeclaresBands)

	baseline, baselineError := loadBaseline(configuration.Engine.BaselinePath, normalizer, locationIndex, converter)
	if baselineError != nil {
		return nil, baselineError
	}
	logger.Info(baselineLoadedLogMessageConstant,
		zap.Int(baselineSizeLogFieldNameConstant, len(baseline)),
		zap.String(strategyLogFieldNameConstant, string(configuration.Anomaly.Strategy)),
	)
	scorer := anomaly.NewOrDisabled(configuration.Anomaly, baseline, logger)

	blender, blenderError := risk.NewBlender(configuration.Risk.Weights, configuration.Risk.TriggerThreshold, thresholds.AutoFail)
	if blenderError != nil {
		return nil, fmt.Errorf(blenderErrorTemplateConstant, blenderError)
	}

	provider, providerError := assembly.openEvidence(executionContext, configuration.Evidence, connectors, logger)
	if providerError != nil {
		return nil, fmt.Errorf(evidenceErrorTemplateConstant, providerError)
	}
	gateEvaluator, gatesError := gates.NewEvaluator(provider, configuration.Gates)
	if gatesError != nil {
		return nil, fmt.Errorf(gatesErrorTemplateConstant, gatesError)
	}

	builtEngine, engineError := engine.New(engine.Dependencies{
		Normalizer:        normalizer,
		LocationIndex:     locationIndex,
		Resolver:          rates.NewResolver(rates.DefaultTiers(rateCatalog, locationIndex)...),
		Converter:         converter,
		Thresholds:        thresholds,
		PortalThresholds:  configuration.Portal,
		Scorer:            scorer,
		AnomalyThresholds: configuration.Anomaly.Thresholds,
		Blender:           blender,
		Gates:             gateEvaluator,
		Concurrency:       configuration.Engine.Concurrency,
		Logger:            logger,
	})
	if engineError != nil {
		return nil, fmt.Errorf(engineErrorTemplateConstant, engineError)
	}
	return builtEngine, nil
}

// loadCatalogDocument reads the YAML catalog and merges the Postgres tables over it.
func loadCatalogDocument(executionContext context.Context, catalogConfiguration config.CatalogConfiguration, connectors Connectors) (catalog.Document, error) {
	var document catalog.Document
	if len(catalogConfiguration.Path) > 0 {
		fileDocument, fileError := catalog.LoadFile(catalogConfiguration.Path)
		if fileError != nil {
			return catalog.Document{}, fileError
		}
		document = fileDocument
	}
	if len(catalogConfiguration.PostgresDSN) == 0 {
		return document, nil
	}

	querier, closeQuerier, connectError := connectors.ConnectPostgres(executionContext, catalogConfiguration.PostgresDSN)
	if connectError != nil {
		return catalog.Document{}, connectError
	}
	if closeQuerier != nil {
		defer closeQuerier()
	}
	source, sourceError := catalog.NewPostgresSource(querier)
	if sourceError != nil {
		return catalog.Document{}, sourceError
	}
	databaseDocument, loadError := source.Load(executionContext)
	if loadError != nil {
		return catalog.Document{}, loadError
	}
	return document.Merge(databaseDocument), nil
}

func loadBaseline(baselinePath string, normalizer *normalize.CategoryNormalizer, locationIndex *normalize.LocationIndex, converter currency.Converter) ([]anomaly.Features, error) {
	if len(baselinePath) == 0 {
		return nil, nil
	}
	items, loadError := lineitems.Load(baselinePath)
	if loadError != nil {
		return nil, fmt.Errorf(baselineLoadErrorTemplateConstant, loadError)
	}
	return engine.BaselineFeatures(items, normalizer, locationIndex, converter), nil
}

func (assembly *Assembly) openEvidence(executionContext context.Context, evidenceConfiguration config.EvidenceConfiguration, connectors Connectors, logger *zap.Logger) (gates.EvidenceProvider, error) {
	switch {
	case len(evidenceConfiguration.ManifestPath) > 0:
		logger.Info(evidenceSourceLogMessageConstant, zap.String(evidenceKindLogFieldNameConstant, evidenceKindManifestConstant))
		return evidence.LoadManifest(evidenceConfiguration.ManifestPath)
	case evidenceConfiguration.Redis.Enabled():
		client, connectError := connectors.ConnectRedis(executionContext, evidenceConfiguration.Redis)
		if connectError != nil {
			return nil, connectError
		}
		assembly.closers = append(assembly.closers, func() { _ = client.Close() })
		logger.Info(evidenceSourceLogMessageConstant, zap.String(evidenceKindLogFieldNameConstant, evidenceKindRedisConstant))
		return evidence.NewRedisProvider(client, evidenceConfiguration.KeyPrefix), nil
	default:
		logger.Info(evidenceSourceLogMessageConstant, zap.String(evidenceKindLogFieldNameConstant, evidenceKindNoneConstant))
		return nil, nil
	}
}
