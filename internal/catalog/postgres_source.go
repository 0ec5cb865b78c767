package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const (
	querierRequiredMessageConstant   = "postgres catalog source requires a querier"
	postgresQueryErrorTemplate       = "failed to query %s: %w"
	postgresScanErrorTemplate        = "failed to read %s: %w"
	exchangeRatesTableNameConstant   = "exchange rates"
	fixedFeesTableNameConstant       = "fixed fees"
	keywordFeesTableNameConstant     = "keyword fees"
	lanesTableNameConstant           = "lanes"
	contractRatesTableNameConstant   = "contract rates"
	selectExchangeRatesQueryConstant = `SELECT currency_code, units_per_base FROM exchange_rates`
	selectFixedFeesQueryConstant     = `SELECT charge_code, transport_mode, rate, COALESCE(currency, '') FROM fixed_fees ORDER BY charge_code, transport_mode`
	selectKeywordFeesQueryConstant   = `SELECT keyword, rate, COALESCE(currency, ''), COALESCE(required_mode, '') FROM keyword_fees ORDER BY position`
	selectLanesQueryConstant         = `SELECT origin, destination, COALESCE(unit, ''), rate, COALESCE(currency, ''), inland FROM lanes ORDER BY position`
	selectContractRatesQueryConstant = `SELECT description, rate, COALESCE(currency, '') FROM contract_rates ORDER BY position`
)

// Querier is the subset of pgxpool.Pool and pgx.Conn the catalog source reads through.
type Querier interface {
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
}

// PostgresSource loads rate tables maintained in a Postgres database. Synonyms, aliases, and
// band overrides stay in the YAML catalog and are merged on top by the caller.
type PostgresSource struct {
	querier Querier
}

// NewPostgresSource constructs a PostgresSource.
func NewPostgresSource(querier Querier) (*PostgresSource, error) {
	if querier == nil {
		return nil, errors.New(querierRequiredMessageConstant)
	}
	return &PostgresSource{querier: querier}, nil
}

type exchangeRateRow struct {
	currencyCode string
	unitsPerBase float64
}

type fixedFeeRow struct {
	code     string
	mode     string
	rate     float64
	currency string
}

type laneRow struct {
	lane   Lane
	inland bool
}

// Load reads every rate table into a catalog document.
func (source *PostgresSource) Load(executionContext context.Context) (Document, error) {
	var document Document

	exchangeRows, exchangeError := collect(executionContext, source.querier, exchangeRatesTableNameConstant, selectExchangeRatesQueryConstant,
		func(row pgx.CollectableRow) (exchangeRateRow, error) {
			var scanned exchangeRateRow
			scanError := row.Scan(&scanned.currencyCode, &scanned.unitsPerBase)
			return scanned, scanError
		})
	if exchangeError != nil {
		return Document{}, exchangeError
	}
	document.ExchangeRates = make(map[string]float64, len(exchangeRows))
	for _, exchangeRow := range exchangeRows {
		document.ExchangeRates[exchangeRow.currencyCode] = exchangeRow.unitsPerBase
	}

	fixedFeeRows, fixedFeeError := collect(executionContext, source.querier, fixedFeesTableNameConstant, selectFixedFeesQueryConstant,
		func(row pgx.CollectableRow) (fixedFeeRow, error) {
			var scanned fixedFeeRow
			scanError := row.Scan(&scanned.code, &scanned.mode, &scanned.rate, &scanned.currency)
			return scanned, scanError
		})
	if fixedFeeError != nil {
		return Document{}, fixedFeeError
	}
	document.FixedFees = make(map[string]FixedFeeDefinition)
	for _, scanned := range fixedFeeRows {
		definition, exists := document.FixedFees[scanned.code]
		if !exists {
			definition = FixedFeeDefinition{Currency: scanned.currency, Rates: make(map[string]float64)}
		}
		definition.Rates[scanned.mode] = scanned.rate
		document.FixedFees[scanned.code] = definition
	}

	keywordFees, keywordError := collect(executionContext, source.querier, keywordFeesTableNameConstant, selectKeywordFeesQueryConstant,
		func(row pgx.CollectableRow) (KeywordFee, error) {
			var keywordFee KeywordFee
			scanError := row.Scan(&keywordFee.Keyword, &keywordFee.Rate, &keywordFee.Currency, &keywordFee.RequiredMode)
			return keywordFee, scanError
		})
	if keywordError != nil {
		return Document{}, keywordError
	}
	document.KeywordFees = keywordFees

	laneRows, laneError := collect(executionContext, source.querier, lanesTableNameConstant, selectLanesQueryConstant,
		func(row pgx.CollectableRow) (laneRow, error) {
			var scanned laneRow
			scanError := row.Scan(&scanned.lane.Origin, &scanned.lane.Destination, &scanned.lane.Unit, &scanned.lane.Rate, &scanned.lane.Currency, &scanned.inland)
			return scanned, scanError
		})
	if laneError != nil {
		return Document{}, laneError
	}
	for _, scanned := range laneRows {
		if scanned.inland {
			document.InlandLanes = append(document.InlandLanes, scanned.lane)
			continue
		}
		document.Lanes = append(document.Lanes, scanned.lane)
	}

	contractRates, contractError := collect(executionContext, source.querier, contractRatesTableNameConstant, selectContractRatesQueryConstant,
		func(row pgx.CollectableRow) (ContractRate, error) {
			var contractRate ContractRate
			scanError := row.Scan(&contractRate.Description, &contractRate.Rate, &contractRate.Currency)
			return contractRate, scanError
		})
	if contractError != nil {
		return Document{}, contractError
	}
	document.ContractRates = contractRates

	return document, nil
}

func collect[T any](executionContext context.Context, querier Querier, tableName string, query string, scan pgx.RowToFunc[T]) ([]T, error) {
	rows, queryError := querier.Query(executionContext, query)
	if queryError != nil {
		return nil, fmt.Errorf(postgresQueryErrorTemplate, tableName, queryError)
	}
	collected, collectError := pgx.CollectRows(rows, scan)
	if collectError != nil {
		return nil, fmt.Errorf(postgresScanErrorTemplate, tableName, collectError)
	}
	return collected, nil
}
