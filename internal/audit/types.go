package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/temirov/freightaudit/internal/catalog"
	"github.com/temirov/freightaudit/internal/config"
	"github.com/temirov/freightaudit/internal/redisconn"
	"github.com/temirov/freightaudit/internal/sink"
)

const postgresConnectErrorTemplateConstant = "failed to connect to catalog database: %w"

// LoggerProvider supplies a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider supplies the loaded configuration.
type ConfigurationProvider func() config.Configuration

// Clock abstracts time-dependent functionality for deterministic testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the standard library.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Connectors open the network collaborators. Tests replace them to avoid real servers.
type Connectors struct {
	ConnectPostgres func(executionContext context.Context, dataSourceName string) (catalog.Querier, func(), error)
	ConnectRedis    func(executionContext context.Context, settings redisconn.Settings) (*redis.Client, error)
	OpenMySQL       func(dataSourceName string) (*gorm.DB, error)
}

// DefaultConnectors returns connectors backed by pgxpool, go-redis, and gorm.
func DefaultConnectors() Connectors {
	return Connectors{
		ConnectPostgres: connectPostgres,
		ConnectRedis:    redisconn.Connect,
		OpenMySQL:       sink.OpenMySQL,
	}
}

func (connectors Connectors) withDefaults() Connectors {
	defaults := DefaultConnectors()
	if connectors.ConnectPostgres == nil {
		connectors.ConnectPostgres = defaults.ConnectPostgres
	}
	if connectors.ConnectRedis == nil {
		connectors.ConnectRedis = defaults.ConnectRedis
	}
	if connectors.OpenMySQL == nil {
		connectors.OpenMySQL = defaults.OpenMySQL
	}
	return connectors
}

func connectPostgres(executionContext context.Context, dataSourceName string) (catalog.Querier, func(), error) {
	pool, poolError := pgxpool.New(executionContext, dataSourceName)
	if poolError != nil {
		return nil, nil, fmt.Errorf(postgresConnectErrorTemplateConstant, poolError)
	}
	if pingError := pool.Ping(executionContext); pingError != nil {
		pool.Close()
		return nil, nil, fmt.Errorf(postgresConnectErrorTemplateConstant, pingError)
	}
	return pool, pool.Close, nil
}
