// Package data provides data access layer implementations.
// Redis holds availability records, breaker state and call samples; MySQL
// (optional) holds the dependency registry.
package data

import (
	"github.com/API-Bridge/BE-SystemManagementService-sub000/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewAvailabilityRepo,
	NewCircuitBreakerRepo,
	NewCallStatsRepo,
	NewDependencyRepo,
	NewMetricsRecorder,
	NewEventNotifier,
)

// Data contains all data layer dependencies.
type Data struct {
	rdb *redis.Client
	// db is nil when no registry database is configured.
	db *gorm.DB
}

// NewData creates a new Data instance with all data layer dependencies.
// A missing store does not prevent startup; repositories degrade instead.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, db *gorm.DB) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, availability and breaker state will fail open")
	}
	if db == nil {
		helper.Info("no registry database configured, dependencies load from file")
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return &Data{rdb: rdb, db: db}, cleanup, nil
}

// RedisClient returns the Redis client.
func (d *Data) RedisClient() *redis.Client {
	return d.rdb
}

// DB returns the registry database, which may be nil.
func (d *Data) DB() *gorm.DB {
	return d.db
}
