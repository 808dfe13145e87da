// Package app wires the storage, cache, ledger and broker backends shared by both services.
package app

import (
	"context"
	"fmt"
	"time"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"auction-marketplace/internal/config"
	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/infrastructure/lock"
	"auction-marketplace/internal/infrastructure/memory"
	"auction-marketplace/internal/infrastructure/mysql"
	"auction-marketplace/internal/infrastructure/redis"
	"auction-marketplace/pkg/logger"
	"auction-marketplace/pkg/utils"
)

// Ledger is a point ledger that can also credit points.
type Ledger interface {
	domain.PointLedger
	Deposit(ctx context.Context, userID string, amount int64) error
}

type Backends struct {
	Redis    *redisClient.Client
	DB       *sqlx.DB
	Auctions *mysql.MySQLAuctionRepository
	Bids     *mysql.MySQLBidRepository
	Cache    domain.AuctionCache
	Ledger   Ledger
	Broker   domain.EventBroker
	Lock     domain.DistributedLock
}

// Open connects to Redis and MySQL and builds every backend the config selects.
func Open(ctx context.Context, cfg *config.Config, log logger.Logger) (*Backends, error) {
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Redis.Address, err)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	db, err := utils.InitializeMysql(pingCtx, cfg.MySQL)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	log.Info("Connected to MySQL")

	if cfg.MySQL.Migrate {
		if err := mysql.Migrate(ctx, db); err != nil {
			_ = db.Close()
			_ = rdb.Close()
			return nil, err
		}
		log.Info("Database migrations applied")
	}

	b := &Backends{
		Redis:    rdb,
		DB:       db,
		Auctions: mysql.NewMySQLAuctionRepository(db),
		Bids:     mysql.NewMySQLBidRepository(db),
		Broker:   redis.NewEventBroker(rdb, log),
		Lock:     lock.NewRedisLock(rdb),
	}

	switch cfg.Cache.Driver {
	case "memory":
		b.Cache = memory.NewAuctionCache()
	default:
		b.Cache = redis.NewAuctionCache(rdb, cfg.Cache.LeaseTTL, cfg.Cache.LeaseRetry)
	}

	switch cfg.Points.Driver {
	case "memory":
		b.Ledger = memory.NewPointLedger()
	default:
		b.Ledger = redis.NewPointLedger(rdb)
	}

	log.Info("Backends ready", "cache", cfg.Cache.Driver, "points", cfg.Points.Driver)
	return b, nil
}

// SharedState reports whether cache and ledger live outside the process, so that
// several service instances see the same auction state.
func SharedState(cfg *config.Config) bool {
	return cfg.Cache.Driver == "redis" && cfg.Points.Driver == "redis"
}

func (b *Backends) Close(log logger.Logger) {
	if err := b.DB.Close(); err != nil {
		log.Error("Failed to close MySQL connection", "error", err)
	}
	if err := b.Redis.Close(); err != nil {
		log.Error("Failed to close Redis connection", "error", err)
	}
}
