package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lidercargo/cargotrack/config"
	"github.com/lidercargo/cargotrack/internal/broker/kafka"
	"github.com/lidercargo/cargotrack/internal/cache"
	"github.com/lidercargo/cargotrack/internal/cache/rediscache"
	"github.com/lidercargo/cargotrack/internal/services/scans"
	"github.com/lidercargo/cargotrack/internal/services/sweeper"
	"github.com/lidercargo/cargotrack/internal/services/templates"
	"github.com/lidercargo/cargotrack/internal/storage/pgcargo"
)

// sweeperStorage — всё, что свиперу нужно от постгреса: лизинг заказов,
// транзакции сканирования и справочник шаблонов.
type sweeperStorage interface {
	sweeper.Repository
	scans.Repository
	templates.Repository
}

type sweeperFactories struct {
	newStorage  func(cfg *config.Config) (st sweeperStorage, closeFn func(), err error)
	newProducer func(cfg *config.Config) scans.Producer
	newCache    func(cfg *config.Config) cache.BytesCache
}

func defaultSweeperFactories() sweeperFactories {
	return sweeperFactories{
		newStorage: func(cfg *config.Config) (sweeperStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgcargo.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) scans.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
	}
}

func buildSweeper(cfg *config.Config, f sweeperFactories) (*sweeper.Sweeper, func(), error) {
	topic := cfg.Kafka.OrderUpdatedTopicName
	if topic == "" {
		topic = "order.updated"
	}

	interval := time.Duration(cfg.CargoTrack.SweeperIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batchSize := cfg.CargoTrack.SweeperBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.CargoTrack.SweeperConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(cfg.CargoTrack.SweeperLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	cooldown := time.Duration(cfg.CargoTrack.ScanCooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	templateTTL := time.Duration(cfg.CargoTrack.TemplateTTLSeconds) * time.Second
	if templateTTL <= 0 {
		templateTTL = 10 * time.Minute
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	templateStore := templates.New(st, f.newCache(cfg), templateTTL)
	scansSvc := scans.New(st, templateStore, cooldown).
		WithProducer(f.newProducer(cfg), topic)

	s := sweeper.New(st, scansSvc).
		WithSettings(interval, batchSize, concurrency, lease)
	return s, closeFn, nil
}

func RunCargoSweeper(ctx context.Context, cfg *config.Config, f sweeperFactories) error {
	s, closeFn, err := buildSweeper(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return s.Run(ctx)
}
