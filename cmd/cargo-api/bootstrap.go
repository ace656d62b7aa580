package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lidercargo/cargotrack/config"
	"github.com/lidercargo/cargotrack/internal/api"
	"github.com/lidercargo/cargotrack/internal/broker/kafka"
	"github.com/lidercargo/cargotrack/internal/cache/rediscache"
	"github.com/lidercargo/cargotrack/internal/services/claims"
	"github.com/lidercargo/cargotrack/internal/services/orders"
	"github.com/lidercargo/cargotrack/internal/services/scans"
	"github.com/lidercargo/cargotrack/internal/services/templates"
	"github.com/lidercargo/cargotrack/internal/services/users"
	"github.com/lidercargo/cargotrack/internal/storage/pgcargo"
)

type cargoAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   cargoAPIOpts

	api       *api.API
	ordersSvc *orders.Service
	consumer  *kafka.Consumer
	producer  *kafka.Producer
	closeDB   func()
}

func mustBootstrapCargoAPI() *cargoAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.CargoTrack.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.CargoTrack.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "cargo-api"
	}
	topic := cfg.Kafka.OrderUpdatedTopicName
	if topic == "" {
		topic = "order.updated"
	}

	cooldown := time.Duration(cfg.CargoTrack.ScanCooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	viewTTL := time.Duration(cfg.CargoTrack.OrderViewTTLSeconds) * time.Second
	if viewTTL <= 0 {
		viewTTL = 10 * time.Minute
	}
	templateTTL := time.Duration(cfg.CargoTrack.TemplateTTLSeconds) * time.Second
	if templateTTL <= 0 {
		templateTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	templateStore := templates.New(st, rc, templateTTL)
	usersSvc := users.New(st)
	ordersSvc := orders.New(st, rc, viewTTL)
	scansSvc := scans.New(st, templateStore, cooldown).WithProducer(producer, topic)
	claimsSvc := claims.New(st)

	a := api.New(usersSvc, ordersSvc, scansSvc, claimsSvc, templateStore)
	if rlPerMin := int64(cfg.CargoTrack.ScanRateLimitPerMinute); rlPerMin > 0 {
		a = a.WithScanRateLimit(rediscache.NewRateLimiter(redisAddr), rlPerMin)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &cargoAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: cargoAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		api:       a,
		ordersSvc: ordersSvc,
		consumer:  consumer,
		producer:  producer,
		closeDB:   st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgcargo.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgcargo.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *cargoAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *cargoAPIApp) Run() error {
	return runCargoAPI(a.ctx, a.opts, a.api, a.ordersSvc, a.consumer)
}
