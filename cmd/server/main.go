package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/inventory-ledger/config"
	"github.com/rl1809/inventory-ledger/internal/adapter/bridge"
	"github.com/rl1809/inventory-ledger/internal/adapter/storage"
	"github.com/rl1809/inventory-ledger/internal/core/service"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	strategy, err := service.ParseStrategy(cfg.Strategy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid strategy")
	}

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mysql")
	}
	db.SetMaxOpenConns(cfg.MySQLMaxOpen)
	db.SetMaxIdleConns(cfg.MySQLMaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping mysql")
	}
	log.Info().Msg("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: cfg.RedisPoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("connected to redis")

	// Initialize adapters and the reservation core
	store := storage.NewMySQLStore(db, cfg.LockWaitTimeout)
	ledger := storage.NewRedisLedger(rdb)
	retrier := service.NewRetrier(cfg.MaxAttempts, cfg.BaseDelay)
	engine := service.NewReservationEngine(store, retrier)
	compensator := service.NewCompensator(store, ledger, retrier, strategy)

	// Initialize the event bridge
	bus, err := bridge.NewRabbitMQBridge(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect rabbitmq")
	}

	processor := bridge.NewProcessor(engine, compensator, ledger, bus, strategy, cfg)
	if err := bus.StartConsuming(ctx, processor.HandleMessage); err != nil {
		log.Fatal().Err(err).Msg("failed to start consuming")
	}
	log.Info().Str("strategy", string(strategy)).Msg("inventory ledger running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")
	cancel()

	bus.Close()
	log.Info().Msg("event bridge stopped")

	rdb.Close()
	db.Close()
	log.Info().Msg("connections closed")
}
