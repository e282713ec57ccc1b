package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/ec-eventstore/internal/config"
	"github.com/example/ec-eventstore/internal/infrastructure/kafka"
	"github.com/example/ec-eventstore/internal/infrastructure/store"
	"github.com/example/ec-eventstore/internal/projection"
)

// The projector consumes published events from Kafka and maintains the read
// models. It can run as many instances as the topic has partitions; the
// consumer group handles the assignment.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var readStore store.ReadStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		readStore = store.NewRedisReadStore(client, cfg.RedisPrefix)
		logger.Info("using redis read store", zap.String("addr", cfg.RedisAddr))
	} else {
		readStore = store.NewMemoryReadStore()
		logger.Warn("using in-memory read store, documents are lost on restart")
	}

	projector := projection.NewProjector(readStore, logger)

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, logger)
	defer consumer.Close()

	logger.Info("projector starting",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group", cfg.KafkaGroupID))

	if err := consumer.Consume(ctx, projector.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("consumer error", zap.Error(err))
	}
	logger.Info("projector stopped")
}
