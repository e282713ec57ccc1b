package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/ec-eventstore/internal/api"
	"github.com/example/ec-eventstore/internal/command"
	"github.com/example/ec-eventstore/internal/config"
	"github.com/example/ec-eventstore/internal/domain/aggregate"
	"github.com/example/ec-eventstore/internal/domain/order"
	"github.com/example/ec-eventstore/internal/domain/product"
	"github.com/example/ec-eventstore/internal/infrastructure/kafka"
	"github.com/example/ec-eventstore/internal/infrastructure/store"
	"github.com/example/ec-eventstore/internal/projection"
	"github.com/example/ec-eventstore/internal/replay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventStore, snapshotStore, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("initialize stores", zap.Error(err))
	}
	defer cleanup()

	projector := projection.NewProjector(buildReadStore(cfg, logger), logger)

	repoOpts := []aggregate.RepositoryOption{
		aggregate.WithLogger(logger),
		aggregate.WithSnapshotStrategy(snapshotStrategy(cfg)),
	}
	var producer *kafka.Producer
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		repoOpts = append(repoOpts, aggregate.WithPublisher(producer))
		logger.Info("kafka publishing enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	} else {
		// Without a broker the projector is fed in-process.
		repoOpts = append(repoOpts, aggregate.WithPublisher(localPublisher{projector: projector}))
	}

	repo := aggregate.NewRepository(eventStore, snapshotStore, repoOpts...)
	commands := command.NewHandler(repo, logger)

	engine := replay.NewEngine(eventStore, snapshotStore, replay.NewMemoryJobStore(), logger)
	engine.RegisterAggregate(order.AggregateType, func() aggregate.Aggregate { return order.New() })
	engine.RegisterAggregate(product.AggregateType, func() aggregate.Aggregate { return product.New() })
	engine.RegisterProjection(projector.Orders())
	engine.RegisterProjection(projector.Products())

	handlers := api.NewHandlers(commands, projector, logger)
	admin := api.NewAdminHandlers(engine, repo, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handlers, admin, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("backend", cfg.StoreBackend))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	repo.Flush()
}

// localPublisher feeds events straight into the in-process projector when no
// broker is configured. Single-node development mode only.
type localPublisher struct {
	projector *projection.Projector
}

func (p localPublisher) Publish(ctx context.Context, key string, event store.Event) error {
	data, err := store.EncodeEvent(event)
	if err != nil {
		return err
	}
	return p.projector.HandleMessage(ctx, []byte(key), data)
}

func newLogger(cfg config.Config) *zap.Logger {
	if cfg.IsProduction() {
		logger, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger
}

func snapshotStrategy(cfg config.Config) aggregate.SnapshotStrategy {
	count := aggregate.EventCountStrategy{Threshold: cfg.SnapshotThreshold}
	if cfg.SnapshotInterval <= 0 {
		return count
	}
	return aggregate.HybridStrategy{
		Count: count,
		Time:  aggregate.TimeStrategy{Interval: cfg.SnapshotInterval, MinEvents: cfg.SnapshotThreshold},
	}
}

func buildStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.EventStore, store.SnapshotStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := store.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		events := store.NewPostgresEventStore(db)
		snapshots := store.NewPostgresSnapshotStore(db)
		if err := events.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		if err := snapshots.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		logger.Info("connected to postgres")
		return events, snapshots, func() { db.Close() }, nil

	case config.BackendDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg)
		logger.Info("using dynamodb",
			zap.String("events_table", cfg.DynamoEventsTable),
			zap.String("snapshots_table", cfg.DynamoSnapshotsTable))
		return store.NewDynamoEventStore(client, cfg.DynamoEventsTable),
			store.NewDynamoSnapshotStore(client, cfg.DynamoSnapshotsTable),
			func() {}, nil

	default:
		logger.Info("using in-memory stores")
		return store.NewMemoryEventStore(), store.NewMemorySnapshotStore(), func() {}, nil
	}
}

func buildReadStore(cfg config.Config, logger *zap.Logger) store.ReadStore {
	if cfg.RedisAddr == "" {
		return store.NewMemoryReadStore()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	logger.Info("using redis read store", zap.String("addr", cfg.RedisAddr))
	return store.NewRedisReadStore(client, cfg.RedisPrefix)
}
