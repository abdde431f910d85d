package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gopherai-rag/internal/ai"
	appsvc "gopherai-rag/internal/app"
	"gopherai-rag/internal/cache"
	"gopherai-rag/internal/config"
	mysqlClient "gopherai-rag/internal/platform/mysql"
	postgresClient "gopherai-rag/internal/platform/postgres"
	rabbitmqClient "gopherai-rag/internal/platform/rabbitmq"
	redisClient "gopherai-rag/internal/platform/redis"
	"gopherai-rag/internal/repository"
	"gopherai-rag/internal/worker"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	RAG          *appsvc.RAGService
	Chat         *appsvc.ChatService
	IngestWorker *worker.IngestWorker

	StartedAt time.Time
}

// New connects every configured dependency and wires the services. Redis
// and RabbitMQ are optional; without Redis the source lock is process-local
// and query embeddings are not cached.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.DB = db
	if err := repository.AutoMigrate(db); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	var (
		locker     appsvc.SourceLocker = cache.NewLocalLocker()
		queryCache appsvc.QueryEmbeddingCache
		publisher  appsvc.IngestPublisher
	)
	if cfg.Redis.Enabled {
		redisCli, err := redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.Redis = redisCli
		locker = cache.NewRedisLocker(redisCli, time.Duration(cfg.Redis.SourceLockTTLSeconds)*time.Second)
		queryCache = cache.NewEmbeddingCache(redisCli, cfg.LLM.EmbeddingModel, time.Duration(cfg.Redis.EmbeddingCacheTTLHours)*time.Hour)
	}
	if cfg.RabbitMQ.Enabled {
		mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.MQConn = mqConn
		publisher = rabbitmqClient.NewIngestPublisher(mqConn, cfg.RabbitMQ.IngestQueue)
	}

	client := ai.NewOpenAICompatibleClient(ai.ClientConfig{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		ChatModel:      cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	})
	policy := ai.PolicyFromConfig(cfg.LLM)
	embedder := ai.NewResilientEmbedder(client, policy, cfg.LLM.RequestsPerSecond, logger)
	chatLLM := ai.NewResilientChat(client, policy, logger)

	app.RAG = appsvc.NewRAGService(
		repository.NewSourceRepository(db),
		repository.NewFragmentRepository(db),
		embedder,
		locker,
		queryCache,
		publisher,
		appsvc.RAGOptions{
			ChunkSize:          cfg.RAG.ChunkSize,
			IngestConcurrency:  cfg.RAG.IngestConcurrency,
			EmbeddingDimension: cfg.LLM.EmbeddingDimension,
			MinScore:           cfg.RAG.MinScore,
		},
		logger,
	)
	app.Chat = appsvc.NewChatService(app.RAG, chatLLM, cfg.RAG.ChatContextCount, cfg.RAG.MinScore, logger)

	return app, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return postgresClient.New(ctx, cfg.PostgresDSN())
	case "mysql":
		return mysqlClient.New(ctx, cfg.MySQLDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// StartWorkers begins consuming queued ingestion jobs. It is a no-op when
// RabbitMQ is disabled.
func (a *App) StartWorkers(ctx context.Context) error {
	if a.MQConn == nil {
		return nil
	}
	w := worker.NewIngestWorker(a.MQConn, a.RAG, a.Config.RabbitMQ.IngestQueue, a.Config.RabbitMQ.Prefetch, a.Logger)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start ingest worker failed: %w", err)
	}
	a.IngestWorker = w
	return nil
}

// HealthChecks returns one probe per connected dependency.
func (a *App) HealthChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	if a.MQConn != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if a.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
	}
	return checks
}

func (a *App) Close() error {
	var errs []error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		errs = append(errs, a.MQConn.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
