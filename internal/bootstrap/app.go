package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"grantrag/internal/ai"
	"grantrag/internal/app"
	"grantrag/internal/cache"
	"grantrag/internal/config"
	"grantrag/internal/docstore"
	"grantrag/internal/metrics"
	"grantrag/internal/model"
	mysqlClient "grantrag/internal/platform/mysql"
	rabbitmqClient "grantrag/internal/platform/rabbitmq"
	redisClient "grantrag/internal/platform/redis"
	"grantrag/internal/rag"
	"grantrag/internal/repository"
	"grantrag/internal/worker"
)

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry

	MySQL          *gorm.DB
	Redis          *redis.Client
	MQConn         *amqp.Connection
	DocumentWorker *worker.DocumentEventWorker

	Store   *docstore.Store
	Answers *cache.AnswerCache
	LLM     *ai.OpenAICompatibleClient
	Engine  rag.Engine
	Index   *app.IndexManager
	Uploads *app.UploadService
	Queries *app.QueryService

	StartedAt time.Time
}

// New connects the enabled backends and assembles the services.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Registry:  prometheus.NewRegistry(),
		StartedAt: time.Now(),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(a.Registry)

	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	store, err := docstore.New(cfg.DocStore.Dir, cfg.DocStore.AllowedExtensions)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Store = store

	a.LLM = NewLLMClient(cfg)
	a.Engine = NewEngine(cfg, a.LLM, logger)
	a.Index = app.NewIndexManager(a.Engine, store.Dir(), recorder, logger.Named("index"))

	var answerCache app.AnswerCache
	if a.Redis != nil {
		a.Answers = cache.NewAnswerCache(a.Redis, time.Duration(cfg.Redis.AnswerCacheTTLSeconds)*time.Second)
		answerCache = a.Answers
	}

	a.Uploads = app.NewUploadService(store, a.Index, a.documentRecorder(), cfg.DocStore.MaxUploadBytes, recorder, logger.Named("upload"))
	if a.MySQL != nil {
		a.Uploads.WithCatalog(repository.NewDocumentRepository(a.MySQL))
	}
	a.Queries = app.NewQueryService(a.Engine, a.Index, answerCache, cfg.Query.MinLength, cfg.Query.MaxLength, recorder, logger.Named("query"))

	return a, nil
}

// NewLLMClient builds the breaker-guarded provider client from configuration.
func NewLLMClient(cfg *config.Config) *ai.OpenAICompatibleClient {
	return ai.NewOpenAICompatibleClient(ai.ClientConfig{
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		Timeout:         time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		BreakerFailures: uint32(cfg.LLM.BreakerFailures),
		BreakerTimeout:  time.Duration(cfg.LLM.BreakerTimeoutSeconds) * time.Second,
	})
}

// NewEngine builds the default pipeline from configuration.
func NewEngine(cfg *config.Config, llm *ai.OpenAICompatibleClient, logger *zap.Logger) *rag.DefaultEngine {
	return rag.NewDefaultEngine(llm, llm, rag.Options{
		AllowedExtensions:  cfg.DocStore.AllowedExtensions,
		ChunkSize:          cfg.RAG.ChunkSize,
		ChunkOverlap:       cfg.RAG.ChunkOverlap,
		TopK:               cfg.RAG.TopK,
		MinScore:           float32(cfg.RAG.MinScore),
		EmbeddingBatchSize: cfg.RAG.EmbeddingBatchSize,
		Embedding:          ai.EmbeddingConfig{Model: cfg.LLM.EmbeddingModel},
		Chat:               ai.ChatConfig{Model: cfg.LLM.Model, Temperature: float32(cfg.LLM.Temperature)},
	}, logger.Named("rag"))
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.MySQL.Enabled {
		db, err := mysqlClient.New(ctx, cfg.MySQLDSN(), &model.Document{})
		if err != nil {
			return err
		}
		a.MySQL = db
	}

	if cfg.Redis.Enabled {
		client, err := redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.Redis = client
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		a.MQConn = conn

		// Without MySQL the events are left on the queue for another consumer.
		if a.MySQL != nil {
			w := worker.NewDocumentEventWorker(conn, repository.NewDocumentRepository(a.MySQL), cfg.RabbitMQ.DocumentEventQueue, a.Logger.Named("worker"))
			if err := w.Start(ctx); err != nil {
				return fmt.Errorf("start document worker failed: %w", err)
			}
			a.DocumentWorker = w
		}
	}
	return nil
}

func (a *App) documentRecorder() app.DocumentRecorder {
	switch {
	case a.MQConn != nil:
		return rabbitmqClient.NewDocumentPublisher(a.MQConn, a.Config.RabbitMQ.DocumentEventQueue)
	case a.MySQL != nil:
		return app.NewRepositoryRecorder(repository.NewDocumentRepository(a.MySQL))
	default:
		return nil
	}
}

// WarmUp builds the index in the background when the store already has documents.
func (a *App) WarmUp(ctx context.Context) {
	if !a.Config.RAG.IndexOnStart {
		return
	}
	docs, err := a.Store.List()
	if err != nil || len(docs) == 0 {
		return
	}
	go func() {
		if _, err := a.Index.Ensure(ctx); err != nil {
			a.Logger.Warn("index warm-up failed", zap.Error(err))
		}
	}()
}

// HealthChecks returns a probe per enabled dependency.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"docstore": func(context.Context) error { return a.Store.Check() },
	}
	if a.LLM != nil {
		checks["llm"] = func(context.Context) error {
			if state := a.LLM.BreakerState(); state == "open" {
				return fmt.Errorf("circuit breaker %s", state)
			}
			return nil
		}
	}
	if a.MySQL != nil {
		checks["mysql"] = func(ctx context.Context) error { return mysqlClient.Ping(ctx, a.MySQL) }
	}
	if a.Answers != nil {
		checks["redis"] = a.Answers.Ping
	}
	if a.MQConn != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if a.MQConn.IsClosed() {
				return fmt.Errorf("connection closed")
			}
			return nil
		}
	}
	return checks
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DocumentWorker != nil {
		a.DocumentWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
