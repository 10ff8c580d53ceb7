package main

import (
	"context"
	"fmt"

	"chatwithcode/internal/config"
	"chatwithcode/internal/model"
	"chatwithcode/internal/pipeline"
	"chatwithcode/internal/repository"
	"chatwithcode/internal/service"
	"chatwithcode/pkg/database"
	"chatwithcode/pkg/embedding"
	"chatwithcode/pkg/events"
	"chatwithcode/pkg/gitrepo"
	"chatwithcode/pkg/kafka"
	"chatwithcode/pkg/llm"
	"chatwithcode/pkg/log"
	"chatwithcode/pkg/storage"
	"chatwithcode/pkg/vectorstore"
)

// application 持有组装完成的流水线和需要在退出时释放的资源。
type application struct {
	cfg          config.Config
	orchestrator *pipeline.Orchestrator
	qaLogRepo    repository.QALogRepository
	store        vectorstore.Store
	publisher    events.Publisher
}

// newApplication 按配置初始化所有依赖 (依赖注入)。
func newApplication(ctx context.Context, cfg config.Config) (*application, error) {
	paths := cfg.Paths()
	log.Infof("工作区: %s, 检出目录: %s, 向量库: %s (%s)", paths.Workspace, paths.Checkout, paths.VectorStore, cfg.VectorStore.Backend)
	if cfg.Indexer.Overlap >= cfg.Indexer.ChunkSize {
		log.Warnf("indexer.overlap (%d) 不小于 indexer.chunk_size (%d)，相邻分块将大量重复", cfg.Indexer.Overlap, cfg.Indexer.ChunkSize)
	}

	// 1. 模型客户端
	embeddingClient, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	// 2. 存储与中间件
	if cfg.Memory.Backend == "redis" || cfg.Lock.Backend == "redis" {
		if err := database.InitRedis(ctx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB); err != nil {
			return nil, err
		}
	}
	store, err := vectorstore.New(ctx, cfg, embeddingClient.Model())
	if err != nil {
		return nil, err
	}
	app := &application{cfg: cfg, store: store, publisher: kafka.NewProducer(cfg.Kafka)}

	var snapshots storage.SnapshotUploader
	if cfg.MinIO.Enabled {
		uploader, err := storage.NewMinIOUploader(ctx, cfg.MinIO)
		if err != nil {
			app.Close()
			return nil, err
		}
		snapshots = uploader
	}

	// 3. Repository
	var conversationRepo repository.ConversationRepository
	if cfg.Memory.Backend == "redis" {
		conversationRepo = repository.NewRedisConversationRepository(database.RDB, cfg.Memory.Window, cfg.Memory.TTL)
	} else {
		conversationRepo = repository.NewMemoryConversationRepository(cfg.Memory.Window)
	}
	var lock repository.WorkspaceLock
	if cfg.Lock.Backend == "redis" {
		lock = repository.NewRedisWorkspaceLock(database.RDB, cfg.Lock.TTL)
	} else {
		lock = repository.NewMemoryWorkspaceLock()
	}
	app.qaLogRepo = repository.NewJSONQALogRepository(paths.QALog)
	if cfg.QALog.Mirror.Enabled {
		if err := database.InitMySQL(cfg.Database.MySQL.DSN, &model.QARecord{}); err != nil {
			app.Close()
			return nil, err
		}
		app.qaLogRepo = repository.NewMirroredQALogRepository(app.qaLogRepo, database.DB, cfg.Workspace.Name)
	}

	// 4. Service
	ingestionService := service.NewIngestionService(
		gitrepo.NewCloner(cfg.Ingestion.GitBinary, cfg.Ingestion.CloneDepth, cfg.Ingestion.AllowFileURLs),
		paths.Checkout,
		cfg.Ingestion.Timeout,
	)
	indexerService, err := service.NewIndexerService(cfg.Indexer, embeddingClient, cfg.Embedding.BatchSize, store, snapshots, cfg.Workspace.Name)
	if err != nil {
		app.Close()
		return nil, err
	}
	responderService := service.NewResponderService(embeddingClient, store, llmClient, conversationRepo, app.qaLogRepo, app.publisher, service.ResponderOptions{
		Workspace:  cfg.Workspace.Name,
		TopK:       cfg.Retriever.TopK,
		Window:     cfg.Memory.Window,
		Template:   cfg.LLM.Prompt.Template,
		Generation: llm.ParamsFromConfig(cfg.LLM.Generation),
	})

	// 5. 流水线
	app.orchestrator = pipeline.NewOrchestrator(ingestionService, indexerService, responderService, conversationRepo, lock, app.publisher, cfg.Workspace.Name)
	return app, nil
}

// Close 释放向量库、Kafka 与数据库连接。
func (a *application) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warnf("关闭向量库失败: %v", err)
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			log.Warnf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	if database.RDB != nil {
		_ = database.RDB.Close()
	}
	if database.DB != nil {
		if err := database.CloseGorm(database.DB); err != nil {
			log.Warnf("关闭 MySQL 连接失败: %v", err)
		}
	}
}

// loadConfig 加载配置并应用命令行覆盖项。
func loadConfig(configPath, workspace string) (config.Config, error) {
	if err := config.Init(configPath); err != nil {
		return config.Config{}, err
	}
	cfg := config.Conf
	if workspace != "" {
		cfg.Workspace.Name = workspace
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
		config.Conf = cfg
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		return config.Config{}, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}
