package app

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/vectorflowhq/vectorflow/internal/config"
	"github.com/vectorflowhq/vectorflow/internal/core"
	db "github.com/vectorflowhq/vectorflow/internal/core/database"
	"github.com/vectorflowhq/vectorflow/internal/core/ingestion_engine"
	"github.com/vectorflowhq/vectorflow/internal/core/llm"
	objectclient "github.com/vectorflowhq/vectorflow/internal/core/object-client"
	vectorclient "github.com/vectorflowhq/vectorflow/internal/core/vector-client"
	"github.com/vectorflowhq/vectorflow/internal/queue"
	"github.com/vectorflowhq/vectorflow/internal/services"
)

// App wires the shared infrastructure. The API binary uses Intake + Server;
// the worker binary uses Worker. Both may run from the same process or as
// separate ones sharing the database.
type App struct {
	DB       *sql.DB
	Registry core.RegistryClient
	Queue    queue.Queue
	Objects  core.ObjectClient
	Embedder *llm.GeminiEmbedder
	Intake   *services.IntakeService
	Worker   *ingestion_engine.Worker
	Server   *Server
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	sqlDB, err := db.Open(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("database ready")

	registry := db.NewRegistry(sqlDB)
	jobQueue := queue.NewPostgresQueue(sqlDB, cfg.MaxAttempts)
	vectors := vectorclient.NewPgVectorClient(sqlDB)

	objects, err := objectclient.NewS3Client(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("object store ready", "bucket", cfg.BucketName)

	embedder, err := llm.NewGeminiEmbedder(initCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		return nil, err
	}

	intake := services.NewIntakeService(registry, jobQueue, objects, cfg.UploadURLTTL, logger)

	pipelineCfg := ingestion_engine.DefaultPipelineConfig()
	pipelineCfg.TmpDir = cfg.TmpDir

	worker, err := ingestion_engine.NewWorker(
		ingestion_engine.Deps{
			Queue:     jobQueue,
			Registry:  registry,
			Objects:   objects,
			Extractor: ingestion_engine.NewDocconvExtractor(),
			Embedder:  embedder,
			Vectors:   vectors,
		},
		pipelineCfg,
		ingestion_engine.WithPoolSize(cfg.WorkerCount),
		ingestion_engine.WithPollInterval(cfg.PollInterval),
		ingestion_engine.WithStallAfter(cfg.StallAfter),
		ingestion_engine.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	server := NewServer(cfg, intake, logger)

	return &App{
		DB:       sqlDB,
		Registry: registry,
		Queue:    jobQueue,
		Objects:  objects,
		Embedder: embedder,
		Intake:   intake,
		Worker:   worker,
		Server:   server,
	}, nil
}

func (a *App) Close() {
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
