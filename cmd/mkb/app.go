package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mkb/internal/ai"
	"github.com/xxxsen/mkb/internal/cleanup"
	"github.com/xxxsen/mkb/internal/config"
	"github.com/xxxsen/mkb/internal/db"
	"github.com/xxxsen/mkb/internal/embedcache"
	"github.com/xxxsen/mkb/internal/filestore"
	"github.com/xxxsen/mkb/internal/job"
	"github.com/xxxsen/mkb/internal/repo"
	"github.com/xxxsen/mkb/internal/schedule"
	"github.com/xxxsen/mkb/internal/service"
)

// app holds everything built from one config.
type app struct {
	cfg         *config.Config
	db          *sql.DB
	store       *repo.KnowledgeStore
	blobs       filestore.Store
	outbox      *repo.BlobCleanupRepo
	cacheRepo   *repo.EmbeddingCacheRepo
	embedder    ai.IEmbedder
	dispatcher  cleanup.Dispatcher
	worker      *cleanup.Worker
	asynqClient *cleanup.AsynqDispatcher
	asynqServer *cleanup.AsynqServer
	ingest      *service.IngestService
	retrieval   *service.RetrievalService
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn, cfg.Embedder.Dimension); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	if err := db.VerifyDimension(ctx, conn, cfg.Embedder.Dimension); err != nil {
		conn.Close()
		return nil, err
	}
	blobs, err := filestore.New(cfg.FileStore)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init file store: %w", err)
	}
	a := &app{
		cfg:       cfg,
		db:        conn,
		store:     repo.NewKnowledgeStore(conn),
		blobs:     blobs,
		outbox:    repo.NewBlobCleanupRepo(conn),
		cacheRepo: repo.NewEmbeddingCacheRepo(conn),
	}
	a.embedder, err = buildEmbedder(cfg.Embedder, a.cacheRepo)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	a.initCleanup(ctx)

	a.ingest = service.NewIngestService(a.store, blobs, a.embedder, a.dispatcher, service.IngestConfig{
		ChunkSize:    cfg.Pipeline.ChunkSize,
		ChunkOverlap: cfg.Pipeline.ChunkOverlap,
		MaxFileSize:  cfg.Pipeline.MaxFileSize,
		Timeout:      time.Duration(cfg.Pipeline.Timeout) * time.Second,
		DocumentTask: cfg.Embedder.DocumentTask,
	})
	a.retrieval = service.NewRetrievalService(a.store, a.store, a.embedder, service.RetrievalConfig{
		DefaultLimit: cfg.Retrieval.DefaultLimit,
		MaxLimit:     cfg.Retrieval.MaxLimit,
		QueryTask:    cfg.Embedder.QueryTask,
	})
	logutil.GetLogger(ctx).Info("app initialized",
		zap.String("file_store", blobs.Type()),
		zap.String("embedder", a.embedder.ModelName()),
		zap.Int("dimension", a.embedder.Dimension()),
		zap.String("cleanup_backend", cfg.Cleanup.Backend),
	)
	return a, nil
}

func (a *app) initCleanup(ctx context.Context) {
	remover := cleanup.NewRemover(a.blobs, a.outbox)
	switch a.cfg.Cleanup.Backend {
	case "asynq":
		redisOpt := asynq.RedisClientOpt{Addr: a.cfg.Cleanup.RedisAddr, DB: a.cfg.Cleanup.RedisDB}
		a.asynqClient = cleanup.NewAsynqDispatcher(redisOpt, a.cfg.Cleanup.MaxAttempts)
		a.asynqServer = cleanup.NewAsynqServer(redisOpt, a.cfg.Cleanup.Workers, remover)
		a.dispatcher = a.asynqClient
	default:
		a.worker = cleanup.NewWorker(remover, cleanup.WorkerConfig{
			Workers:     a.cfg.Cleanup.Workers,
			QueueSize:   a.cfg.Cleanup.QueueSize,
			MaxAttempts: a.cfg.Cleanup.MaxAttempts,
		})
		a.worker.Start(ctx)
		a.dispatcher = a.worker
	}
}

func (a *app) scheduler() (*schedule.CronScheduler, error) {
	s := schedule.NewCronScheduler()
	entries := []struct {
		task schedule.Job
		spec string
	}{
		{job.NewBlobCleanupSweepJob(a.outbox, a.dispatcher, 0), a.cfg.Jobs.BlobCleanupSweep},
		{job.NewEmbeddingCacheCleanupJob(a.cacheRepo, time.Duration(a.cfg.Jobs.EmbeddingCacheMaxDays)*24*time.Hour), a.cfg.Jobs.EmbeddingCacheCleanup},
		{job.NewStaleProcessingJob(a.store, time.Duration(a.cfg.Pipeline.StaleAfter)*time.Second), a.cfg.Jobs.StaleRecovery},
	}
	for _, item := range entries {
		if err := s.AddJob(item.task, item.spec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (a *app) close(ctx context.Context) {
	logger := logutil.GetLogger(ctx)
	if a.worker != nil {
		if err := a.worker.Close(ctx); err != nil {
			logger.Warn("cleanup worker did not drain", zap.Error(err))
		}
	}
	if a.asynqClient != nil {
		if err := a.asynqClient.Close(); err != nil {
			logger.Warn("close asynq client failed", zap.Error(err))
		}
	}
	if err := a.db.Close(); err != nil {
		logger.Warn("close db failed", zap.Error(err))
	}
}

func buildEmbedder(cfg config.EmbedderConfig, cacheRepo *repo.EmbeddingCacheRepo) (ai.IEmbedder, error) {
	entries := make([]ai.EmbedderEntry, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		provider, err := ai.NewEmbedProvider(p.Provider, p.Data)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		entries = append(entries, ai.EmbedderEntry{
			Name:     p.Name,
			Embedder: ai.NewEmbedder(provider, p.Model, cfg.Dimension),
		})
	}
	group, err := ai.NewGroupEmbedder(entries)
	if err != nil {
		return nil, err
	}
	embedder := ai.NewResilientEmbedder(group, ai.ResilientConfig{
		Timeout:         time.Duration(cfg.Timeout) * time.Second,
		MaxRetries:      cfg.MaxRetries,
		RequestsPerMin:  cfg.RequestsPerMin,
		BreakerFailures: cfg.BreakerFailures,
	})
	if cfg.DBCache {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
	}
	if cfg.CacheSize > 0 {
		embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.CacheSize, time.Duration(cfg.CacheTTL)*time.Second)
	}
	return embedder, nil
}
