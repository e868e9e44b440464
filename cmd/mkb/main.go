package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/mkb/internal/config"
	"github.com/xxxsen/mkb/internal/db"
	"github.com/xxxsen/mkb/internal/handler"
	"github.com/xxxsen/mkb/internal/middleware"
	"github.com/xxxsen/mkb/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "mkb",
		Short: "knowledge base ingestion and retrieval",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json or config.yaml")

	load := func() (*config.Config, error) {
		if configPath == "" {
			return nil, fmt.Errorf("--config is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(
			cfg.LogConfig.File,
			cfg.LogConfig.Level,
			int(cfg.LogConfig.FileCount),
			int(cfg.LogConfig.FileSize),
			int(cfg.LogConfig.KeepDays),
			cfg.LogConfig.Console,
		)
		logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
		return cfg, nil
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run mkb server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			conn, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer conn.Close()
			if err := db.ApplyMigrations(conn, cfg.Embedder.Dimension); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return db.VerifyDimension(cmd.Context(), conn, cfg.Embedder.Dimension)
		},
	}

	var ownerID, collectionID string
	ingestCmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "ingest local files into a collection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg, func(ctx context.Context, a *app) error {
				for _, file := range args {
					data, err := os.ReadFile(file)
					if err != nil {
						return err
					}
					src, err := a.ingest.Ingest(ctx, &service.IngestRequest{
						OwnerID:      ownerID,
						CollectionID: collectionID,
						FileName:     filepath.Base(file),
						FileSize:     int64(len(data)),
						Data:         data,
					})
					if err != nil {
						return fmt.Errorf("ingest %s: %w", file, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", src.ID, src.Status, src.FileName)
				}
				return nil
			})
		},
	}
	ingestCmd.Flags().StringVar(&ownerID, "owner", "", "owner id")
	ingestCmd.Flags().StringVar(&collectionID, "collection", "", "collection id")
	_ = ingestCmd.MarkFlagRequired("owner")
	_ = ingestCmd.MarkFlagRequired("collection")

	var searchOwner string
	var searchCollections []string
	var searchLimit int
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "retrieve passages for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg, func(ctx context.Context, a *app) error {
				hits, err := a.retrieval.Retrieve(ctx, searchOwner, args[0], searchCollections, searchLimit)
				if err != nil {
					return err
				}
				if len(hits) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no context available")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), service.BuildContext(hits))
				return nil
			})
		},
	}
	searchCmd.Flags().StringVar(&searchOwner, "owner", "", "owner id")
	searchCmd.Flags().StringSliceVar(&searchCollections, "collection", nil, "collection ids")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "max passages")
	_ = searchCmd.MarkFlagRequired("owner")

	jobsCmd := &cobra.Command{
		Use:   "job <name>",
		Short: "run one scheduled job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg, func(ctx context.Context, a *app) error {
				s, err := a.scheduler()
				if err != nil {
					return err
				}
				return s.RunNow(ctx, args[0])
			})
		},
	}

	rootCmd.AddCommand(runCmd, migrateCmd, ingestCmd, searchCmd, jobsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func withApp(ctx context.Context, cfg *config.Config, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		a.close(closeCtx)
	}()
	return fn(ctx, a)
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := logutil.GetLogger(ctx)
	logger.Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("cleanup_backend", cfg.Cleanup.Backend),
	)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(closeCtx)
	}()

	scheduler, err := a.scheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if a.asynqServer != nil {
		if err := a.asynqServer.Start(); err != nil {
			return fmt.Errorf("start cleanup server: %w", err)
		}
		defer a.asynqServer.Shutdown()
	}

	deps := handler.RouterDeps{
		Knowledge:      handler.NewKnowledgeHandler(a.ingest, a.retrieval, cfg.Pipeline.MaxFileSize),
		JWTSecret:      []byte(cfg.JWTSecret),
		RetrievePerMin: cfg.Retrieval.RequestsPerMin,
		RetrieveBurst:  cfg.Retrieval.Burst,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logger.Info("http server listening", zap.String("addr", addr))

	errc := make(chan error, 1)
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("server stopping...")
		return nil
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}
}
