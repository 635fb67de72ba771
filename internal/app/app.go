// Package app 按配置装配存储驱动、数据访问层与服务，供各个入口共用。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"mediacatalog/internal/config"
	"mediacatalog/internal/database"
	"mediacatalog/internal/migrations"
	"mediacatalog/internal/repository"
	"mediacatalog/internal/repository/memory"
	"mediacatalog/internal/repository/postgres"
	"mediacatalog/internal/service"
	"mediacatalog/internal/storage"
	"mediacatalog/internal/storage/local"
	"mediacatalog/internal/storage/s3"
)

// Options 控制装配过程中的可选步骤。
type Options struct {
	ApplyMigrations bool
}

// App 持有装配完成的服务及其依赖。
type App struct {
	Files    *service.FileService
	Products *service.ProductService
	// Objects 仅在本地存储驱动下非 nil。
	Objects http.Handler

	db *sql.DB
}

type repositories struct {
	files    repository.FileRepository
	usages   repository.FileUsageRepository
	products repository.ProductRepository
}

// Build 根据 DB_DRIVER 与 STORAGE_DRIVER 装配应用。
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{}

	repos, err := a.openRepositories(ctx, cfg, logger, opts)
	if err != nil {
		return nil, err
	}

	gateway, err := a.openGateway(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Files = service.NewFileService(repos.files, repos.usages, gateway, cfg.Lifecycle(), logger)
	a.Products = service.NewProductService(repos.products, repos.files, a.Files, logger)
	return a, nil
}

func (a *App) openRepositories(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (repositories, error) {
	if cfg.DBDriver == config.DBDriverMemory {
		logger.Warn("using in-memory repositories, data is lost on restart")
		store := memory.NewStore()
		return repositories{files: store.Files(), usages: store.Usages(), products: store.Products()}, nil
	}

	dsn := cfg.PostgresDSN()
	if opts.ApplyMigrations {
		if err := migrations.Apply(dsn, logger); err != nil {
			return repositories{}, fmt.Errorf("apply migrations: %w", err)
		}
	}

	db, err := database.Connect(ctx, dsn, database.DefaultPoolOptions())
	if err != nil {
		return repositories{}, fmt.Errorf("connect database: %w", err)
	}
	a.db = db
	logger.Info("database connected",
		slog.String("host", cfg.DBHost),
		slog.String("database", cfg.DBName),
	)

	return repositories{
		files:    postgres.NewFileRepository(db),
		usages:   postgres.NewFileUsageRepository(db),
		products: postgres.NewProductRepository(db),
	}, nil
}

func (a *App) openGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Gateway, error) {
	if cfg.StorageDriver == config.StorageDriverLocal {
		gateway, err := local.New(cfg.StorageDir, cfg.LocalPublicURL, []byte(cfg.LocalSigningSecret))
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		a.Objects = gateway.Handler(logger)
		logger.Info("local object storage ready", slog.String("dir", cfg.StorageDir))
		return gateway, nil
	}

	gateway, err := s3.New(ctx, s3.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 storage: %w", err)
	}
	logger.Info("s3 object storage ready",
		slog.String("endpoint", cfg.S3Endpoint),
		slog.String("bucket", cfg.S3Bucket),
	)
	return gateway, nil
}

// Ready 检查数据库连通性，内存驱动总是就绪。
func (a *App) Ready(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return database.Ping(ctx, a.db)
}

// Close 释放数据库连接。
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
