package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediacatalog/internal/api"
	"mediacatalog/internal/app"
	"mediacatalog/internal/config"
	catalogmw "mediacatalog/internal/middleware"
	"mediacatalog/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("配置加载完成，开始启动服务",
		slog.String("db_driver", cfg.DBDriver),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("auth_mode", cfg.AuthMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("服务异常退出", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("服务已停止")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	application, err := app.Build(ctx, cfg, logger, app.Options{ApplyMigrations: true})
	if err != nil {
		return err
	}
	defer application.Close()

	authenticator, closeAuth, err := newAuthenticator(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	if cfg.ReclaimSchedule != "" {
		job, err := scheduler.NewReclaimJob(scheduler.Config{
			Schedule:  cfg.ReclaimSchedule,
			Threshold: cfg.ReclaimThreshold,
			Timeout:   10 * time.Minute,
		}, application.Files, logger)
		if err != nil {
			return err
		}
		job.Start()
		defer job.Stop()
	}

	router := api.NewRouter(cfg, api.Dependencies{
		Files:         application.Files,
		Products:      application.Products,
		Ready:         application.Ready,
		Objects:       application.Objects,
		Authenticator: authenticator,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务监听端口", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("优雅关闭失败", slog.Any("error", err))
	}
	return nil
}

// newAuthenticator 按 AUTH_MODE 选择 /api 路由组的鉴权方式。
func newAuthenticator(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, func(), error) {
	switch cfg.AuthMode {
	case config.AuthModeJWT:
		auth, err := catalogmw.NewJWTAuth(catalogmw.JWTConfig{
			JWKSURL: cfg.JWTJWKSURL,
			Secret:  cfg.JWTSecret,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return auth.Middleware(), auth.Close, nil
	case config.AuthModeNone:
		logger.Warn("API 鉴权已关闭，仅用于开发环境")
		return nil, func() {}, nil
	default:
		return catalogmw.APIKeyAuth(cfg.APIKeys), func() {}, nil
	}
}
