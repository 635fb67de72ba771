package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"mediacatalog/internal/config"
	"mediacatalog/internal/migrations"
)

func main() {
	down := flag.Int("down", 0, "roll back the given number of migrations instead of applying")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.SetupLogger(cfg)

	if cfg.DBDriver != config.DBDriverPostgres {
		logger.Error("migrations require DB_DRIVER=postgres", slog.String("db_driver", cfg.DBDriver))
		os.Exit(1)
	}

	if *down > 0 {
		if err := migrations.Rollback(cfg.PostgresDSN(), *down, logger); err != nil {
			logger.Error("rollback migrations failed", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("migrations rolled back", slog.Int("steps", *down))
		return
	}

	if err := migrations.Apply(cfg.PostgresDSN(), logger); err != nil {
		logger.Error("apply migrations failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrations applied")
}
