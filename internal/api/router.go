package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"mediacatalog/internal/config"
	catalogmw "mediacatalog/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies 汇总路由需要的处理器与可选组件。
type Dependencies struct {
	Files    FileOperations
	Products ProductOperations
	// Ready 检查下游依赖是否可用，为 nil 时 /readyz 总是成功。
	Ready func(ctx context.Context) error
	// Objects 是本地存储驱动的对象端点，挂载在 /objects 下。
	Objects http.Handler
	// Authenticator 保护 /api 路由组，为 nil 时不鉴权。
	Authenticator func(http.Handler) http.Handler
	Logger        *slog.Logger
}

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(catalogmw.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(catalogmw.CORS(cfg.CORSAllowedOrigins))
	r.Use(catalogmw.Metrics())

	// 健康检查与指标不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readyHandler(deps.Ready, logger))
	r.Handle("/metrics", promhttp.Handler())

	// 本地对象端点由上传 token 自行鉴权
	if deps.Objects != nil {
		r.Mount("/objects", deps.Objects)
	}

	r.Route("/api", func(r chi.Router) {
		if deps.Authenticator != nil {
			r.Use(deps.Authenticator)
		}
		r.Use(catalogmw.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		if deps.Files != nil {
			NewFileHandler(deps.Files, logger).RegisterRoutes(r)
		}
		if deps.Products != nil {
			NewProductHandler(deps.Products, logger).RegisterRoutes(r)
		}
	})

	return r
}

func readyHandler(ready func(ctx context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				logger.WarnContext(r.Context(), "readiness check failed", slog.Any("error", err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
