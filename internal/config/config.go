package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"mediacatalog/internal/service"

	"github.com/joho/godotenv"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverMemory   = "memory"

	StorageDriverS3    = "s3"
	StorageDriverLocal = "local"

	AuthModeAPIKey = "apikey"
	AuthModeJWT    = "jwt"
	AuthModeNone   = "none"
)

// Config 聚合服务启动需要的关键配置。
type Config struct {
	HTTPPort  string
	LogLevel  slog.Level
	LogFormat string // "json" 或 "text"

	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration

	// 数据库配置
	DBDriver   string // "postgres" 或 "memory"
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// 鉴权配置
	AuthMode   string   // "apikey"、"jwt" 或 "none"
	APIKeys    []string // 有效的 API Keys 列表
	JWTJWKSURL string
	JWTSecret  string

	// 存储配置
	StorageDriver      string // "s3" 或 "local"
	StorageDir         string
	LocalPublicURL     string
	LocalSigningSecret string
	S3Endpoint         string // S3/MinIO 端点，不含协议
	S3AccessKey        string
	S3SecretKey        string
	S3Bucket           string
	S3Region           string
	S3UseSSL           bool   // 是否使用 HTTPS
	S3PathStyle        bool   // 是否使用路径风格访问（MinIO 需要设为 true）
	S3PublicURL        string // 对外访问地址，为空时由 endpoint + bucket 拼出

	// 文件生命周期
	UploadKeyPrefix      string
	UploadURLTTL         time.Duration
	PendingFileTTL       time.Duration
	ReclaimThreshold     time.Duration
	ReclaimSchedule      string // cron 表达式，为空则不在进程内调度
	LifecycleConcurrency int
}

// Load 从环境变量加载配置，并提供默认值。存在 .env 时先加载它。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	port := envOrDefault("PORT", "8080")

	logLevel, err := parseLogLevel(envOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	logFormat := strings.ToLower(envOrDefault("LOG_FORMAT", "json"))
	if logFormat != "json" && logFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT must be json or text, got %q", logFormat)
	}

	corsOrigins := parseList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173"}
	}

	rateLimitRequests, err := parseIntEnv("RATE_LIMIT_REQUESTS", 60)
	if err != nil {
		return nil, err
	}
	rateLimitWindow, err := parseDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	dbDriver := strings.ToLower(envOrDefault("DB_DRIVER", DBDriverPostgres))
	if dbDriver != DBDriverPostgres && dbDriver != DBDriverMemory {
		return nil, fmt.Errorf("DB_DRIVER must be postgres or memory, got %q", dbDriver)
	}
	dbPort, err := parseIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	authMode, err := parseAuthMode()
	if err != nil {
		return nil, err
	}
	apiKeys := parseList(os.Getenv("API_KEYS"))
	if len(apiKeys) == 0 {
		// 开发环境默认 key
		apiKeys = []string{"dev-api-key-123456"}
	}
	jwksURL := os.Getenv("JWT_JWKS_URL")
	jwtSecret := os.Getenv("JWT_SECRET")
	if authMode == AuthModeJWT && jwksURL == "" && jwtSecret == "" {
		return nil, fmt.Errorf("AUTH_MODE=jwt requires JWT_JWKS_URL or JWT_SECRET")
	}

	storageDriver := strings.ToLower(envOrDefault("STORAGE_DRIVER", StorageDriverS3))
	if storageDriver != StorageDriverS3 && storageDriver != StorageDriverLocal {
		return nil, fmt.Errorf("STORAGE_DRIVER must be s3 or local, got %q", storageDriver)
	}
	storageDir := envOrDefault("STORAGE_DIR", "./data")
	if storageDriver == StorageDriverLocal {
		if err := ensureDir(storageDir); err != nil {
			return nil, fmt.Errorf("确保存储目录失败: %w", err)
		}
	}

	uploadURLTTL, err := parseDurationEnv("UPLOAD_URL_TTL", service.DefaultUploadURLTTL)
	if err != nil {
		return nil, err
	}
	pendingTTL, err := parseDurationEnv("PENDING_FILE_TTL", service.DefaultPendingTTL)
	if err != nil {
		return nil, err
	}
	reclaimThreshold, err := parseDurationEnv("RECLAIM_THRESHOLD", service.DefaultOrphanThreshold)
	if err != nil {
		return nil, err
	}
	concurrency, err := parseIntEnv("LIFECYCLE_CONCURRENCY", service.DefaultConcurrency)
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPPort:             port,
		LogLevel:             logLevel,
		LogFormat:            logFormat,
		CORSAllowedOrigins:   corsOrigins,
		RateLimitRequests:    rateLimitRequests,
		RateLimitWindow:      rateLimitWindow,
		DBDriver:             dbDriver,
		DBHost:               envOrDefault("DB_HOST", "127.0.0.1"),
		DBPort:               dbPort,
		DBUser:               envOrDefault("DB_USER", "catalog"),
		DBPassword:           envOrDefault("DB_PASSWORD", "catalog"),
		DBName:               envOrDefault("DB_NAME", "catalog"),
		DBSSLMode:            envOrDefault("DB_SSL_MODE", "disable"),
		AuthMode:             authMode,
		APIKeys:              apiKeys,
		JWTJWKSURL:           jwksURL,
		JWTSecret:            jwtSecret,
		StorageDriver:        storageDriver,
		StorageDir:           storageDir,
		LocalPublicURL:       envOrDefault("LOCAL_PUBLIC_URL", "http://localhost:"+port+"/objects"),
		LocalSigningSecret:   envOrDefault("LOCAL_SIGNING_SECRET", "dev-local-signing-secret"),
		S3Endpoint:           envOrDefault("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:          envOrDefault("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:          envOrDefault("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:             envOrDefault("S3_BUCKET", "catalog"),
		S3Region:             envOrDefault("S3_REGION", "us-east-1"),
		S3UseSSL:             parseBoolEnv("S3_USE_SSL", false),
		S3PathStyle:          parseBoolEnv("S3_PATH_STYLE", true),
		S3PublicURL:          os.Getenv("S3_PUBLIC_URL"),
		UploadKeyPrefix:      envOrDefault("UPLOAD_KEY_PREFIX", service.DefaultKeyPrefix),
		UploadURLTTL:         uploadURLTTL,
		PendingFileTTL:       pendingTTL,
		ReclaimThreshold:     reclaimThreshold,
		ReclaimSchedule:      strings.TrimSpace(os.Getenv("RECLAIM_SCHEDULE")),
		LifecycleConcurrency: concurrency,
	}, nil
}

// ObjectBaseURL 返回对象公开访问地址的前缀，文件 URL = 前缀 + "/" + key。
func (c *Config) ObjectBaseURL() string {
	if c.StorageDriver == StorageDriverLocal {
		return strings.TrimRight(c.LocalPublicURL, "/")
	}
	if c.S3PublicURL != "" {
		return strings.TrimRight(c.S3PublicURL, "/")
	}
	scheme := "http"
	if c.S3UseSSL {
		scheme = "https"
	}
	if c.S3PathStyle {
		return fmt.Sprintf("%s://%s/%s", scheme, c.S3Endpoint, c.S3Bucket)
	}
	return fmt.Sprintf("%s://%s.%s", scheme, c.S3Bucket, c.S3Endpoint)
}

// Lifecycle 构造生命周期引擎的不可变配置。
func (c *Config) Lifecycle() service.LifecycleConfig {
	return service.LifecycleConfig{
		KeyPrefix:       c.UploadKeyPrefix,
		ObjectBaseURL:   c.ObjectBaseURL(),
		UploadURLTTL:    c.UploadURLTTL,
		PendingTTL:      c.PendingFileTTL,
		OrphanThreshold: c.ReclaimThreshold,
		Concurrency:     c.LifecycleConcurrency,
	}
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// SetupLogger 按配置创建 slog 日志器并设为默认。
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseAuthMode 兼容旧的 AUTH_ENABLED 开关。
func parseAuthMode() (string, error) {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if mode == "" {
		if parseBoolEnv("AUTH_ENABLED", true) {
			return AuthModeAPIKey, nil
		}
		return AuthModeNone, nil
	}
	switch mode {
	case AuthModeAPIKey, AuthModeJWT, AuthModeNone:
		return mode, nil
	default:
		return "", fmt.Errorf("AUTH_MODE must be apikey, jwt or none, got %q", mode)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("解析 LOG_LEVEL 失败: %w", err)
	}
	return level, nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("路径 %s 已存在但不是目录", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
