package config

import (
	"log/slog"
	"testing"
	"time"

	"mediacatalog/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"PORT", "LOG_LEVEL", "LOG_FORMAT", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW",
	"DB_DRIVER", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE",
	"AUTH_MODE", "AUTH_ENABLED", "API_KEYS", "JWT_JWKS_URL", "JWT_SECRET",
	"STORAGE_DRIVER", "STORAGE_DIR", "LOCAL_PUBLIC_URL", "LOCAL_SIGNING_SECRET",
	"S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_BUCKET", "S3_REGION", "S3_USE_SSL", "S3_PATH_STYLE", "S3_PUBLIC_URL",
	"UPLOAD_KEY_PREFIX", "UPLOAD_URL_TTL", "PENDING_FILE_TTL", "RECLAIM_THRESHOLD", "RECLAIM_SCHEDULE", "LIFECYCLE_CONCURRENCY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, DBDriverPostgres, cfg.DBDriver)
	assert.Equal(t, StorageDriverS3, cfg.StorageDriver)
	assert.Equal(t, AuthModeAPIKey, cfg.AuthMode)
	assert.Equal(t, []string{"dev-api-key-123456"}, cfg.APIKeys)

	lc := cfg.Lifecycle()
	assert.Equal(t, service.DefaultKeyPrefix, lc.KeyPrefix)
	assert.Equal(t, 3*time.Hour, lc.UploadURLTTL)
	assert.Equal(t, 24*time.Hour, lc.PendingTTL)
	assert.Equal(t, 24*time.Hour, lc.OrphanThreshold)
	assert.Equal(t, service.DefaultConcurrency, lc.Concurrency)
	assert.Equal(t, "http://localhost:9000/catalog", lc.ObjectBaseURL)
	assert.Empty(t, cfg.ReclaimSchedule)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("STORAGE_DRIVER", "local")
	t.Setenv("STORAGE_DIR", dir)
	t.Setenv("API_KEYS", " a , b ,")
	t.Setenv("RECLAIM_THRESHOLD", "2h")
	t.Setenv("RECLAIM_SCHEDULE", "@every 1h")
	t.Setenv("LIFECYCLE_CONCURRENCY", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, DBDriverMemory, cfg.DBDriver)
	assert.Equal(t, []string{"a", "b"}, cfg.APIKeys)
	assert.Equal(t, "@every 1h", cfg.ReclaimSchedule)
	assert.Equal(t, "http://localhost:9090/objects", cfg.ObjectBaseURL())
	assert.Equal(t, 2*time.Hour, cfg.Lifecycle().OrphanThreshold)
	assert.Equal(t, 3, cfg.Lifecycle().Concurrency)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"LOG_FORMAT":        "xml",
		"LOG_LEVEL":         "loud",
		"DB_DRIVER":         "mysql",
		"STORAGE_DRIVER":    "ftp",
		"AUTH_MODE":         "oauth",
		"RATE_LIMIT_WINDOW": "soon",
		"DB_PORT":           "port",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_AuthModes(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, AuthModeNone, cfg.AuthMode)

	clearEnv(t)
	t.Setenv("AUTH_MODE", "jwt")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, AuthModeJWT, cfg.AuthMode)
}

func TestObjectBaseURL(t *testing.T) {
	cfg := &Config{StorageDriver: StorageDriverS3, S3Endpoint: "s3.example.com", S3Bucket: "media", S3UseSSL: true}
	assert.Equal(t, "https://media.s3.example.com", cfg.ObjectBaseURL())

	cfg.S3PathStyle = true
	assert.Equal(t, "https://s3.example.com/media", cfg.ObjectBaseURL())

	cfg.S3PublicURL = "https://cdn.example.com/media/"
	assert.Equal(t, "https://cdn.example.com/media", cfg.ObjectBaseURL())
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{DBUser: "app", DBPassword: "p@ss", DBHost: "db", DBPort: 5432, DBName: "catalog", DBSSLMode: "disable"}
	assert.Equal(t, "postgres://app:p%40ss@db:5432/catalog?sslmode=disable", cfg.PostgresDSN())
}
