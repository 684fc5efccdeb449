package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.CatalogCacheTTL)
	assert.Equal(t, 20, cfg.PreviewSampleSize)
	assert.Equal(t, 2.0, cfg.TinyRateLimit)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, logrus.DebugLevel, cfg.LogrusLevel())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATABASE_URL", "postgres://look@db/look")
	t.Setenv("CATALOG_CACHE_TTL", "90s")
	t.Setenv("OUTBOX_POLL_INTERVAL", "not-a-duration")
	t.Setenv("TINY_RATE_LIMIT", "0.5")
	t.Setenv("PREVIEW_SAMPLE_SIZE", "x")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://look.com.br, https://*.look.com.br ,")
	t.Setenv("LOG_LEVEL", "warn")

	cfg := Load()

	assert.Equal(t, "postgres://look@db/look", cfg.DSN())
	assert.Equal(t, 90*time.Second, cfg.CatalogCacheTTL)
	assert.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, 0.5, cfg.TinyRateLimit)
	assert.Equal(t, 20, cfg.PreviewSampleSize)
	assert.Equal(t, []string{"https://look.com.br", "https://*.look.com.br"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, logrus.WarnLevel, cfg.LogrusLevel())
}

func TestValidate(t *testing.T) {
	cfg := &Config{DBHost: "localhost"}
	assert.ErrorContains(t, cfg.Validate(), "JWT_SECRET")

	cfg.JWTSecret = "short"
	cfg.Environment = "production"
	assert.ErrorContains(t, cfg.Validate(), "32 characters")

	cfg.Environment = "development"
	assert.NoError(t, cfg.Validate())
}

func TestDSN_FromParts(t *testing.T) {
	cfg := &Config{DBHost: "db", DBPort: 5433, DBUser: "look", DBPassword: "pw", DBName: "look", DBSSLMode: "require"}

	assert.Equal(t, "host=db port=5433 user=look password=pw dbname=look sslmode=require", cfg.DSN())
}
