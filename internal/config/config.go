package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"look-marketplace/internal/models"
)

type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Redis and NATS are optional; an empty URL disables them
	RedisURL string
	NATSURL  string

	// Auth
	JWTSecret          string
	CORSAllowedOrigins []string

	// Tiny ERP
	TinyAPIURL        string
	TinyRateLimit     float64
	TinyConcurrency   int
	PreviewSampleSize int

	// Shopify
	ShopifyClientID     string
	ShopifyClientSecret string

	// Stripe
	StripeSecretKey string
	DefaultCurrency string

	// Catalog cache and outbox
	CatalogCacheTTL    time.Duration
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnvAsInt("DB_PORT", 5432),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "look"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),

		RedisURL: getEnv("REDIS_URL", ""),
		NATSURL:  getEnv("NATS_URL", ""),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		TinyAPIURL:        getEnv("TINY_API_URL", "https://api.tiny.com.br/api2"),
		TinyRateLimit:     getEnvAsFloat("TINY_RATE_LIMIT", 2),
		TinyConcurrency:   getEnvAsInt("TINY_CONCURRENCY", 4),
		PreviewSampleSize: getEnvAsInt("PREVIEW_SAMPLE_SIZE", 20),

		ShopifyClientID:     getEnv("SHOPIFY_CLIENT_ID", ""),
		ShopifyClientSecret: getEnv("SHOPIFY_CLIENT_SECRET", ""),

		StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "brl"),

		CatalogCacheTTL:    getEnvAsDuration("CATALOG_CACHE_TTL", 5*time.Minute),
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxAttempts:  getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10),
	}
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks the settings the service cannot start without
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters in production")
	}
	if c.DatabaseURL == "" && c.DBHost == "" {
		return errors.New("DATABASE_URL or DB_HOST is required")
	}
	return nil
}

// DSN returns DATABASE_URL when set, else a DSN built from the DB_* variables
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// LogrusLevel resolves LOG_LEVEL, defaulting to info in production and debug
// elsewhere
func (c *Config) LogrusLevel() logrus.Level {
	if c.LogLevel != "" {
		if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
			return level
		}
	}
	if c.IsProduction() {
		return logrus.InfoLevel
	}
	return logrus.DebugLevel
}

func InitDB(cfg *Config, log *logrus.Logger) (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if cfg.IsProduction() {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("Running auto-migrations...")
	if err := Migrate(db); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "does not exist") && strings.Contains(errStr, "constraint") {
			log.WithError(err).Warn("Migration constraint warning (safe to ignore)")
		} else {
			return nil, fmt.Errorf("failed to run auto-migrations: %w", err)
		}
	}
	log.Info("Auto-migrations completed successfully")

	return db, nil
}

// Migrate creates or updates every table the service owns
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Brand{},
		&models.Product{},
		&models.StagingRow{},
		&models.Coupon{},
		&models.CouponApplicability{},
		&models.CouponRedemption{},
		&models.AdminAllowlist{},
		&models.OutboxEvent{},
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
