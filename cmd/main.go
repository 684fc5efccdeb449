package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"look-marketplace/internal/cache"
	"look-marketplace/internal/clients/shopify"
	"look-marketplace/internal/clients/tiny"
	"look-marketplace/internal/config"
	"look-marketplace/internal/events"
	"look-marketplace/internal/gateway"
	"look-marketplace/internal/handlers"
	"look-marketplace/internal/middleware"
	"look-marketplace/internal/repository"
	"look-marketplace/internal/services"
)

// @title Look Marketplace API
// @version 1.0.0
// @description Catalog staging, integrations, coupons and payments for the Look fashion marketplace

// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	logger.SetLevel(cfg.LogrusLevel())
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	db, err := config.InitDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	// Redis is optional; without it every instance keeps its own page cache
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Failed to parse Redis URL (continuing without Redis)")
		} else {
			redisClient = redis.NewClient(redisOpts)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.WithError(err).Warn("Failed to connect to Redis (using in-process catalog cache)")
				redisClient.Close()
				redisClient = nil
			} else {
				logger.Info("✓ Redis connected successfully")
			}
			cancel()
		}
	}

	stagingRepo := repository.NewStagingRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	productRepo := repository.NewProductRepository(db)
	outboxRepo := repository.NewOutboxRepository(db, cfg.OutboxMaxAttempts)

	catalogCache := cache.NewCatalogCache(redisClient, cfg.CatalogCacheTTL)
	logger.WithFields(logrus.Fields{
		"distributed": catalogCache.IsDistributed(),
		"ttl":         cfg.CatalogCacheTTL.String(),
	}).Info("Catalog cache ready")
	catalogService := services.NewCatalogService(productRepo, catalogCache)
	stagingService := services.NewStagingService(stagingRepo, catalogService, logger)
	couponService := services.NewCouponService(couponRepo, productRepo, logger)

	tinyClient := tiny.NewClient(tiny.Config{
		BaseURL:           cfg.TinyAPIURL,
		RequestsPerSecond: cfg.TinyRateLimit,
		Concurrency:       cfg.TinyConcurrency,
	}, logger)
	shopifyClient := shopify.NewClient(shopify.Config{
		APIKey:    cfg.ShopifyClientID,
		APISecret: cfg.ShopifyClientSecret,
	}, logger)
	importService := services.NewImportService(tinyClient, stagingService, logger)
	previewService := services.NewPreviewService(tinyClient, productRepo, cfg.PreviewSampleSize, logger)

	var paymentGateway services.PaymentGateway
	if stripeGateway, err := gateway.NewStripeGateway(cfg.StripeSecretKey, nil); err != nil {
		logger.WithError(err).Warn("Stripe not configured, payment intents disabled")
	} else {
		paymentGateway = stripeGateway
		logger.Info("✓ Stripe gateway initialized")
	}
	paymentService := services.NewPaymentService(paymentGateway, couponService, cfg.DefaultCurrency, logger)

	rootCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	var eventsPublisher *events.Publisher
	if cfg.NATSURL != "" {
		eventsPublisher, err = events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize events publisher (outbox events stay pending)")
		} else {
			logger.Info("✓ Events publisher initialized (NATS connected)")
			relay := events.NewOutboxRelay(outboxRepo, eventsPublisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger)
			go relay.Run(rootCtx)

			subscriber := events.NewCatalogInvalidationSubscriber(eventsPublisher.JetStream(), catalogService, logger)
			if err := subscriber.Start(rootCtx); err != nil {
				logger.WithError(err).Warn("Failed to start catalog invalidation subscriber")
			}
		}
	} else {
		logger.Info("NATS_URL not set, skipping event publishing initialization")
	}
	defer func() {
		if eventsPublisher != nil {
			eventsPublisher.Close()
		}
	}()

	stagingHandler := handlers.NewStagingHandler(stagingService, productRepo, logger)
	integrationHandler := handlers.NewIntegrationHandler(previewService, importService, shopifyClient, productRepo, logger)
	couponHandler := handlers.NewCouponHandler(couponService, logger)
	catalogHandler := handlers.NewCatalogHandler(catalogService, logger)
	paymentHandler := handlers.NewPaymentHandler(paymentService, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	sqlDB, err := db.DB()
	if err != nil {
		logger.WithError(err).Fatal("Failed to access database handle")
	}
	readiness := map[string]func(ctx context.Context) error{
		"database": sqlDB.PingContext,
	}
	if redisClient != nil {
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck(readiness))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("/api")
	api.GET("/products", catalogHandler.ListProducts)
	api.GET("/integrations/staging/template", integrationHandler.GetStagingTemplate)

	authed := api.Group("")
	authed.Use(middleware.Auth(cfg.JWTSecret, logger))
	{
		integrations := authed.Group("/integrations")
		integrations.GET("/tiny/staging", stagingHandler.GetStaging)
		integrations.POST("/tiny/staging", stagingHandler.CommitStaging)
		integrations.POST("/tiny/preview", integrationHandler.PreviewTiny)
		integrations.POST("/tiny/import", integrationHandler.ImportTiny)
		integrations.POST("/staging/upload", integrationHandler.UploadStaging)
		integrations.POST("/shopify/token", integrationHandler.ShopifyToken)
		integrations.POST("/shopify/stock", integrationHandler.ShopifyStock)

		authed.POST("/coupons/validate", couponHandler.ValidateCoupon)
		authed.POST("/payments/intent", paymentHandler.CreatePaymentIntent)

		coupons := authed.Group("/coupons")
		coupons.Use(middleware.RequireAllowListed(productRepo))
		coupons.GET("", couponHandler.ListCoupons)
		coupons.POST("", couponHandler.SaveCoupon)
		coupons.GET("/:id", couponHandler.GetCoupon)
		coupons.DELETE("/:id", couponHandler.DeleteCoupon)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Look marketplace service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down look-marketplace...")

	stopBackground()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("Server exited")
}
