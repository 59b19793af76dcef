package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tripgate/booking-backend/internal/config"
	"github.com/tripgate/booking-backend/internal/database"
	"github.com/tripgate/booking-backend/internal/gds"
	"github.com/tripgate/booking-backend/internal/handlers"
	"github.com/tripgate/booking-backend/internal/middleware"
	"github.com/tripgate/booking-backend/internal/payment"
	"github.com/tripgate/booking-backend/internal/services"
	"github.com/tripgate/booking-backend/pkg/jwt"
	"github.com/tripgate/booking-backend/pkg/retry"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting TripGate booking backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Logging.File != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   true,
		}))
		logger.WithField("file", cfg.Logging.File).Info("Rotating log file enabled")
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Redis is optional
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		logger.Info("Redis connection established")
	}

	// Repositories
	bookingRepository := database.NewBookingRepository(db, logger)
	paymentRepository := database.NewPaymentRepository(db)
	accountRepository := database.NewAccountRepository(db)
	exceptionRepository := database.NewFinancialExceptionRepository(db, logger)
	paymentAuditRepository := database.NewPaymentAuditRepository(db, logger)

	// Provider adapters
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.InitialInterval = cfg.Retry.InitialInterval
	policy.MaxInterval = cfg.Retry.MaxInterval

	gdsTokens := gds.NewTokenManager(gds.TokenConfig{
		BaseURL:       cfg.GDS.BaseURL,
		ClientID:      cfg.GDS.ClientID,
		ClientSecret:  cfg.GDS.ClientSecret,
		RefreshBuffer: cfg.GDS.TokenRefreshBuffer,
		Timeout:       cfg.GDS.CallTimeout,
	}, logger)
	gdsClient := gds.NewClient(gds.Config{
		BaseURL:            cfg.GDS.BaseURL,
		CallTimeout:        cfg.GDS.CallTimeout,
		InventoryGoneCodes: cfg.GDS.InventoryGoneCodes,
		PriceChangedCodes:  cfg.GDS.PriceChangedCodes,
	}, gdsTokens, policy, logger)

	stripeGateway := payment.NewStripeGateway(payment.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		CallTimeout:   cfg.Stripe.CallTimeout,
	}, policy, logger)

	// Services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(
		cfg.JWT.Secret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTokenExpiry,
		cfg.JWT.RefreshTokenExpiry,
	)
	auditService := services.NewAuditService(db, logger)
	feePolicy := services.NewFeePolicy(cfg.Fees, cfg.Booking)

	orchestrator := services.NewBookingOrchestratorService(
		bookingRepository,
		paymentRepository,
		accountRepository,
		exceptionRepository,
		paymentAuditRepository,
		gdsClient,
		gdsClient,
		stripeGateway,
		auditService,
		feePolicy,
		services.BookingOrchestratorConfig{
			ReferencePrefix: cfg.Booking.ReferencePrefix,
			MaxAdvanceDays:  cfg.Booking.MaxAdvanceDays,
			RefundTimeout:   cfg.Stripe.RefundTimeout,
		},
		logger,
	)
	reconciliation := services.NewReconciliationService(
		bookingRepository,
		paymentRepository,
		exceptionRepository,
		paymentAuditRepository,
		stripeGateway,
		cfg.Booking,
		logger,
	)

	// Redis expires revoked tokens itself; PostgreSQL needs the purge job
	var revocations services.TokenRevocationStore
	var tokenPurger services.TokenPurger
	if redisClient != nil {
		revocations = services.NewRedisRevocationStore(redisClient)
	} else {
		revokedTokens := database.NewRevokedTokenRepository(db)
		revocations = revokedTokens
		tokenPurger = revokedTokens
	}

	cronService := services.NewCronService(
		cfg.Cron,
		reconciliation,
		orchestrator,
		accountRepository,
		tokenPurger,
		cfg.Booking.SweepBatchSize,
		logger,
	)
	if cfg.Cron.Enabled {
		if err := cronService.Start(); err != nil {
			logger.Fatalf("Failed to start cron service: %v", err)
		}
	} else {
		logger.Warn("Cron service disabled, reconciliation runs only on demand")
	}

	// Rate limiters share one store per process
	limiterStore, err := middleware.NewLimiterStore(redisClient)
	if err != nil {
		logger.Fatalf("Failed to create rate limiter store: %v", err)
	}
	bookingLimiter := mustRateLimiter(limiterStore, cfg.RateLimit.BookingRate, "bookings", logger)
	searchLimiter := mustRateLimiter(limiterStore, cfg.RateLimit.SearchRate, "search", logger)
	webhookLimiter := mustRateLimiter(limiterStore, cfg.RateLimit.WebhookRate, "webhook", logger)

	// Handlers
	if err := handlers.RegisterValidators(); err != nil {
		logger.Fatalf("Failed to register validators: %v", err)
	}
	bookingHandler := handlers.NewBookingOrchestratorHandler(orchestrator, logger)
	searchHandler := handlers.NewSearchHandler(gdsClient, cfg.Booking.MaxAdvanceDays, logger)
	webhookHandler := handlers.NewPaymentWebhookHandler(stripeGateway, orchestrator, logger)
	authHandler := handlers.NewAuthHandler(revocations, auditService, logger)
	adminHandler := handlers.NewAdminHandler(orchestrator, cronService, auditService, logger)

	healthChecks := map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error { return database.HealthCheck(ctx, db) },
	}
	if redisClient != nil {
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	healthHandler := handlers.NewHealthHandler(version, healthChecks)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	if cfg.Security.EnableRequestLog {
		router.Use(middleware.RequestLogger(logger))
	}

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Payment provider callbacks are signed, not authenticated
		v1.POST("/payments/webhook", webhookLimiter, webhookHandler.HandleWebhook)

		authenticated := v1.Group("")
		authenticated.Use(middleware.AuthMiddleware(jwtService, revocations, logger))

		auth := authenticated.Group("/auth")
		{
			auth.POST("/logout", authHandler.Logout)
		}

		flights := authenticated.Group("/flights")
		flights.Use(searchLimiter)
		{
			flights.POST("/search", searchHandler.SearchFlights)
			flights.GET("/locations", searchHandler.SearchLocations)
		}

		bookings := authenticated.Group("/bookings")
		bookings.Use(bookingLimiter)
		{
			bookings.POST("", bookingHandler.CreateBooking)
			bookings.GET("/:id", bookingHandler.GetBooking)
			bookings.POST("/:id/fee-payment", bookingHandler.PayServiceFee)
			bookings.POST("/:id/fare-payment", bookingHandler.PayFare)
			bookings.POST("/:id/cancel", bookingHandler.CancelBooking)
		}

		admin := authenticated.Group("/admin")
		admin.Use(middleware.RequireRole(jwt.RoleAgent, jwt.RoleAdmin))
		{
			admin.POST("/bookings/:id/ticketing", adminHandler.RecordTicketing)
			admin.GET("/bookings/:id/events", adminHandler.BookingEvents)
			admin.GET("/reconciliation", adminHandler.ReconciliationQueue)
			admin.POST("/reconciliation/run", adminHandler.RunReconciliation)
			admin.GET("/jobs", adminHandler.JobStatus)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // fare capture waits on the GDS order
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if cfg.Cron.Enabled {
		cronService.Stop()
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

func mustRateLimiter(store limiter.Store, rate, routeID string, logger *logrus.Logger) gin.HandlerFunc {
	handler, err := middleware.NewRateLimiter(store, rate, routeID, logger)
	if err != nil {
		logger.Fatalf("Invalid %s rate %q: %v", routeID, rate, err)
	}
	return handler
}
