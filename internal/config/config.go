package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tripgate/booking-backend/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	GDS       GDSConfig
	Stripe    StripeConfig
	Booking   BookingConfig
	Fees      FeeConfig
	Retry     RetryConfig
	Cron      CronConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Security  SecurityConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// LoggingConfig enables rotated file output next to stdout
type LoggingConfig struct {
	File       string // empty = stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// RedisConfig holds the optional Redis connection (token revocation, rate limits)
type RedisConfig struct {
	URL string // empty = PostgreSQL revocation store and in-memory rate limits
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret             string
	RefreshSecret      string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// GDSConfig holds the flight inventory provider (Amadeus self-service API) settings
type GDSConfig struct {
	BaseURL            string
	ClientID           string
	ClientSecret       string
	TokenRefreshBuffer time.Duration // refresh when less than this remains
	CallTimeout        time.Duration // per outbound call
	InventoryGoneCodes []string      // order error codes meaning the fare sold out
	PriceChangedCodes  []string      // order error codes meaning the price moved
}

// StripeConfig holds payment gateway configuration
type StripeConfig struct {
	SecretKey     string // SECRET - never expose to client
	WebhookSecret string
	CallTimeout   time.Duration
	RefundTimeout time.Duration // refund attempt inside a cancellation
}

// BookingConfig holds booking lifecycle settings
type BookingConfig struct {
	ReferencePrefix      string
	DomesticAirports     []string
	UrgentWindow         time.Duration // departure within this window is urgent
	MaxAdvanceDays       int
	OfferTTL             time.Duration // requested bookings without capture expire after this
	StaleOperationAfter  time.Duration // fee_pending / pending operations older than this are stale
	ExceptionMaxAttempts int           // refund retries before escalation
	SweepBatchSize       int
}

// FeeConfig is the service fee schedule
type FeeConfig struct {
	DomesticBase      models.Money
	DomesticCap       models.Money
	InternationalBase models.Money
	InternationalCap  models.Money
	UrgentSurcharge   models.Money
	GroupPerPerson    models.Money
	GroupMinSize      int
	BronzeWaivers     int // waived bookings per period
	SilverWaivers     int
	Currency          string
}

// RetryConfig is the provider retry policy
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// CronConfig holds background job schedules (6-field, with seconds)
type CronConfig struct {
	Enabled                bool
	ReconciliationSpec     string
	TicketingSyncSpec      string
	UsageResetSpec         string
	SubscriptionExpirySpec string
	TokenPurgeSpec         string // PostgreSQL revocation store only
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	BookingRate string // ulule limiter format, e.g. "30-M"
	WebhookRate string
	SearchRate  string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRequestLog bool
}

// IsProduction reports whether the server runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Logging: LoggingConfig{
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		JWT: JWTConfig{
			Secret:             getEnv("JWT_SECRET", ""),
			RefreshSecret:      getEnv("JWT_REFRESH_SECRET", ""),
			AccessTokenExpiry:  time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
			RefreshTokenExpiry: time.Duration(getEnvAsInt("JWT_REFRESH_TOKEN_EXPIRY", 604800)) * time.Second,
		},
		GDS: GDSConfig{
			BaseURL:            getEnv("AMADEUS_BASE_URL", "https://test.api.amadeus.com"),
			ClientID:           getEnv("AMADEUS_CLIENT_ID", ""),
			ClientSecret:       getEnv("AMADEUS_CLIENT_SECRET", ""),
			TokenRefreshBuffer: getEnvAsDuration("AMADEUS_TOKEN_REFRESH_BUFFER", 5*time.Minute),
			CallTimeout:        getEnvAsDuration("AMADEUS_TIMEOUT", 30*time.Second),
			InventoryGoneCodes: getEnvAsSlice("AMADEUS_INVENTORY_GONE_CODES", []string{"34651"}),
			PriceChangedCodes:  getEnvAsSlice("AMADEUS_PRICE_CHANGED_CODES", []string{"37200"}),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			CallTimeout:   getEnvAsDuration("STRIPE_TIMEOUT", 30*time.Second),
			RefundTimeout: getEnvAsDuration("STRIPE_REFUND_TIMEOUT", 15*time.Second),
		},
		Booking: BookingConfig{
			ReferencePrefix: getEnv("BOOKING_REFERENCE_PREFIX", models.DefaultReferencePrefix),
			DomesticAirports: getEnvAsSlice("DOMESTIC_AIRPORTS", []string{
				"JFK", "LAX", "ORD", "DFW", "DEN", "ATL", "SFO", "SEA", "LAS", "MCO",
			}),
			UrgentWindow:         time.Duration(getEnvAsInt("URGENT_BOOKING_DAYS", 7)) * 24 * time.Hour,
			MaxAdvanceDays:       getEnvAsInt("BOOKING_MAX_ADVANCE_DAYS", 365),
			OfferTTL:             getEnvAsDuration("BOOKING_OFFER_TTL", 24*time.Hour),
			StaleOperationAfter:  getEnvAsDuration("BOOKING_STALE_OPERATION_AFTER", 15*time.Minute),
			ExceptionMaxAttempts: getEnvAsInt("RECONCILIATION_MAX_ATTEMPTS", 5),
			SweepBatchSize:       getEnvAsInt("RECONCILIATION_BATCH_SIZE", 100),
		},
		Fees: FeeConfig{
			DomesticBase:      getEnvAsMoney("FEE_DOMESTIC_BASE", models.Units(25)),
			DomesticCap:       getEnvAsMoney("FEE_DOMESTIC_CAP", models.Units(50)),
			InternationalBase: getEnvAsMoney("FEE_INTERNATIONAL_BASE", models.Units(50)),
			InternationalCap:  getEnvAsMoney("FEE_INTERNATIONAL_CAP", models.Units(100)),
			UrgentSurcharge:   getEnvAsMoney("FEE_URGENT_SURCHARGE", models.Units(25)),
			GroupPerPerson:    getEnvAsMoney("FEE_GROUP_PER_PERSON", models.Units(15)),
			GroupMinSize:      getEnvAsInt("FEE_GROUP_MIN_SIZE", 5),
			BronzeWaivers:     getEnvAsInt("SUBSCRIPTION_BRONZE_WAIVERS", 6),
			SilverWaivers:     getEnvAsInt("SUBSCRIPTION_SILVER_WAIVERS", 15),
			Currency:          getEnv("FEE_CURRENCY", "USD"),
		},
		Retry: RetryConfig{
			MaxAttempts:     getEnvAsInt("PROVIDER_RETRY_MAX_ATTEMPTS", 3),
			InitialInterval: getEnvAsDuration("PROVIDER_RETRY_INITIAL_INTERVAL", 500*time.Millisecond),
			MaxInterval:     getEnvAsDuration("PROVIDER_RETRY_MAX_INTERVAL", 5*time.Second),
		},
		Cron: CronConfig{
			Enabled:                getEnvAsBool("CRON_ENABLED", true),
			ReconciliationSpec:     getEnv("CRON_RECONCILIATION", "0 */5 * * * *"),
			TicketingSyncSpec:      getEnv("CRON_TICKETING_SYNC", "0 */15 * * * *"),
			UsageResetSpec:         getEnv("CRON_USAGE_RESET", "0 0 0 1 * *"),
			SubscriptionExpirySpec: getEnv("CRON_SUBSCRIPTION_EXPIRY", "0 30 0 * * *"),
			TokenPurgeSpec:         getEnv("CRON_TOKEN_PURGE", "0 0 4 * * *"),
		},
		RateLimit: RateLimitConfig{
			BookingRate: getEnv("RATE_LIMIT_BOOKING", "30-M"),
			WebhookRate: getEnv("RATE_LIMIT_WEBHOOK", "600-M"),
			SearchRate:  getEnv("RATE_LIMIT_SEARCH", "60-M"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Security: SecurityConfig{
			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.JWT.RefreshSecret == "" {
		return fmt.Errorf("JWT_REFRESH_SECRET is required")
	}

	if len(c.Booking.ReferencePrefix) != 3 {
		return fmt.Errorf("BOOKING_REFERENCE_PREFIX must be 3 letters")
	}

	if c.Fees.InternationalBase <= c.Fees.DomesticBase {
		return fmt.Errorf("FEE_INTERNATIONAL_BASE must be higher than FEE_DOMESTIC_BASE")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("PROVIDER_RETRY_MAX_ATTEMPTS must be at least 1")
	}

	// Provider credentials are only mandatory in production
	if c.IsProduction() {
		if c.GDS.ClientID == "" || c.GDS.ClientSecret == "" {
			return fmt.Errorf("AMADEUS_CLIENT_ID and AMADEUS_CLIENT_SECRET are required in production")
		}
		if c.Stripe.SecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if c.Stripe.WebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("90s", "5m")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsMoney(key string, defaultValue models.Money) models.Money {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := models.ParseMoney(valueStr)
	if err != nil {
		log.Printf("Invalid amount for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
