package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/liamashdown/walletpnl/internal/secrets"
)

// AuthMode represents the authentication mode for Data API
type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeBearer AuthMode = "bearer"
	AuthModeAPIKey AuthMode = "api_key"
)

// StorageDriver selects the leaderboard snapshot backend
type StorageDriver string

const (
	StorageMySQL    StorageDriver = "mysql"
	StoragePostgres StorageDriver = "postgres"
	StorageMemory   StorageDriver = "memory"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string
	LogLevel    string

	// Storage
	StorageDriver       StorageDriver
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration

	// Data API
	DataAPIBaseURL      string
	DataAPIAuthMode     AuthMode
	DataAPIBearerToken  string
	DataAPIAPIKey       string
	DataAPIExtraHeaders map[string]string
	HTTPTimeout         time.Duration

	// Gamma API (profiles)
	GammaAPIBaseURL string

	// Leaderboard API (authoritative profit / volume)
	LeaderboardAPIBaseURL string

	// Rate limits (requests per second)
	DataAPITradesRPS    float64
	DataAPIActivityRPS  float64
	DataAPIPositionsRPS float64
	GammaAPIProfileRPS  float64
	LeaderboardAPIRPS   float64
	RateLimitBurst      int

	// Fetcher
	FetchInitialBatch  int
	FetchMinBatch      int
	FetchMaxRetries    int
	FetchMaxOffset     int
	FetchBackoffStart  time.Duration
	FetchBackoffMax    time.Duration
	TradesPageSize     int
	ActivityPageSize   int
	PositionsPageSize  int
	ClosedPageSize     int
	ClosedMaxPages     int
	LedgerMaxEvents    int
	DashboardTradesMax int

	// Cache
	CacheMaxEntries  int64
	ResourceCacheTTL time.Duration
	DashboardTTL     time.Duration
	RedisURL         string
	RedisPassword    string

	// Deadlines
	RequestTimeout   time.Duration
	AggregateTimeout time.Duration

	// Leaderboard refresh
	LeaderboardRefreshInterval time.Duration
	LeaderboardWorkers         int

	// HTTP
	HTTPPort int
}

// Load reads configuration from environment variables (and an optional .env file)
func Load() (*Config, error) {
	// .env is optional; real env vars win
	_ = godotenv.Load()

	cfg := &Config{
		Environment:                getEnv("ENVIRONMENT", "production"),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		StorageDriver:              StorageDriver(getEnv("STORAGE_DRIVER", "mysql")),
		DatabaseDSN:                secrets.Optional("DATABASE_DSN", "walletpnl:walletpnl@tcp(mysql:3306)/walletpnl?parseTime=true"),
		DatabaseMaxConns:           getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMaxIdleTime:        time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,
		DataAPIBaseURL:             getEnv("DATA_API_BASE_URL", "https://data-api.polymarket.com"),
		DataAPIAuthMode:            AuthMode(getEnv("DATA_API_AUTH_MODE", "none")),
		DataAPIBearerToken:         secrets.Optional("DATA_API_BEARER_TOKEN", ""),
		DataAPIAPIKey:              secrets.Optional("DATA_API_API_KEY", ""),
		HTTPTimeout:                time.Duration(getEnvInt("HTTP_TIMEOUT_SEC", 30)) * time.Second,
		GammaAPIBaseURL:            getEnv("GAMMA_API_BASE_URL", "https://gamma-api.polymarket.com"),
		LeaderboardAPIBaseURL:      getEnv("LEADERBOARD_API_BASE_URL", "https://lb-api.polymarket.com"),
		DataAPITradesRPS:           getEnvFloat("DATA_API_TRADES_RPS", 15.0),
		DataAPIActivityRPS:         getEnvFloat("DATA_API_ACTIVITY_RPS", 15.0),
		DataAPIPositionsRPS:        getEnvFloat("DATA_API_POSITIONS_RPS", 10.0),
		GammaAPIProfileRPS:         getEnvFloat("GAMMA_API_PROFILE_RPS", 5.0),
		LeaderboardAPIRPS:          getEnvFloat("LEADERBOARD_API_RPS", 5.0),
		RateLimitBurst:             getEnvInt("RATE_LIMIT_BURST", 15),
		FetchInitialBatch:          getEnvInt("FETCH_INITIAL_BATCH", 15),
		FetchMinBatch:              getEnvInt("FETCH_MIN_BATCH", 2),
		FetchMaxRetries:            getEnvInt("FETCH_MAX_RETRIES", 3),
		FetchMaxOffset:             getEnvInt("FETCH_MAX_OFFSET", 10000),
		FetchBackoffStart:          time.Duration(getEnvInt("FETCH_BACKOFF_START_MS", 100)) * time.Millisecond,
		FetchBackoffMax:            time.Duration(getEnvInt("FETCH_BACKOFF_MAX_MS", 5000)) * time.Millisecond,
		TradesPageSize:             getEnvInt("TRADES_PAGE_SIZE", 500),
		ActivityPageSize:           getEnvInt("ACTIVITY_PAGE_SIZE", 500),
		PositionsPageSize:          getEnvInt("POSITIONS_PAGE_SIZE", 500),
		ClosedPageSize:             getEnvInt("CLOSED_PAGE_SIZE", 50),
		ClosedMaxPages:             getEnvInt("CLOSED_MAX_PAGES", 10),
		LedgerMaxEvents:            getEnvInt("LEDGER_MAX_EVENTS", 1500),
		DashboardTradesMax:         getEnvInt("DASHBOARD_TRADES_MAX", 50),
		CacheMaxEntries:            int64(getEnvInt("CACHE_MAX_ENTRIES", 10000)),
		ResourceCacheTTL:           time.Duration(getEnvInt("RESOURCE_CACHE_TTL_SEC", 120)) * time.Second,
		DashboardTTL:               time.Duration(getEnvInt("DASHBOARD_CACHE_TTL_SEC", 300)) * time.Second,
		RedisURL:                   getEnv("REDIS_URL", ""),
		RedisPassword:              secrets.Optional("REDIS_PASSWORD", ""),
		RequestTimeout:             time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 45)) * time.Second,
		AggregateTimeout:           time.Duration(getEnvInt("AGGREGATE_TIMEOUT_SEC", 120)) * time.Second,
		LeaderboardRefreshInterval: time.Duration(getEnvInt("LEADERBOARD_REFRESH_MINS", 60)) * time.Minute,
		LeaderboardWorkers:         getEnvInt("LEADERBOARD_WORKERS", 3),
		HTTPPort:                   getEnvInt("HTTP_PORT", 8080),
	}

	// Parse extra headers JSON
	extraHeadersJSON := getEnv("DATA_API_EXTRA_HEADERS", "{}")
	if err := json.Unmarshal([]byte(extraHeadersJSON), &cfg.DataAPIExtraHeaders); err != nil {
		return nil, fmt.Errorf("invalid DATA_API_EXTRA_HEADERS JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageMySQL, StoragePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required when STORAGE_DRIVER is %s", c.StorageDriver)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER: %s (must be mysql, postgres, or memory)", c.StorageDriver)
	}

	switch c.DataAPIAuthMode {
	case AuthModeNone:
	case AuthModeBearer:
		if c.DataAPIBearerToken == "" {
			return fmt.Errorf("DATA_API_BEARER_TOKEN is required when AUTH_MODE is bearer")
		}
	case AuthModeAPIKey:
		if c.DataAPIAPIKey == "" {
			return fmt.Errorf("DATA_API_API_KEY is required when AUTH_MODE is api_key")
		}
	default:
		return fmt.Errorf("invalid DATA_API_AUTH_MODE: %s (must be none, bearer, or api_key)", c.DataAPIAuthMode)
	}

	if c.FetchInitialBatch < 1 {
		return fmt.Errorf("FETCH_INITIAL_BATCH must be at least 1")
	}
	if c.FetchMinBatch < 1 || c.FetchMinBatch > c.FetchInitialBatch {
		return fmt.Errorf("FETCH_MIN_BATCH must be between 1 and FETCH_INITIAL_BATCH (%d)", c.FetchInitialBatch)
	}
	for name, size := range map[string]int{
		"TRADES_PAGE_SIZE":    c.TradesPageSize,
		"ACTIVITY_PAGE_SIZE":  c.ActivityPageSize,
		"POSITIONS_PAGE_SIZE": c.PositionsPageSize,
		"CLOSED_PAGE_SIZE":    c.ClosedPageSize,
	} {
		if size <= 0 || size > 1000 {
			return fmt.Errorf("%s must be between 1 and 1000, got %d", name, size)
		}
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SEC must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
