package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Shared secret for the transaction push endpoint.
	ControlToken string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	RPCURL    string
	RPCWSURL  string
	ProgramID string

	// Price oracle configuration
	PriceAPIURL     string
	USDCMintAddress string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// RPC admission control
	RPCRateLimit      int
	RPCRateInterval   time.Duration
	RPCMaxConcurrency int

	// Crawl configuration
	CrawlPageSize  int
	CrawlPageDelay time.Duration

	// Periodic wealth refresh
	RefreshInterval time.Duration
}

// Load reads configuration from environment variables and validates all
// required fields. Returns an error if any required configuration is missing
// or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.ControlToken = os.Getenv("CONTROL_TOKEN")
	if cfg.ControlToken == "" {
		errs = append(errs, fmt.Errorf("CONTROL_TOKEN is required"))
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	cfg.RPCURL = os.Getenv("RPC_URL")
	if cfg.RPCURL == "" {
		errs = append(errs, fmt.Errorf("RPC_URL is required"))
	}

	cfg.RPCWSURL = os.Getenv("RPC_WS_URL")
	if cfg.RPCWSURL == "" {
		errs = append(errs, fmt.Errorf("RPC_WS_URL is required"))
	}

	cfg.ProgramID = os.Getenv("PROGRAM_ID")
	if cfg.ProgramID == "" {
		errs = append(errs, fmt.Errorf("PROGRAM_ID is required"))
	}

	cfg.PriceAPIURL = getEnvOrDefault("PRICE_API_URL", "https://price.jup.ag/v6/price")
	cfg.USDCMintAddress = getEnvOrDefault("USDC_MINT_ADDRESS", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "memeroyale-indexer")

	var err error
	cfg.RPCRateLimit, err = parseInt("RPC_RATE_LIMIT", 50)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RPCRateInterval, err = parseDuration("RPC_RATE_INTERVAL", "1s")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RPCMaxConcurrency, err = parseInt("RPC_MAX_CONCURRENCY", 10)
	if err != nil {
		errs = append(errs, err)
	}

	cfg.CrawlPageSize, err = parseInt("CRAWL_PAGE_SIZE", 100)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.CrawlPageDelay, err = parseDuration("CRAWL_PAGE_DELAY", "1s")
	if err != nil {
		errs = append(errs, err)
	}

	cfg.RefreshInterval, err = parseDuration("REFRESH_INTERVAL", "15m")
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.RPCRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("RPC_RATE_LIMIT must be positive"))
	}
	if c.RPCRateInterval <= 0 {
		errs = append(errs, fmt.Errorf("RPC_RATE_INTERVAL must be positive"))
	}
	if c.RPCMaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("RPC_MAX_CONCURRENCY must be positive"))
	}
	if c.CrawlPageSize <= 0 || c.CrawlPageSize > 1000 {
		errs = append(errs, fmt.Errorf("CRAWL_PAGE_SIZE must be in (0, 1000]"))
	}
	if c.RefreshInterval < time.Minute {
		errs = append(errs, fmt.Errorf("REFRESH_INTERVAL must be at least 1 minute"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
