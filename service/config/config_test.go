package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv() {
	os.Setenv("CONTROL_TOKEN", "secret")
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv("RPC_WS_URL", "wss://api.mainnet-beta.solana.com")
	os.Setenv("PROGRAM_ID", "MemeRoya1eProgram111111111111111111111111111")
}

func cleanupEnv() {
	for _, key := range []string{
		"SERVER_ADDR", "LOG_LEVEL", "CONTROL_TOKEN", "DATABASE_URL",
		"NATS_URL", "RPC_URL", "RPC_WS_URL", "PROGRAM_ID",
		"PRICE_API_URL", "USDC_MINT_ADDRESS",
		"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
		"RPC_RATE_LIMIT", "RPC_RATE_INTERVAL", "RPC_MAX_CONCURRENCY",
		"CRAWL_PAGE_SIZE", "CRAWL_PAGE_DELAY", "REFRESH_INTERVAL",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv()
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.RPCURL)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, 50, cfg.RPCRateLimit)
	assert.Equal(t, time.Second, cfg.RPCRateInterval)
	assert.Equal(t, 10, cfg.RPCMaxConcurrency)
	assert.Equal(t, 100, cfg.CrawlPageSize)
	assert.Equal(t, time.Second, cfg.CrawlPageDelay)
	assert.Equal(t, 15*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", cfg.USDCMintAddress)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name string
		omit string
	}{
		{"missing control token", "CONTROL_TOKEN"},
		{"missing database url", "DATABASE_URL"},
		{"missing rpc url", "RPC_URL"},
		{"missing ws url", "RPC_WS_URL"},
		{"missing program id", "PROGRAM_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv()
			os.Unsetenv(tt.omit)
			defer cleanupEnv()

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.omit+" is required")
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequiredEnv()
	os.Setenv("RPC_RATE_INTERVAL", "not-a-duration")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_InvalidInteger(t *testing.T) {
	setRequiredEnv()
	os.Setenv("CRAWL_PAGE_SIZE", "many")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid integer")
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv()
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("RPC_RATE_LIMIT", "25")
	os.Setenv("RPC_RATE_INTERVAL", "2s")
	os.Setenv("CRAWL_PAGE_SIZE", "500")
	os.Setenv("REFRESH_INTERVAL", "1h")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 25, cfg.RPCRateLimit)
	assert.Equal(t, 2*time.Second, cfg.RPCRateInterval)
	assert.Equal(t, 500, cfg.CrawlPageSize)
	assert.Equal(t, time.Hour, cfg.RefreshInterval)
}

func TestValidate_Bounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "zero rate limit",
			mutate: func(c *Config) { c.RPCRateLimit = 0 },
			errMsg: "RPC_RATE_LIMIT must be positive",
		},
		{
			name:   "zero concurrency",
			mutate: func(c *Config) { c.RPCMaxConcurrency = 0 },
			errMsg: "RPC_MAX_CONCURRENCY must be positive",
		},
		{
			name:   "page size over rpc maximum",
			mutate: func(c *Config) { c.CrawlPageSize = 1001 },
			errMsg: "CRAWL_PAGE_SIZE",
		},
		{
			name:   "refresh interval too short",
			mutate: func(c *Config) { c.RefreshInterval = time.Second },
			errMsg: "REFRESH_INTERVAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				RPCRateLimit:      50,
				RPCRateInterval:   time.Second,
				RPCMaxConcurrency: 10,
				CrawlPageSize:     100,
				RefreshInterval:   15 * time.Minute,
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
