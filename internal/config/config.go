// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port      int
	DevMode   bool
	LogLevel  string
	LogPretty bool

	APIURL            string // rebalance backend: prices, swap quotes, token inventory, pool APR
	SDKAPIURL         string // referral lookups
	AcrossAPIURL      string
	SquidAPIURL       string
	SquidIntegratorID string

	StrategyFile string

	PriceCacheTTL          time.Duration
	PriceRefreshSchedule   string
	PriceRequestsPerMinute int

	// InertMode resolves every network price to 1 and disables swap guards.
	// Used for dry runs against forked chains.
	InertMode bool

	RPCURLs map[string][]string // chain name -> endpoints, tried in order
}

// rpcEnvByChain lists the chains whose RPC endpoints can be configured.
var rpcEnvByChain = map[string]string{
	"arbitrum": "ARBITRUM_RPC_URL",
	"base":     "BASE_RPC_URL",
	"op":       "OPTIMISM_RPC_URL",
	"bsc":      "BSC_RPC_URL",
	"polygon":  "POLYGON_RPC_URL",
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnvAsInt("PORT", 8000),
		DevMode:                getEnvAsBool("DEV_MODE", false),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogPretty:              getEnvAsBool("LOG_PRETTY", true),
		APIURL:                 strings.TrimRight(getEnv("API_URL", "https://api.zapx.finance"), "/"),
		SDKAPIURL:              strings.TrimRight(getEnv("SDK_API_URL", "https://sdk.zapx.finance"), "/"),
		AcrossAPIURL:           strings.TrimRight(getEnv("ACROSS_API_URL", "https://app.across.to/api"), "/"),
		SquidAPIURL:            strings.TrimRight(getEnv("SQUID_API_URL", "https://v2.api.squidrouter.com"), "/"),
		SquidIntegratorID:      getEnv("SQUID_INTEGRATOR_ID", ""),
		StrategyFile:           getEnv("STRATEGY_FILE", "strategy.yaml"),
		PriceCacheTTL:          getEnvAsDuration("PRICE_CACHE_TTL", 60*time.Second),
		PriceRefreshSchedule:   getEnv("PRICE_REFRESH_SCHEDULE", "@every 1m"),
		PriceRequestsPerMinute: getEnvAsInt("PRICE_REQUESTS_PER_MINUTE", 30),
		InertMode:              getEnvAsBool("INERT_MODE", false),
		RPCURLs:                loadRPCURLs(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.APIURL == "" {
		return fmt.Errorf("API_URL is required")
	}
	if c.PriceCacheTTL <= 0 {
		return fmt.Errorf("PRICE_CACHE_TTL must be positive, got %s", c.PriceCacheTTL)
	}
	if c.PriceRequestsPerMinute <= 0 {
		return fmt.Errorf("PRICE_REQUESTS_PER_MINUTE must be positive, got %d", c.PriceRequestsPerMinute)
	}
	if c.StrategyFile == "" {
		return fmt.Errorf("STRATEGY_FILE is required")
	}
	return nil
}

// RPCURLsFor returns the configured endpoints for a chain, or nil.
func (c *Config) RPCURLsFor(chain string) []string {
	return c.RPCURLs[chain]
}

func loadRPCURLs() map[string][]string {
	urls := make(map[string][]string, len(rpcEnvByChain))
	for chain, key := range rpcEnvByChain {
		if list := parseList(getEnv(key, "")); len(list) > 0 {
			urls[chain] = list
		}
	}
	return urls
}

func parseList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
