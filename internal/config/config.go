// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// State. DatabaseURL wins over StateDir; with neither, state is in-memory.
	DatabaseURL string
	StateDir    string

	// Chain settings
	ChainID    int64
	GasPrice   string // wei per gas, decimal
	TxGasLimit uint64
	Coinbase   string

	// Development accounts
	DevSeed     string
	DevAccounts int
	DevBalance  string // wei, decimal

	// Observability
	OTLPEndpoint     string
	TraceSampleRatio float64

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int

	// CORSOrigins is a comma-separated origin list; "*" allows all
	CORSOrigins string
}

const (
	DefaultPort        = "8080"
	DefaultEnv         = "development"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
	DefaultChainID     = 1337
	DefaultGasPrice    = "1000000000" // 1 gwei
	DefaultTxGasLimit  = 6_721_975
	DefaultDevAccounts = 10
	DefaultDevBalance  = "100000000000000000000" // 100 ether
	DefaultDevSeed     = "smarterescrow devnet"
	DefaultRateLimit   = 100
	DefaultRateBurst   = 200
	DefaultTraceSample = 1.0
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("STATE_DIR"),
		ChainID:          getEnvInt64("CHAIN_ID", DefaultChainID),
		GasPrice:         getEnv("GAS_PRICE", DefaultGasPrice),
		TxGasLimit:       uint64(getEnvInt64("TX_GAS_LIMIT", DefaultTxGasLimit)),
		Coinbase:         os.Getenv("COINBASE"),
		DevSeed:          getEnv("DEV_SEED", DefaultDevSeed),
		DevAccounts:      int(getEnvInt64("DEV_ACCOUNTS", DefaultDevAccounts)),
		DevBalance:       getEnv("DEV_BALANCE", DefaultDevBalance),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio: getEnvFloat("TRACE_SAMPLE_RATIO", DefaultTraceSample),
		RateLimitRPS:     int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		RateLimitBurst:   int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateBurst)),
		CORSOrigins:      getEnv("CORS_ORIGINS", "*"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}
	if _, err := uint256.FromDecimal(c.GasPrice); err != nil {
		return fmt.Errorf("GAS_PRICE must be a decimal wei amount: %w", err)
	}
	if c.TxGasLimit < 21000 {
		return fmt.Errorf("TX_GAS_LIMIT must be at least 21000")
	}
	if c.Coinbase != "" && !common.IsHexAddress(c.Coinbase) {
		return fmt.Errorf("COINBASE must be a 0x address")
	}
	if c.DevAccounts < 1 {
		return fmt.Errorf("DEV_ACCOUNTS must be at least 1")
	}
	if _, err := uint256.FromDecimal(c.DevBalance); err != nil {
		return fmt.Errorf("DEV_BALANCE must be a decimal wei amount: %w", err)
	}
	if c.DevSeed == "" {
		return fmt.Errorf("DEV_SEED is required")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	return nil
}

// GasPriceWei returns the validated gas price.
func (c *Config) GasPriceWei() *uint256.Int {
	v, _ := uint256.FromDecimal(c.GasPrice)
	return v
}

// DevBalanceWei returns the validated genesis balance of each dev account.
func (c *Config) DevBalanceWei() *uint256.Int {
	v, _ := uint256.FromDecimal(c.DevBalance)
	return v
}

// CoinbaseAddress returns the fee recipient, the zero address when unset.
func (c *Config) CoinbaseAddress() common.Address {
	return common.HexToAddress(c.Coinbase)
}

// AllowedOrigins splits CORSOrigins into a list.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
