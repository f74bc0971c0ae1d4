package config

import (
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "STATE_DIR", "/tmp/smarterescrow-state")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/tmp/smarterescrow-state", cfg.StateDir)
	assert.Equal(t, int64(DefaultChainID), cfg.ChainID)
	assert.Equal(t, uint64(DefaultTxGasLimit), cfg.TxGasLimit)
	assert.Equal(t, "1000000000", cfg.GasPriceWei().Dec())
	assert.Equal(t, DefaultDevBalance, cfg.DevBalanceWei().Dec())
	assert.Equal(t, DefaultDevAccounts, cfg.DevAccounts)
	assert.Equal(t, common.Address{}, cfg.CoinbaseAddress())
	assert.Equal(t, DefaultTraceSample, cfg.TraceSampleRatio)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "CHAIN_ID", "31337")
	setEnv(t, "GAS_PRICE", "7")
	setEnv(t, "COINBASE", "0x1234567890123456789012345678901234567890")
	setEnv(t, "DEV_ACCOUNTS", "3")
	setEnv(t, "RATE_LIMIT_BURST", "5")
	setEnv(t, "TRACE_SAMPLE_RATIO", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(31337), cfg.ChainID)
	assert.Equal(t, uint64(7), cfg.GasPriceWei().Uint64())
	assert.Equal(t, common.HexToAddress("0x1234567890123456789012345678901234567890"), cfg.CoinbaseAddress())
	assert.Equal(t, 3, cfg.DevAccounts)
	assert.Equal(t, 5, cfg.RateLimitBurst)
	assert.Equal(t, 0.25, cfg.TraceSampleRatio)
}

func TestLoad_InvalidGasPrice(t *testing.T) {
	setEnv(t, "GAS_PRICE", "one gwei")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "GAS_PRICE")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			ChainID:     DefaultChainID,
			GasPrice:    DefaultGasPrice,
			TxGasLimit:  DefaultTxGasLimit,
			DevSeed:     DefaultDevSeed,
			DevAccounts: 1,
			DevBalance:  DefaultDevBalance,
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"zero chain id", func(c *Config) { c.ChainID = 0 }, "CHAIN_ID"},
		{"bad gas price", func(c *Config) { c.GasPrice = "-1" }, "GAS_PRICE"},
		{"gas limit too low", func(c *Config) { c.TxGasLimit = 20000 }, "TX_GAS_LIMIT"},
		{"bad coinbase", func(c *Config) { c.Coinbase = "0x12" }, "COINBASE"},
		{"no dev accounts", func(c *Config) { c.DevAccounts = 0 }, "DEV_ACCOUNTS"},
		{"bad dev balance", func(c *Config) { c.DevBalance = "lots" }, "DEV_BALANCE"},
		{"empty seed", func(c *Config) { c.DevSeed = "" }, "DEV_SEED"},
		{"negative rate", func(c *Config) { c.RateLimitRPS = -1 }, "RATE_LIMIT"},
		{"sample ratio above one", func(c *Config) { c.TraceSampleRatio = 1.5 }, "TRACE_SAMPLE_RATIO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestConfig_AllowedOrigins(t *testing.T) {
	cfg := &Config{CORSOrigins: " https://a.example, ,https://b.example "}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())

	cfg.CORSOrigins = ""
	assert.Empty(t, cfg.AllowedOrigins())
}
