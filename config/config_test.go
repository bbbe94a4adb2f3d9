package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wallet-ledger/config"
	"github.com/warp/wallet-ledger/wallet"
)

var allKeys = []string{
	"HTTP_ADDR", "DB_DRIVER", "SQLITE_PATH", "DATABASE_URL",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_CHANNEL",
	"GATEWAY_URL", "GATEWAY_TIMEOUT", "WALLET_AUTO_CREATE", "DEFAULT_CURRENCY",
	"MAX_CONFLICT_RETRIES", "AUDIT_INTERVAL", "LOG_LEVEL", "CORS_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, config.DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "wallet.db", cfg.SQLitePath)
	assert.Equal(t, "wallet_events", cfg.RedisChannel)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.False(t, cfg.AutoCreate)
	assert.Equal(t, wallet.CurrencyVND, cfg.DefaultCurrency)
	assert.Equal(t, wallet.DefaultMaxConflictRetries, cfg.MaxConflictRetries)
	assert.Zero(t, cfg.AuditInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, wallet.DefaultPolicy(), cfg.Policy())
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/wallet")
	t.Setenv("GATEWAY_TIMEOUT", "2s")
	t.Setenv("WALLET_AUTO_CREATE", "true")
	t.Setenv("DEFAULT_CURRENCY", "usd")
	t.Setenv("MAX_CONFLICT_RETRIES", "5")
	t.Setenv("AUDIT_INTERVAL", "1h")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, config.DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 2*time.Second, cfg.GatewayTimeout)
	assert.True(t, cfg.AutoCreate)
	assert.Equal(t, wallet.CurrencyUSD, cfg.DefaultCurrency)
	assert.Equal(t, 5, cfg.MaxConflictRetries)
	assert.Equal(t, time.Hour, cfg.AuditInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, wallet.Policy{AutoCreate: true, DefaultCurrency: wallet.CurrencyUSD}, cfg.Policy())
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"unknown driver":       {"DB_DRIVER", "oracle"},
		"bad timeout":          {"GATEWAY_TIMEOUT", "soon"},
		"bad bool":             {"WALLET_AUTO_CREATE", "maybe"},
		"bad retries":          {"MAX_CONFLICT_RETRIES", "three"},
		"negative retries":     {"MAX_CONFLICT_RETRIES", "-1"},
		"bad currency":         {"DEFAULT_CURRENCY", "DOGE"},
		"negative interval":    {"AUDIT_INTERVAL", "-1m"},
		"postgres without url": {"DB_DRIVER", "postgres"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])
			_, err := config.FromEnv()
			assert.Error(t, err)
		})
	}
}
