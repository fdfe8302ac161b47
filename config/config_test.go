package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setMandatory(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DSN", "postgres://mm:mm@localhost:5432/mm?sslmode=disable")
	t.Setenv("INFLUX_URL", "http://localhost:8086")
	t.Setenv("INFLUX_TOKEN", "token")
	t.Setenv("INFLUX_ORG", "org")
	t.Setenv("INFLUX_BUCKET", "bucket")
	t.Setenv("REDIS_ADDR", "localhost:6379")
}

func TestLoadDefaults(t *testing.T) {
	setMandatory(t)
	c, err := fromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"USD"}, c.FiatSymbols)
	assert.Equal(t, 300*time.Second, c.ExchangeTimeout)
	assert.Equal(t, 300*time.Second, c.DefaultFetchInterval)
	assert.Equal(t, 7, c.MarketStaleDays)
	assert.Empty(t, c.EnabledExchanges)
	assert.Equal(t, 120*time.Second, c.HTTPCacheTTL)
	assert.Equal(t, 10*time.Second, c.SchedulerTick)
	assert.Equal(t, 10*time.Second, c.PollerTick)
	assert.Equal(t, 4, c.WorkerConcurrency)
	assert.Equal(t, "127.0.0.1:5500", c.DaemonAddr())
	assert.Equal(t, ":8080", c.APIListen)
	assert.Equal(t, ":9100", c.MetricsListen)
	assert.Equal(t, "market_pairs", c.MeasurementPairs)
	assert.Equal(t, "fiat_prices", c.MeasurementFiat)
}

func TestLoadOverrides(t *testing.T) {
	setMandatory(t)
	t.Setenv("FIAT_SYMBOLS", "USD, EUR ,GBP")
	t.Setenv("ENABLED_EXCHANGES", "kraken,bitfinex")
	t.Setenv("EXCHANGE_TIMEOUT", "5")
	t.Setenv("EXCHANGE_DEFAULT_FETCH_INTERVAL", "60")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("DAEMON_HOST", "0.0.0.0")
	t.Setenv("DAEMON_PORT", "5600")
	t.Setenv("COIN_MANAGER_URL", "http://coins.local/")

	c, err := fromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"USD", "EUR", "GBP"}, c.FiatSymbols)
	assert.Equal(t, []string{"kraken", "bitfinex"}, c.EnabledExchanges)
	assert.Equal(t, 5*time.Second, c.ExchangeTimeout)
	assert.Equal(t, time.Minute, c.DefaultFetchInterval)
	assert.Equal(t, 8, c.WorkerConcurrency)
	assert.Equal(t, "0.0.0.0:5600", c.DaemonAddr())
	assert.Equal(t, "http://coins.local", c.CoinManagerURL)
}

func TestLoadMissingMandatory(t *testing.T) {
	setMandatory(t)
	t.Setenv("DB_DSN", "")
	_, err := fromEnv()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingEnv)
	assert.Contains(t, err.Error(), "DB_DSN")
}

func TestLoadInvalidValues(t *testing.T) {
	setMandatory(t)
	t.Setenv("EXCHANGE_TIMEOUT", "soon")
	_, err := fromEnv()
	assert.Error(t, err)

	setMandatory(t)
	t.Setenv("EXCHANGE_TIMEOUT", "")
	t.Setenv("WORKER_CONCURRENCY", "0")
	_, err = fromEnv()
	assert.Error(t, err)
}
