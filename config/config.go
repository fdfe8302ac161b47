package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the matching environment variable is unset
const (
	DefaultFiatSymbols       = "USD"
	DefaultExchangeTimeout   = 300 * time.Second
	DefaultFetchInterval     = 300 * time.Second
	DefaultMarketStaleDays   = 7
	DefaultHTTPCacheTTL      = 120 * time.Second
	DefaultDaemonHost        = "127.0.0.1"
	DefaultDaemonPort        = 5500
	DefaultAPIListen         = ":8080"
	DefaultMetricsListen     = ":9100"
	DefaultWorkerConcurrency = 4
	DefaultSchedulerTick     = 10 * time.Second
	DefaultPollerTick        = 10 * time.Second
	DefaultMeasurementPairs  = "market_pairs"
	DefaultMeasurementFiat   = "fiat_prices"
	DefaultPidFile           = "/tmp/marketmanager.pid"
)

// ErrMissingEnv is returned when a mandatory environment variable is unset
var ErrMissingEnv = errors.New("missing mandatory environment variable")

// Config holds every runtime setting for the daemon, the API server and the
// admin CLI. All values come from the environment, optionally seeded from a
// .env file.
type Config struct {
	FiatSymbols          []string
	ExchangeTimeout      time.Duration
	DefaultFetchInterval time.Duration
	MarketStaleDays      int
	EnabledExchanges     []string

	DBDSN string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	RedisAddr      string
	CoinManagerURL string

	HTTPCacheTTL  time.Duration
	APIListen     string
	MetricsListen string

	DaemonHost string
	DaemonPort int
	PidFile    string

	WorkerConcurrency int
	SchedulerTick     time.Duration
	PollerTick        time.Duration

	MeasurementPairs string
	MeasurementFiat  string

	LogLevel  string
	LogFormat string
}

// Load reads the process environment into a Config. A .env file in the
// working directory is applied first when present; real environment variables
// win over file entries.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv()
}

// LoadFile behaves like Load but reads the named env file
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("loading env file %s: %w", path, err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	c := &Config{
		FiatSymbols:      envList("FIAT_SYMBOLS", DefaultFiatSymbols),
		EnabledExchanges: envList("ENABLED_EXCHANGES", ""),
		DBDSN:            os.Getenv("DB_DSN"),
		InfluxURL:        os.Getenv("INFLUX_URL"),
		InfluxToken:      os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:        os.Getenv("INFLUX_ORG"),
		InfluxBucket:     os.Getenv("INFLUX_BUCKET"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		CoinManagerURL:   strings.TrimRight(os.Getenv("COIN_MANAGER_URL"), "/"),
		APIListen:        envString("API_LISTEN", DefaultAPIListen),
		MetricsListen:    envString("METRICS_LISTEN", DefaultMetricsListen),
		DaemonHost:       envString("DAEMON_HOST", DefaultDaemonHost),
		PidFile:          envString("DAEMON_PID_FILE", DefaultPidFile),
		MeasurementPairs: envString("MEASUREMENT_PAIRS", DefaultMeasurementPairs),
		MeasurementFiat:  envString("MEASUREMENT_FIAT", DefaultMeasurementFiat),
		LogLevel:         envString("LOG_LEVEL", "info"),
		LogFormat:        envString("LOG_FORMAT", "console"),
	}

	var err error
	if c.ExchangeTimeout, err = envSeconds("EXCHANGE_TIMEOUT", DefaultExchangeTimeout); err != nil {
		return nil, err
	}
	if c.DefaultFetchInterval, err = envSeconds("EXCHANGE_DEFAULT_FETCH_INTERVAL", DefaultFetchInterval); err != nil {
		return nil, err
	}
	if c.HTTPCacheTTL, err = envSeconds("HTTP_CACHE_TTL", DefaultHTTPCacheTTL); err != nil {
		return nil, err
	}
	if c.SchedulerTick, err = envSeconds("SCHEDULER_TICK", DefaultSchedulerTick); err != nil {
		return nil, err
	}
	if c.PollerTick, err = envSeconds("POLLER_TICK", DefaultPollerTick); err != nil {
		return nil, err
	}
	if c.MarketStaleDays, err = envInt("MARKET_STALE_DAYS", DefaultMarketStaleDays); err != nil {
		return nil, err
	}
	if c.WorkerConcurrency, err = envInt("WORKER_CONCURRENCY", DefaultWorkerConcurrency); err != nil {
		return nil, err
	}
	if c.DaemonPort, err = envInt("DAEMON_PORT", DefaultDaemonPort); err != nil {
		return nil, err
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	for _, m := range []struct {
		key   string
		value string
	}{
		{"DB_DSN", c.DBDSN},
		{"INFLUX_URL", c.InfluxURL},
		{"INFLUX_TOKEN", c.InfluxToken},
		{"INFLUX_ORG", c.InfluxOrg},
		{"INFLUX_BUCKET", c.InfluxBucket},
		{"REDIS_ADDR", c.RedisAddr},
	} {
		if m.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingEnv, m.key)
		}
	}
	if len(c.FiatSymbols) == 0 {
		return fmt.Errorf("%w: FIAT_SYMBOLS", ErrMissingEnv)
	}
	if c.WorkerConcurrency <= 0 {
		return errors.New("WORKER_CONCURRENCY must be positive")
	}
	if c.ExchangeTimeout <= 0 {
		return errors.New("EXCHANGE_TIMEOUT must be positive")
	}
	if c.DefaultFetchInterval <= 0 {
		return errors.New("EXCHANGE_DEFAULT_FETCH_INTERVAL must be positive")
	}
	return nil
}

// DaemonAddr returns the control socket address as host:port
func (c *Config) DaemonAddr() string {
	return net.JoinHostPort(c.DaemonHost, strconv.Itoa(c.DaemonPort))
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %q", key, v)
	}
	return n, nil
}

func envSeconds(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid seconds value for %s: %q", key, v)
	}
	return time.Duration(n) * time.Second, nil
}

func envList(key, def string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for i := range parts {
		if s := strings.TrimSpace(parts[i]); s != "" {
			out = append(out, s)
		}
	}
	return out
}
