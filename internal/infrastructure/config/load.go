package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"orderflow/internal/domain/model"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, then
// parses durations.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Применяем переменные окружения (переопределяют значения из файла)
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	// Парсим duration'ы
	durations := []struct {
		name string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"server.read_timeout", cfg.Server.ReadTimeoutStr, 10 * time.Second, &cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeoutStr, 10 * time.Second, &cfg.Server.WriteTimeout},
		{"server.idle_timeout", cfg.Server.IdleTimeoutStr, 120 * time.Second, &cfg.Server.IdleTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutStr, 30 * time.Second, &cfg.Server.ShutdownTimeout},
		{"postgresql.conn_max_lifetime", cfg.PostgreSQL.ConnMaxLifetimeStr, 30 * time.Minute, &cfg.PostgreSQL.ConnMaxLifetime},
		{"binance.request_timeout", cfg.Binance.RequestTimeoutStr, 5 * time.Second, &cfg.Binance.RequestTimeout},
		{"test_generator.interval", cfg.TestGenerator.IntervalStr, 200 * time.Millisecond, &cfg.TestGenerator.Interval},
		{"engine.seal_delay", cfg.Engine.SealDelayStr, 2 * time.Second, &cfg.Engine.SealDelay},
		{"engine.candle_throttle", cfg.Engine.CandleThrottleStr, 250 * time.Millisecond, &cfg.Engine.CandleThrottle},
		{"engine.depth_interval", cfg.Engine.DepthIntervalStr, 250 * time.Millisecond, &cfg.Engine.DepthInterval},
		{"engine.imbalance_window", cfg.Engine.ImbalanceWindowStr, time.Minute, &cfg.Engine.ImbalanceWindow},
		{"engine.imbalance_bucket", cfg.Engine.ImbalanceBucketStr, time.Second, &cfg.Engine.ImbalanceBucket},
		{"engine.cascade_window", cfg.Engine.CascadeWindowStr, 10 * time.Second, &cfg.Engine.CascadeWindow},
		{"engine.cascade_bucket", cfg.Engine.CascadeBucketStr, time.Second, &cfg.Engine.CascadeBucket},
		{"engine.tick_interval", cfg.Engine.TickIntervalStr, time.Second, &cfg.Engine.TickInterval},
		{"engine.snapshot_timeout", cfg.Engine.SnapshotTimeoutStr, 5 * time.Second, &cfg.Engine.SnapshotTimeout},
		{"engine.resync_min_backoff", cfg.Engine.ResyncMinBackoffStr, time.Second, &cfg.Engine.ResyncMinBackoff},
		{"engine.resync_max_backoff", cfg.Engine.ResyncMaxBackoffStr, 30 * time.Second, &cfg.Engine.ResyncMaxBackoff},
		{"alerts.baseline_max_age", cfg.Alerts.BaselineMaxAgeStr, 26 * time.Hour, &cfg.Alerts.BaselineMaxAge},
		{"alerts.retry_interval", cfg.Alerts.RetryIntervalStr, time.Minute, &cfg.Alerts.RetryInterval},
		{"alerts.stats_timeout", cfg.Alerts.StatsTimeoutStr, 5 * time.Second, &cfg.Alerts.StatsTimeout},
		{"data_retention.redis_ttl", cfg.DataRetention.RedisTTLStr, time.Minute, &cfg.DataRetention.RedisTTL},
		{"data_retention.flush_interval", cfg.DataRetention.FlushIntervalStr, time.Second, &cfg.DataRetention.FlushInterval},
		{"data_retention.liquidations", cfg.DataRetention.LiquidationsStr, 24 * time.Hour, &cfg.DataRetention.Liquidations},
		{"data_retention.warm_start", cfg.DataRetention.WarmStartStr, 0, &cfg.DataRetention.WarmStart},
		{"stream.ping_period", cfg.Stream.PingPeriodStr, 30 * time.Second, &cfg.Stream.PingPeriod},
		{"stream.pong_wait", cfg.Stream.PongWaitStr, 60 * time.Second, &cfg.Stream.PongWait},
		{"stream.write_wait", cfg.Stream.WriteWaitStr, 10 * time.Second, &cfg.Stream.WriteWait},
	}
	for _, d := range durations {
		if d.raw == "" {
			*d.dst = d.def
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.PostgreSQL.Port == 0 {
		cfg.PostgreSQL.Port = 5432
	}
	if cfg.PostgreSQL.SSLMode == "" {
		cfg.PostgreSQL.SSLMode = "disable"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Mode == "" {
		cfg.Mode = model.LiveMode.String()
	}
	if cfg.Binance.StreamURL == "" {
		cfg.Binance.StreamURL = "wss://fstream.binance.com"
	}
	if cfg.Binance.RESTURL == "" {
		cfg.Binance.RESTURL = "https://fapi.binance.com"
	}
	if len(cfg.TradingPairs) == 0 {
		cfg.TradingPairs = []string{"BTCUSDT", "ETHUSDT"}
	}
	for i, p := range cfg.TradingPairs {
		cfg.TradingPairs[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	if cfg.Engine.BaseTimeframe == "" {
		cfg.Engine.BaseTimeframe = "1m"
	}
	if cfg.Engine.SnapshotLimit == 0 {
		cfg.Engine.SnapshotLimit = 1000
	}
	if cfg.Alerts.ThresholdPct == 0 {
		cfg.Alerts.ThresholdPct = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	if _, err := model.ParseDataMode(c.Mode); err != nil {
		return err
	}
	base, err := model.ParseTimeframe(c.Engine.BaseTimeframe)
	if err != nil {
		return fmt.Errorf("engine.base_timeframe: %w", err)
	}
	for _, raw := range c.Engine.Timeframes {
		tf, err := model.ParseTimeframe(raw)
		if err != nil {
			return fmt.Errorf("engine.timeframes: %w", err)
		}
		if tf.Duration()%base.Duration() != 0 {
			return fmt.Errorf("engine.timeframes: %w: %s is not a multiple of %s", model.ErrInvalidTimeframe, tf, base)
		}
	}
	for symbol, scale := range c.Engine.PriceScales {
		if scale <= 0 {
			return fmt.Errorf("engine.price_scales.%s: %w", symbol, model.ErrInvalidPriceScale)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// PostgreSQL
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.PostgreSQL.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.PostgreSQL.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.PostgreSQL.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.PostgreSQL.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.PostgreSQL.Database = v
	}

	// Redis
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Exchanges
	if v := os.Getenv("EXCHANGE1_HOST"); v != "" && len(cfg.Exchanges) > 0 {
		cfg.Exchanges[0].Host = v
	}
	if v := os.Getenv("EXCHANGE2_HOST"); v != "" && len(cfg.Exchanges) > 1 {
		cfg.Exchanges[1].Host = v
	}
	if v := os.Getenv("EXCHANGE3_HOST"); v != "" && len(cfg.Exchanges) > 2 {
		cfg.Exchanges[2].Host = v
	}
	if v := os.Getenv("BINANCE_STREAM_URL"); v != "" {
		cfg.Binance.StreamURL = v
	}
	if v := os.Getenv("BINANCE_REST_URL"); v != "" {
		cfg.Binance.RESTURL = v
	}

	if v := os.Getenv("TRADING_PAIRS"); v != "" {
		cfg.TradingPairs = strings.Split(v, ",")
	}
	if v := os.Getenv("DATA_MODE"); v != "" {
		cfg.Mode = v
	}

	// Server
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgreSQL.Host, c.PostgreSQL.Port, c.PostgreSQL.User,
		c.PostgreSQL.Password, c.PostgreSQL.Database, c.PostgreSQL.SSLMode,
	)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// DataMode returns the validated initial mode.
func (c *Config) DataMode() model.DataMode {
	m, _ := model.ParseDataMode(c.Mode)
	return m
}

// Timeframes returns the base timeframe and the configured consumer
// timeframes, base first. Call after Load.
func (c *Config) Timeframes() (model.Timeframe, []model.Timeframe) {
	base, _ := model.ParseTimeframe(c.Engine.BaseTimeframe)
	out := []model.Timeframe{base}
	for _, raw := range c.Engine.Timeframes {
		tf, _ := model.ParseTimeframe(raw)
		if tf != base {
			out = append(out, tf)
		}
	}
	return base, out
}
