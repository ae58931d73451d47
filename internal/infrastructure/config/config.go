package config

import "time"

type Config struct {
	Server struct {
		Port               int           `yaml:"port"`
		ReadTimeoutStr     string        `yaml:"read_timeout"`
		WriteTimeoutStr    string        `yaml:"write_timeout"`
		IdleTimeoutStr     string        `yaml:"idle_timeout"`
		ShutdownTimeoutStr string        `yaml:"shutdown_timeout"`
		ReadTimeout        time.Duration `yaml:"-"`
		WriteTimeout       time.Duration `yaml:"-"`
		IdleTimeout        time.Duration `yaml:"-"`
		ShutdownTimeout    time.Duration `yaml:"-"`
	} `yaml:"server"`

	PostgreSQL struct {
		Enabled            bool          `yaml:"enabled"`
		Host               string        `yaml:"host"`
		Port               int           `yaml:"port"`
		User               string        `yaml:"user"`
		Password           string        `yaml:"password"`
		Database           string        `yaml:"database"`
		SSLMode            string        `yaml:"sslmode"`
		MaxOpenConns       int           `yaml:"max_open_conns"`
		MaxIdleConns       int           `yaml:"max_idle_conns"`
		ConnMaxLifetimeStr string        `yaml:"conn_max_lifetime"`
		ConnMaxLifetime    time.Duration `yaml:"-"`
	} `yaml:"postgresql"`

	Redis struct {
		Enabled      bool   `yaml:"enabled"`
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		Password     string `yaml:"password"`
		DB           int    `yaml:"db"`
		PoolSize     int    `yaml:"pool_size"`
		MinIdleConns int    `yaml:"min_idle_conns"`
	} `yaml:"redis"`

	// Mode is the initial data mode: live or test.
	Mode string `yaml:"mode"`

	Binance struct {
		Enabled           bool          `yaml:"enabled"`
		StreamURL         string        `yaml:"stream_url"`
		RESTURL           string        `yaml:"rest_url"`
		DepthSpeed        string        `yaml:"depth_speed"`
		Trades            bool          `yaml:"trades"`
		Depth             bool          `yaml:"depth"`
		Liquidations      bool          `yaml:"liquidations"`
		RequestTimeoutStr string        `yaml:"request_timeout"`
		RequestTimeout    time.Duration `yaml:"-"`
	} `yaml:"binance"`

	// Exchanges are line-oriented TCP feeds.
	Exchanges []struct {
		Name    string `yaml:"name"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
		Enabled bool   `yaml:"enabled"`
	} `yaml:"exchanges"`

	TestGenerator struct {
		IntervalStr string        `yaml:"interval"`
		Interval    time.Duration `yaml:"-"`
	} `yaml:"test_generator"`

	TradingPairs []string `yaml:"trading_pairs"`

	Engine struct {
		Shards              int                `yaml:"shards"`
		ShardBuffer         int                `yaml:"shard_buffer"`
		BaseTimeframe       string             `yaml:"base_timeframe"`
		Timeframes          []string           `yaml:"timeframes"`
		HistoryCapacity     int                `yaml:"history_capacity"`
		DefaultPriceScale   float64            `yaml:"default_price_scale"`
		PriceScales         map[string]float64 `yaml:"price_scales"`
		SealDelayStr        string             `yaml:"seal_delay"`
		CandleThrottleStr   string             `yaml:"candle_throttle"`
		DepthLevels         int                `yaml:"depth_levels"`
		DepthIntervalStr    string             `yaml:"depth_interval"`
		MaxPendingDeltas    int                `yaml:"max_pending_deltas"`
		ImbalanceWindowStr  string             `yaml:"imbalance_window"`
		ImbalanceBucketStr  string             `yaml:"imbalance_bucket"`
		ImbalanceHistory    int                `yaml:"imbalance_history"`
		CascadeWindowStr    string             `yaml:"cascade_window"`
		CascadeBucketStr    string             `yaml:"cascade_bucket"`
		CascadeThreshold    int64              `yaml:"cascade_threshold"`
		TickIntervalStr     string             `yaml:"tick_interval"`
		SnapshotLimit       int                `yaml:"snapshot_limit"`
		SnapshotTimeoutStr  string             `yaml:"snapshot_timeout"`
		ResyncMinBackoffStr string             `yaml:"resync_min_backoff"`
		ResyncMaxBackoffStr string             `yaml:"resync_max_backoff"`

		SealDelay        time.Duration `yaml:"-"`
		CandleThrottle   time.Duration `yaml:"-"`
		DepthInterval    time.Duration `yaml:"-"`
		ImbalanceWindow  time.Duration `yaml:"-"`
		ImbalanceBucket  time.Duration `yaml:"-"`
		CascadeWindow    time.Duration `yaml:"-"`
		CascadeBucket    time.Duration `yaml:"-"`
		TickInterval     time.Duration `yaml:"-"`
		SnapshotTimeout  time.Duration `yaml:"-"`
		ResyncMinBackoff time.Duration `yaml:"-"`
		ResyncMaxBackoff time.Duration `yaml:"-"`
	} `yaml:"engine"`

	Alerts struct {
		ThresholdPct      float64       `yaml:"threshold_pct"`
		BaselineMaxAgeStr string        `yaml:"baseline_max_age"`
		RetryIntervalStr  string        `yaml:"retry_interval"`
		StatsTimeoutStr   string        `yaml:"stats_timeout"`
		BaselineMaxAge    time.Duration `yaml:"-"`
		RetryInterval     time.Duration `yaml:"-"`
		StatsTimeout      time.Duration `yaml:"-"`
	} `yaml:"alerts"`

	// WarmStart is how much stored candle history is replayed on startup.
	DataRetention struct {
		RedisTTLStr      string        `yaml:"redis_ttl"`
		FlushIntervalStr string        `yaml:"flush_interval"`
		LiquidationsStr  string        `yaml:"liquidations"`
		WarmStartStr     string        `yaml:"warm_start"`
		RedisTTL         time.Duration `yaml:"-"`
		FlushInterval    time.Duration `yaml:"-"`
		Liquidations     time.Duration `yaml:"-"`
		WarmStart        time.Duration `yaml:"-"`
	} `yaml:"data_retention"`

	Stream struct {
		Buffer        int           `yaml:"buffer"`
		PingPeriodStr string        `yaml:"ping_period"`
		PongWaitStr   string        `yaml:"pong_wait"`
		WriteWaitStr  string        `yaml:"write_wait"`
		PingPeriod    time.Duration `yaml:"-"`
		PongWait      time.Duration `yaml:"-"`
		WriteWait     time.Duration `yaml:"-"`
	} `yaml:"stream"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}
