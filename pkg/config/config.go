package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Session struct {
		Timezone    string `yaml:"timezone"`
		Open        string `yaml:"open"`         // "09:30"
		Close       string `yaml:"close"`        // "16:00"
		EntryCutoff string `yaml:"entry_cutoff"` // offset from open, e.g. "2h30m"; empty = none
	} `yaml:"session"`
	Detection struct {
		OpeningWindow    time.Duration `yaml:"opening_window"`
		MinRangeBars     int           `yaml:"min_range_bars"`
		BreakoutPct      float64       `yaml:"breakout_pct"`
		GapMinPct        float64       `yaml:"gap_min_pct"`
		GapExpiryBars    int           `yaml:"gap_expiry_bars"`
		RetestExpiryBars int           `yaml:"retest_expiry_bars"`
		Resolutions      []string      `yaml:"resolutions"` // priority order, coarsest first
		VolLookback      int           `yaml:"vol_lookback"`
		VolSpikeRatio    float64       `yaml:"vol_spike_ratio"`
	} `yaml:"detection"`
	Targets struct {
		StopBuffer    float64       `yaml:"stop_buffer"`
		MinRisk       float64       `yaml:"min_risk"`
		T1Multiple    float64       `yaml:"t1_multiple"`
		T2MinMultiple float64       `yaml:"t2_min_multiple"`
		ExtremesTTL   time.Duration `yaml:"extremes_ttl"`
	} `yaml:"targets"`
	Trades struct {
		MaxHold time.Duration `yaml:"max_hold"`
	} `yaml:"trades"`
	Engine struct {
		TickInterval time.Duration `yaml:"tick_interval"`
		StaleAfter   time.Duration `yaml:"stale_after"`
		Symbols      []string      `yaml:"symbols"`
	} `yaml:"engine"`
	Bars struct {
		Backend string `yaml:"backend"` // memory or clickhouse
	} `yaml:"bars"`
	Alerts struct {
		Backend     string        `yaml:"backend"` // kafka, webhook, or both
		MaxAttempts int           `yaml:"max_attempts"`
		Backoff     time.Duration `yaml:"backoff"`
		MaxPerMin   float64       `yaml:"max_per_min"` // per-symbol flood guard, zero disables
		Webhook     struct {
			URL     string            `yaml:"url"`
			Timeout time.Duration     `yaml:"timeout"`
			Headers map[string]string `yaml:"headers"`
		} `yaml:"webhook"`
	} `yaml:"alerts"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Redis struct {
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		PoolTimeout  time.Duration `yaml:"pool_timeout"`
	} `yaml:"redis"`
	Feed struct {
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"feed"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if v := os.Getenv("FEED_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Engine.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("ALERTS_BACKEND"); v != "" {
		c.Alerts.Backend = v
	}
	if v := os.Getenv("ALERTS_WEBHOOK_URL"); v != "" {
		c.Alerts.Webhook.URL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Session.Timezone == "" {
		c.Session.Timezone = "America/New_York"
	}
	if c.Session.Open == "" {
		c.Session.Open = "09:30"
	}
	if c.Session.Close == "" {
		c.Session.Close = "16:00"
	}
	if c.Detection.OpeningWindow <= 0 {
		c.Detection.OpeningWindow = 10 * time.Minute
	}
	if c.Detection.MinRangeBars <= 0 {
		c.Detection.MinRangeBars = 2
	}
	if c.Detection.BreakoutPct <= 0 {
		c.Detection.BreakoutPct = 0.001
	}
	if c.Detection.GapMinPct <= 0 {
		c.Detection.GapMinPct = 0.002
	}
	if c.Detection.GapExpiryBars <= 0 {
		c.Detection.GapExpiryBars = 12
	}
	if c.Detection.RetestExpiryBars <= 0 {
		c.Detection.RetestExpiryBars = 24
	}
	if len(c.Detection.Resolutions) == 0 {
		c.Detection.Resolutions = []string{"5m", "3m", "2m", "1m"}
	}
	if c.Detection.VolLookback <= 0 {
		c.Detection.VolLookback = 20
	}
	if c.Detection.VolSpikeRatio <= 0 {
		c.Detection.VolSpikeRatio = 3.0
	}
	if c.Targets.T1Multiple <= 0 {
		c.Targets.T1Multiple = 2.0
	}
	if c.Targets.T2MinMultiple <= 0 {
		c.Targets.T2MinMultiple = 2.0
	}
	if c.Targets.ExtremesTTL <= 0 {
		c.Targets.ExtremesTTL = time.Hour
	}
	if c.Engine.TickInterval <= 0 {
		c.Engine.TickInterval = 15 * time.Second
	}
	if c.Engine.StaleAfter <= 0 {
		c.Engine.StaleAfter = 5 * time.Minute
	}
	if c.Bars.Backend == "" {
		c.Bars.Backend = "memory"
	}
	if c.Alerts.Backend == "" {
		c.Alerts.Backend = "webhook"
	}
	if c.Alerts.MaxAttempts <= 0 {
		c.Alerts.MaxAttempts = 3
	}
	if c.Alerts.Backoff <= 0 {
		c.Alerts.Backoff = 200 * time.Millisecond
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks cross-field rules the YAML tags cannot express.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("engine.symbols cannot be empty")
	}
	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		return fmt.Errorf("session.timezone: %w", err)
	}
	switch c.Bars.Backend {
	case "memory", "clickhouse":
	default:
		return fmt.Errorf("bars.backend must be 'memory' or 'clickhouse', got '%s'", c.Bars.Backend)
	}
	switch c.Alerts.Backend {
	case "kafka", "webhook", "both":
	default:
		return fmt.Errorf("alerts.backend must be 'kafka', 'webhook' or 'both', got '%s'", c.Alerts.Backend)
	}
	if c.Alerts.Backend != "kafka" && c.Alerts.Webhook.URL == "" {
		return fmt.Errorf("alerts.webhook.url is required for backend '%s'", c.Alerts.Backend)
	}
	if c.Alerts.Backend != "webhook" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers are required for backend '%s'", c.Alerts.Backend)
	}
	if c.Bars.Backend == "memory" && c.Feed.APIKey == "" {
		return fmt.Errorf("feed.api_key is required for the memory bars backend")
	}
	for _, clock := range []string{c.Session.Open, c.Session.Close} {
		var h, m int
		if _, err := fmt.Sscanf(clock, "%d:%d", &h, &m); err != nil {
			return fmt.Errorf("session clock '%s' must be HH:MM", clock)
		}
	}
	if c.Session.EntryCutoff != "" {
		if _, err := time.ParseDuration(c.Session.EntryCutoff); err != nil {
			return fmt.Errorf("session.entry_cutoff: %w", err)
		}
	}
	for _, r := range c.Detection.Resolutions {
		switch r {
		case "1m", "2m", "3m", "5m":
		default:
			return fmt.Errorf("detection.resolutions contains unsupported '%s'", r)
		}
	}
	return nil
}
