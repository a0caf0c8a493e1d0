package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// RiskConfig holds the risk evaluator thresholds.
type RiskConfig struct {
	DrawdownThreshold float64       `yaml:"drawdown_threshold" default:"0.15" validate:"gt=0,lt=1"`
	ScaleDownFactor   float64       `yaml:"scale_down_factor" default:"0.5" validate:"gt=0,lte=1"`
	ScaleDownWindow   time.Duration `yaml:"scale_down_window" default:"672h" validate:"gt=0"`
	DeployedCap       float64       `yaml:"deployed_cap" default:"0.25" validate:"gt=0,lte=1"`
	VixHaltLevel      float64       `yaml:"vix_halt_level" default:"45" validate:"gt=0"`
	VixHaltDuration   time.Duration `yaml:"vix_halt_duration" default:"48h" validate:"gte=0"`
}

// PlannerConfig holds strike selection and sizing policy.
type PlannerConfig struct {
	SpreadWidth        float64 `yaml:"spread_width" default:"25" validate:"gt=0"`
	CreditMin          float64 `yaml:"credit_min" default:"0.55" validate:"gte=0"`
	CreditMax          float64 `yaml:"credit_max" default:"0.70" validate:"gtefield=CreditMin"`
	MaxDelta           float64 `yaml:"max_delta" default:"0.12" validate:"gt=0,lte=1"`
	Contracts          int     `yaml:"contracts" validate:"gte=0"` // 0 sizes from the account
	MaxContracts       int     `yaml:"max_contracts" default:"10" validate:"gte=1"`
	MaxPositionPct     float64 `yaml:"max_position_pct" default:"0.25" validate:"gt=0,lte=1"`
	RequiredCleanWeeks int     `yaml:"required_clean_weeks" default:"3" validate:"gte=0"`
	AnchorITMPct       float64 `yaml:"anchor_itm_pct" default:"0.10" validate:"gte=0,lt=1"`
	AnchorMinDays      int     `yaml:"anchor_min_days" default:"60" validate:"gte=7"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		AllowOrigins    []string      `yaml:"allow_origins"`
		RateLimit       struct {
			Capacity     float64 `yaml:"capacity" default:"5"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"0.5"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logger struct {
		Level   string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format  string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output  string `yaml:"output" default:"stdout"`
		Collect struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
			Topic     string        `yaml:"topic" default:"regimedesk.logs"`
		} `yaml:"collect"`
	} `yaml:"logger"`
	Account struct {
		ID     string  `yaml:"id" default:"default" validate:"required"`
		Symbol string  `yaml:"symbol" default:"QQQ" validate:"required"`
		Limit  float64 `yaml:"limit" validate:"gte=0"` // 0 uses account equity
	} `yaml:"account"`
	Risk     RiskConfig    `yaml:"risk"`
	Planner  PlannerConfig `yaml:"planner"`
	Workflow struct {
		RecommendationTTL time.Duration `yaml:"recommendation_ttl" default:"144h" validate:"gt=0"`
	} `yaml:"workflow"`
	Execution struct {
		Mode              string        `yaml:"mode" default:"approval" validate:"oneof=direct approval"`
		Gateway           string        `yaml:"gateway" default:"paper" validate:"oneof=paper http"`
		Timeout           time.Duration `yaml:"timeout" validate:"required"` // zero is rejected
		URL               string        `yaml:"url" validate:"required_if=Gateway http"`
		APIKey            string        `yaml:"api_key"`
		RequireMarketOpen bool          `yaml:"require_market_open"`
		ReconcileOnCycle  bool          `yaml:"reconcile_on_cycle" default:"true"`
		PaperEquity       float64       `yaml:"paper_equity" default:"100000" validate:"gte=0"`
		Breaker           struct {
			MaxRequests         uint32        `yaml:"max_requests" default:"1"`
			Interval            time.Duration `yaml:"interval" default:"0s"`
			Timeout             time.Duration `yaml:"timeout" default:"60s"`
			ConsecutiveFailures uint32        `yaml:"consecutive_failures" default:"3"`
		} `yaml:"breaker"`
	} `yaml:"execution"`
	MarketData struct {
		Mode           string        `yaml:"mode" default:"http" validate:"oneof=mock http live"`
		URL            string        `yaml:"url" validate:"required_unless=Mode mock"`
		Timeout        time.Duration `yaml:"timeout" default:"5s"`
		MaxSnapshotAge time.Duration `yaml:"max_snapshot_age" default:"15m" validate:"gt=0"`
		ChainCacheTTL  time.Duration `yaml:"chain_cache_ttl" default:"30s"` // 0 disables
		Mock           struct {
			Price float64 `yaml:"price" default:"500"`
			VIX   float64 `yaml:"vix" default:"18"`
			IV    float64 `yaml:"iv" default:"0.2"`
		} `yaml:"mock"`
		Finnhub struct {
			Enabled        bool          `yaml:"enabled"`
			APIKey         string        `yaml:"api_key"`
			WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
			MaxRPS         int           `yaml:"max_rps" default:"20"`
		} `yaml:"finnhub"`
		QuoteTopic string `yaml:"quote_topic"`
	} `yaml:"market_data"`
	Store struct {
		Type string `yaml:"type" default:"memory" validate:"oneof=memory redis"`
	} `yaml:"store"`
	Redis struct {
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"regimedesk"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled            bool     `yaml:"enabled"`
		Brokers            []string `yaml:"brokers" validate:"required_if=Enabled true"`
		NotificationsTopic string   `yaml:"notifications_topic" default:"regimedesk.notifications"`
		RequiredAcks       int      `yaml:"required_acks" default:"-1"`
		Compression        string   `yaml:"compression" default:"gzip" validate:"oneof=none gzip snappy lz4 zstd"`
		Producer           struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"regimedesk"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"100"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		ViaQueue         bool          `yaml:"via_queue"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"regimedesk"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Queue struct {
		Workers       int           `yaml:"workers" default:"1"`
		RetryLimit    int           `yaml:"retry_limit" default:"5"`
		RetryDelay    time.Duration `yaml:"retry_delay" default:"10s"`
		MaxRetryDelay time.Duration `yaml:"max_retry_delay" default:"10m"`
		JobTimeout    time.Duration `yaml:"job_timeout" default:"30s"`
	} `yaml:"queue"`
	Notifications struct {
		Backends []string      `yaml:"backends" default:"[\"log\"]" validate:"dive,oneof=log kafka"`
		Timeout  time.Duration `yaml:"timeout" default:"3s"`
	} `yaml:"notifications"`
	Scheduler struct {
		Enabled   bool   `yaml:"enabled"`
		CycleSpec string `yaml:"cycle_spec" default:"0 45 15 * * FRI"`
		SweepSpec string `yaml:"sweep_spec" default:"0 0 * * * *"`
		Timezone  string `yaml:"timezone" default:"America/New_York"`
	} `yaml:"scheduler"`
	Lock struct {
		TTL  time.Duration `yaml:"ttl" default:"10m" validate:"gt=0"`
		Wait time.Duration `yaml:"wait" default:"30s"`
		Poll time.Duration `yaml:"poll" default:"100ms" validate:"gt=0"`
	} `yaml:"lock"`
	Calendar struct {
		Holidays []string `yaml:"holidays"` // YYYY-MM-DD; empty uses the built-in list
	} `yaml:"calendar"`
}

var validate = validator.New()

// Default returns a config with every default applied and nothing else.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("REGIME_ACCOUNT_ID"); v != "" {
		c.Account.ID = v
	}
	if v := os.Getenv("REGIME_EXECUTION_MODE"); v != "" {
		c.Execution.Mode = v
	}
	if v := os.Getenv("REGIME_GATEWAY_URL"); v != "" {
		c.Execution.URL = v
	}
	if v := os.Getenv("REGIME_GATEWAY_API_KEY"); v != "" {
		c.Execution.APIKey = v
	}
	if v := os.Getenv("REGIME_GATEWAY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Execution.Timeout = d
		}
	}
	if v := os.Getenv("REGIME_ACCOUNT_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Account.Limit = f
		}
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.MarketData.Finnhub.APIKey = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.MarketData.Finnhub.Enabled && c.MarketData.Finnhub.APIKey == "" {
		return fmt.Errorf("market_data.finnhub.api_key is required when finnhub is enabled")
	}
	if c.MarketData.Mode == "live" && !c.MarketData.Finnhub.Enabled && c.MarketData.QuoteTopic == "" {
		return fmt.Errorf("market_data.mode live needs finnhub or a quote_topic")
	}
	if c.MarketData.QuoteTopic != "" && !c.Kafka.Enabled {
		return fmt.Errorf("market_data.quote_topic requires kafka.enabled")
	}
	if c.ClickHouse.ViaQueue && c.Store.Type != "redis" {
		return fmt.Errorf("clickhouse.via_queue requires store.type redis")
	}
	for _, b := range c.Notifications.Backends {
		if b == "kafka" && !c.Kafka.Enabled {
			return fmt.Errorf("notifications backend kafka requires kafka.enabled")
		}
	}
	for _, h := range c.Calendar.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("calendar.holidays: %q: %w", h, err)
		}
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	return nil
}
