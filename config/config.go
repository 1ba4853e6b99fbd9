package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/nhs-screening/cohort-manager/pkg/messaging/redis"
	"github.com/nhs-screening/cohort-manager/pkg/worker"
)

type ServerConfig struct {
	Port           int           `yaml:"port" envconfig:"SERVER_PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" envconfig:"SERVER_MAX_HEADER_BYTES"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host" envconfig:"DB_HOST"`
	Port            int           `yaml:"port" envconfig:"DB_PORT"`
	User            string        `yaml:"user" envconfig:"DB_USER"`
	Password        string        `yaml:"password" envconfig:"DB_PASSWORD"`
	Name            string        `yaml:"name" envconfig:"DB_NAME"`
	SSLMode         string        `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"DB_CONN_MAX_LIFETIME"`
}

type RedisConfig struct {
	URL          string        `yaml:"url" envconfig:"REDIS_URL"`
	MaxRetries   int           `yaml:"max_retries" envconfig:"REDIS_MAX_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" envconfig:"REDIS_RETRY_BACKOFF"`
	PoolSize     int           `yaml:"pool_size" envconfig:"REDIS_POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" envconfig:"REDIS_MIN_IDLE_CONNS"`
}

// PipelineConfig bounds the processing engine: how many records validate in
// parallel, how many rule workers each record gets, and how store failures
// are retried.
type PipelineConfig struct {
	ScreeningName     string        `yaml:"screening_name" envconfig:"PIPELINE_SCREENING_NAME"`
	ScreeningID       int64         `yaml:"screening_id" envconfig:"PIPELINE_SCREENING_ID"`
	RecordConcurrency int           `yaml:"record_concurrency" envconfig:"PIPELINE_RECORD_CONCURRENCY"`
	RuleWorkers       int           `yaml:"rule_workers" envconfig:"PIPELINE_RULE_WORKERS"`
	RetryAttempts     int           `yaml:"retry_attempts" envconfig:"PIPELINE_RETRY_ATTEMPTS"`
	RetryDelay        time.Duration `yaml:"retry_delay" envconfig:"PIPELINE_RETRY_DELAY"`
	StoreTimeout      time.Duration `yaml:"store_timeout" envconfig:"PIPELINE_STORE_TIMEOUT"`
	ReferenceCacheTTL time.Duration `yaml:"reference_cache_ttl" envconfig:"PIPELINE_REFERENCE_CACHE_TTL"`
}

type OutboxConfig struct {
	BatchSize     int           `yaml:"batch_size" envconfig:"OUTBOX_BATCH_SIZE"`
	PollInterval  time.Duration `yaml:"poll_interval" envconfig:"OUTBOX_POLL_INTERVAL"`
	RetryAttempts int           `yaml:"retry_attempts" envconfig:"OUTBOX_RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `yaml:"retry_delay" envconfig:"OUTBOX_RETRY_DELAY"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" envconfig:"RATE_LIMIT_ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled" envconfig:"MONITORING_PROMETHEUS_ENABLED"`
	MetricsPath       string `yaml:"metrics_path" envconfig:"MONITORING_METRICS_PATH"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// LoadConfig reads config.yml from the usual locations, then lets COHORT_*
// environment variables override individual values.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	var config Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no file: defaults plus environment only
	} else if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("cohort", &config); err != nil {
		return nil, fmt.Errorf("failed to process environment overrides: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		// ahead of RecordConcurrency so validation fan-out never starves
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Pipeline.ScreeningName == "" {
		c.Pipeline.ScreeningName = "breast_screening"
	}
	if c.Pipeline.ScreeningID == 0 {
		c.Pipeline.ScreeningID = 1
	}
	if c.Pipeline.RecordConcurrency == 0 {
		c.Pipeline.RecordConcurrency = 10
	}
	if c.Pipeline.RuleWorkers == 0 {
		c.Pipeline.RuleWorkers = 8
	}
	if c.Pipeline.RetryAttempts == 0 {
		c.Pipeline.RetryAttempts = 2
	}
	if c.Pipeline.RetryDelay == 0 {
		c.Pipeline.RetryDelay = 50 * time.Millisecond
	}
	if c.Pipeline.StoreTimeout == 0 {
		c.Pipeline.StoreTimeout = 5 * time.Second
	}
	if c.Pipeline.ReferenceCacheTTL == 0 {
		c.Pipeline.ReferenceCacheTTL = 5 * time.Minute
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.PollInterval == 0 {
		c.Outbox.PollInterval = 5 * time.Second
	}
	if c.Outbox.RetryAttempts == 0 {
		c.Outbox.RetryAttempts = 3
	}
	if c.Outbox.RetryDelay == 0 {
		c.Outbox.RetryDelay = time.Second
	}
	if c.Monitoring.MetricsPath == "" {
		c.Monitoring.MetricsPath = "/metrics"
	}
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
