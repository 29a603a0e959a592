// Copyright 2025 James Ross
// Package config loads the plugin's YAML configuration via viper, applying
// defaults and validating the result before any queue starts.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage selects the storage.Adapter backing every queue.
type Storage struct {
	Backend   string `mapstructure:"backend"` // "memory" or "redis"
	KeyPrefix string `mapstructure:"key_prefix"`
	Redis     Redis  `mapstructure:"redis"`
}

type Redis struct {
	URL          string        `mapstructure:"url"`
	Database     int           `mapstructure:"database"`
	Password     string        `mapstructure:"password"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CircuitBreaker configures the breaker wrapping Redis Dequeue/UpdateJob.
type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

// Queue is one entry of the `queues` list: per-queue overrides of the
// plugin-wide defaults. A zero Concurrency or Timeout falls back to
// DefaultConcurrency or DefaultTimeout.
// Queues is a list rather than a name-keyed map so that Name ordering in
// the config file is preserved verbatim through to ListQueues (spec §4.5)
// instead of being scrambled by Go's unspecified map iteration order.
// MaxRetries is a *int: absent from the YAML entry it stays nil and the
// queue inherits DefaultMaxRetries; present as 0 it pins this queue to no
// retries (spec §8) instead of silently falling back to the default.
type Queue struct {
	Name             string        `mapstructure:"name"`
	Concurrency      int           `mapstructure:"concurrency"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       *int          `mapstructure:"max_retries"`
	ReconcileOnStart bool          `mapstructure:"reconcile_on_start"`
}

type Observability struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	Tracing     Tracing       `mapstructure:"tracing"`
	PollPeriod  time.Duration `mapstructure:"poll_period"`
}

type Tracing struct {
	Enabled  bool    `mapstructure:"enabled"`
	Endpoint string  `mapstructure:"endpoint"`
	Insecure bool    `mapstructure:"insecure"`
	Sampling float64 `mapstructure:"sampling"`
}

// Webhook is one outbound event subscription (spec §4.6).
type Webhook struct {
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Events struct {
	NATSURL        string    `mapstructure:"nats_url"`
	SubjectPrefix  string    `mapstructure:"subject_prefix"`
	Webhooks       []Webhook `mapstructure:"webhooks"`
}

// FileWatch configures the optional sample filesystem-scan producer.
type FileWatch struct {
	Enabled          bool          `mapstructure:"enabled"`
	ScanDir          string        `mapstructure:"scan_dir"`
	IncludeGlobs     []string      `mapstructure:"include_globs"`
	ExcludeGlobs     []string      `mapstructure:"exclude_globs"`
	Queue            string        `mapstructure:"queue"`
	JobType          string        `mapstructure:"job_type"`
	Interval         time.Duration `mapstructure:"interval"`
	HighPriorityExts []string      `mapstructure:"high_priority_exts"`
}

// Config is the plugin-wide configuration consumed at startup.
type Config struct {
	ServerID           string           `mapstructure:"server_id"`
	Storage            Storage        `mapstructure:"storage"`
	CircuitBreaker     CircuitBreaker `mapstructure:"circuit_breaker"`
	Queues             []Queue        `mapstructure:"queues"`
	DefaultConcurrency int            `mapstructure:"default_concurrency"`
	DefaultTimeout     time.Duration  `mapstructure:"default_timeout"`
	DefaultMaxRetries  int            `mapstructure:"default_max_retries"`
	Observability      Observability  `mapstructure:"observability"`
	Events             Events         `mapstructure:"events"`
	FileWatch          FileWatch      `mapstructure:"filewatch"`
}

func defaultConfig() *Config {
	return &Config{
		ServerID: "queueengine",
		Storage: Storage{
			Backend:   "memory",
			KeyPrefix: "queueengine:",
			Redis: Redis{
				URL:          "redis://localhost:6379/0",
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           30 * time.Second,
			CooldownPeriod:   5 * time.Second,
			MinSamples:       10,
		},
		Queues:             []Queue{},
		DefaultConcurrency: 5,
		DefaultTimeout:     30 * time.Second,
		DefaultMaxRetries:  3,
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     Tracing{Enabled: false},
			PollPeriod:  2 * time.Second,
		},
		Events: Events{
			SubjectPrefix: "queue:job:",
		},
		FileWatch: FileWatch{
			Interval: 5 * time.Second,
			JobType:  "process",
		},
	}
}

// Load reads configuration from a YAML file (if it exists) layered over
// defaults, with environment variable overrides (e.g.
// QUEUEENGINE_DEFAULT_CONCURRENCY).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("queueengine")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("server_id", def.ServerID)
	v.SetDefault("storage.backend", def.Storage.Backend)
	v.SetDefault("storage.key_prefix", def.Storage.KeyPrefix)
	v.SetDefault("storage.redis.url", def.Storage.Redis.URL)
	v.SetDefault("storage.redis.dial_timeout", def.Storage.Redis.DialTimeout)
	v.SetDefault("storage.redis.read_timeout", def.Storage.Redis.ReadTimeout)
	v.SetDefault("storage.redis.write_timeout", def.Storage.Redis.WriteTimeout)
	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)
	v.SetDefault("default_concurrency", def.DefaultConcurrency)
	v.SetDefault("default_timeout", def.DefaultTimeout)
	v.SetDefault("default_max_retries", def.DefaultMaxRetries)
	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.poll_period", def.Observability.PollPeriod)
	v.SetDefault("events.subject_prefix", def.Events.SubjectPrefix)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Storage.Backend != "memory" && cfg.Storage.Backend != "redis" {
		return fmt.Errorf("storage.backend must be \"memory\" or \"redis\", got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "redis" && cfg.Storage.Redis.URL == "" {
		return fmt.Errorf("storage.redis.url is required when storage.backend is \"redis\"")
	}
	if cfg.DefaultConcurrency < 1 {
		return fmt.Errorf("default_concurrency must be >= 1")
	}
	if cfg.DefaultTimeout < time.Second {
		return fmt.Errorf("default_timeout must be >= 1s")
	}
	if cfg.DefaultMaxRetries < 0 {
		return fmt.Errorf("default_max_retries must be >= 0")
	}
	seen := make(map[string]bool, len(cfg.Queues))
	for i, q := range cfg.Queues {
		if q.Name == "" {
			return fmt.Errorf("queues[%d].name is required", i)
		}
		if seen[q.Name] {
			return fmt.Errorf("queues[%d].name %q is duplicated", i, q.Name)
		}
		seen[q.Name] = true
		if q.Concurrency < 0 {
			return fmt.Errorf("queues[%s].concurrency must be >= 0", q.Name)
		}
		if q.MaxRetries != nil && *q.MaxRetries < 0 {
			return fmt.Errorf("queues[%s].max_retries must be >= 0", q.Name)
		}
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	for i, wh := range cfg.Events.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("events.webhooks[%d].url is required", i)
		}
	}
	return nil
}
