package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"autopromo/internal/core/domain"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Scheduler struct {
		Enabled                 bool            `yaml:"enabled"`
		Interval                time.Duration   `yaml:"interval"`
		MaxConcurrentPromotions int             `yaml:"max_concurrent_promotions"`
		PromotionWindow         time.Duration   `yaml:"promotion_window"`
		PerExperimentTimeout    time.Duration   `yaml:"per_experiment_timeout"`
		DispatchMinLevel        domain.Severity `yaml:"dispatch_min_level"`
	} `yaml:"scheduler"`

	Metrics struct {
		QueryTimeout time.Duration `yaml:"query_timeout"`
		CacheTTL     time.Duration `yaml:"cache_ttl"`
	} `yaml:"metrics"`

	Rules struct {
		ActivePreset string                  `yaml:"active_preset"`
		Presets      []domain.PromotionRules `yaml:"presets"`
	} `yaml:"rules"`

	Promotion struct {
		LockTTL time.Duration `yaml:"lock_ttl"`
	} `yaml:"promotion"`

	Notifications struct {
		DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
		RetryAttempts   int           `yaml:"retry_attempts"`
		Subscribers     []Subscriber  `yaml:"subscribers"`
	} `yaml:"notifications"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Postgres struct {
		Enabled bool   `yaml:"enabled"`
		DSN     string `yaml:"dsn"`
	} `yaml:"postgres"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"rate_limiting"`
}

// Subscriber mirrors domain.Subscriber for YAML loading.
type Subscriber struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Channel     string          `yaml:"channel"`
	MinLevel    domain.Severity `yaml:"min_level"`
	Experiments []string        `yaml:"experiments"`
}

// ActiveRules resolves the configured preset at evaluation time.
func (c *Config) ActiveRules() (domain.PromotionRules, error) {
	for _, preset := range c.Rules.Presets {
		if preset.Name == c.Rules.ActivePreset {
			return preset, nil
		}
	}
	return domain.PromotionRules{}, fmt.Errorf("unknown rules preset %q", c.Rules.ActivePreset)
}

// DomainSubscribers converts configured subscribers to domain form.
func (c *Config) DomainSubscribers() []domain.Subscriber {
	subs := make([]domain.Subscriber, 0, len(c.Notifications.Subscribers))
	for _, s := range c.Notifications.Subscribers {
		level := s.MinLevel
		if level == "" {
			level = domain.SeverityWarning
		}
		subs = append(subs, domain.Subscriber{
			ID:          s.ID,
			Name:        s.Name,
			Channel:     s.Channel,
			MinLevel:    level,
			Experiments: s.Experiments,
		})
	}
	return subs
}

// Validate checks that configuration values are within acceptable ranges.
// It collects every violation so a malformed config is reported in full.
func (c *Config) Validate() []error {
	var violations []error

	if c.Server.Address == "" {
		violations = append(violations, fmt.Errorf("server.address must not be empty"))
	}
	if c.Server.ReadTimeout <= 0 {
		violations = append(violations, fmt.Errorf("server.read_timeout must be > 0"))
	}
	if c.Server.WriteTimeout <= 0 {
		violations = append(violations, fmt.Errorf("server.write_timeout must be > 0"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		violations = append(violations, fmt.Errorf("server.shutdown_timeout must be > 0"))
	}

	if c.Scheduler.Interval <= 0 {
		violations = append(violations, fmt.Errorf("scheduler.interval must be > 0"))
	}
	if c.Scheduler.MaxConcurrentPromotions <= 0 {
		violations = append(violations, fmt.Errorf("scheduler.max_concurrent_promotions must be > 0"))
	}
	if c.Scheduler.PromotionWindow <= 0 {
		violations = append(violations, fmt.Errorf("scheduler.promotion_window must be > 0"))
	}
	if c.Scheduler.PerExperimentTimeout <= 0 {
		violations = append(violations, fmt.Errorf("scheduler.per_experiment_timeout must be > 0"))
	}

	if c.Metrics.QueryTimeout <= 0 {
		violations = append(violations, fmt.Errorf("metrics.query_timeout must be > 0"))
	}
	if c.Metrics.CacheTTL <= 0 {
		violations = append(violations, fmt.Errorf("metrics.cache_ttl must be > 0"))
	}

	if c.Promotion.LockTTL <= 0 {
		violations = append(violations, fmt.Errorf("promotion.lock_ttl must be > 0"))
	}

	if len(c.Rules.Presets) == 0 {
		violations = append(violations, fmt.Errorf("rules.presets must contain at least one preset"))
	}
	if _, err := c.ActiveRules(); err != nil {
		violations = append(violations, fmt.Errorf("rules.active_preset: %w", err))
	}
	for _, preset := range c.Rules.Presets {
		for _, v := range preset.Validate() {
			violations = append(violations, fmt.Errorf("rules.presets[%s]: %w", preset.Name, v))
		}
	}

	if c.Notifications.DeliveryTimeout <= 0 {
		violations = append(violations, fmt.Errorf("notifications.delivery_timeout must be > 0"))
	}
	if c.Notifications.RetryAttempts < 0 {
		violations = append(violations, fmt.Errorf("notifications.retry_attempts must be >= 0"))
	}

	if c.Logging.Level == "" {
		violations = append(violations, fmt.Errorf("logging.level must not be empty"))
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			violations = append(violations, fmt.Errorf("redis.address must not be empty when redis.enabled=true"))
		}
		if c.Redis.PoolSize <= 0 {
			violations = append(violations, fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true"))
		}
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		violations = append(violations, fmt.Errorf("postgres.dsn must not be empty when postgres.enabled=true"))
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			violations = append(violations, fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled"))
		}
		if c.RateLimiting.Burst <= 0 {
			violations = append(violations, fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled"))
		}
	}

	return violations
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if violations := cfg.Validate(); len(violations) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(violations...))
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Interval = 15 * time.Minute
	cfg.Scheduler.MaxConcurrentPromotions = 3
	cfg.Scheduler.PromotionWindow = time.Hour
	cfg.Scheduler.PerExperimentTimeout = 30 * time.Second
	cfg.Scheduler.DispatchMinLevel = domain.SeverityWarning

	cfg.Metrics.QueryTimeout = 10 * time.Second
	cfg.Metrics.CacheTTL = time.Minute

	cfg.Rules.ActivePreset = "conservative"
	cfg.Rules.Presets = []domain.PromotionRules{
		domain.ConservativeRules(),
		domain.AggressiveRules(),
	}

	cfg.Promotion.LockTTL = 30 * time.Second

	cfg.Notifications.DeliveryTimeout = 5 * time.Second
	cfg.Notifications.RetryAttempts = 2

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Postgres.Enabled = false

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100
	cfg.RateLimiting.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("AUTOPROMO_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("AUTOPROMO_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if preset := os.Getenv("AUTOPROMO_RULES_PRESET"); preset != "" {
		c.Rules.ActivePreset = preset
	}
	if addr := os.Getenv("AUTOPROMO_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if dsn := os.Getenv("AUTOPROMO_POSTGRES_DSN"); dsn != "" {
		c.Postgres.DSN = dsn
	}
}
