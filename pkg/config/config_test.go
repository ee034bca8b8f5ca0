package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"autopromo/internal/core/domain"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if violations := cfg.Validate(); len(violations) > 0 {
		t.Fatalf("default config should be valid, got: %v", violations)
	}
}

func TestValidate_CollectsEveryViolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Address = ""
	cfg.Scheduler.Interval = 0
	cfg.Promotion.LockTTL = 0

	violations := cfg.Validate()
	if len(violations) != 3 {
		t.Fatalf("expected 3 violations, got %d: %v", len(violations), violations)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"zero scheduler interval", func(c *Config) { c.Scheduler.Interval = 0 }},
		{"zero max concurrent promotions", func(c *Config) { c.Scheduler.MaxConcurrentPromotions = 0 }},
		{"zero metrics query timeout", func(c *Config) { c.Metrics.QueryTimeout = 0 }},
		{"zero lock ttl", func(c *Config) { c.Promotion.LockTTL = 0 }},
		{"no rule presets", func(c *Config) { c.Rules.Presets = nil }},
		{"unknown active preset", func(c *Config) { c.Rules.ActivePreset = "bogus" }},
		{"negative retry attempts", func(c *Config) { c.Notifications.RetryAttempts = -1 }},
		{"redis enabled without address", func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" }},
		{"postgres enabled without dsn", func(c *Config) { c.Postgres.Enabled = true; c.Postgres.DSN = "" }},
		{"rate limiting enabled without rps", func(c *Config) { c.RateLimiting.Enabled = true; c.RateLimiting.RequestsPerSecond = 0 }},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if violations := cfg.Validate(); len(violations) == 0 {
				t.Error("expected validation to fail")
			}
		})
	}
}

func TestValidate_DisabledBackendsAllowZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redis.Enabled = false
	cfg.Redis.Address = ""
	cfg.Redis.PoolSize = 0
	cfg.Postgres.Enabled = false
	cfg.Postgres.DSN = ""
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 0
	cfg.RateLimiting.Burst = 0

	if violations := cfg.Validate(); len(violations) > 0 {
		t.Fatalf("disabled backends should not be validated, got: %v", violations)
	}
}

func TestActiveRules(t *testing.T) {
	cfg := DefaultConfig()

	rules, err := cfg.ActiveRules()
	if err != nil {
		t.Fatalf("ActiveRules() error = %v", err)
	}
	if rules.Name != "conservative" {
		t.Errorf("active preset = %q, want conservative", rules.Name)
	}

	cfg.Rules.ActivePreset = "aggressive"
	rules, err = cfg.ActiveRules()
	if err != nil {
		t.Fatalf("ActiveRules() error = %v", err)
	}
	if rules.Name != "aggressive" {
		t.Errorf("active preset = %q, want aggressive", rules.Name)
	}

	cfg.Rules.ActivePreset = "missing"
	if _, err := cfg.ActiveRules(); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("server address = %q, want default :8080", cfg.Server.Address)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  address: ":9090"
scheduler:
  interval: 5m
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("server address = %q, want :9090", cfg.Server.Address)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Errorf("scheduler interval = %v, want 5m", cfg.Scheduler.Interval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Promotion.LockTTL != 30*time.Second {
		t.Errorf("lock ttl = %v, want default 30s", cfg.Promotion.LockTTL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUTOPROMO_SERVER_ADDRESS", ":7070")
	t.Setenv("AUTOPROMO_RULES_PRESET", "aggressive")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Errorf("server address = %q, want :7070", cfg.Server.Address)
	}
	if cfg.Rules.ActivePreset != "aggressive" {
		t.Errorf("active preset = %q, want aggressive", cfg.Rules.ActivePreset)
	}
}

func TestDomainSubscribers_DefaultMinLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Notifications.Subscribers = []Subscriber{
		{ID: "sub-1", Channel: "ops"},
		{ID: "sub-2", Channel: "oncall", MinLevel: domain.SeverityCritical},
	}

	subs := cfg.DomainSubscribers()
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", len(subs))
	}
	if subs[0].MinLevel != domain.SeverityWarning {
		t.Errorf("default min level = %s, want warning", subs[0].MinLevel)
	}
	if subs[1].MinLevel != domain.SeverityCritical {
		t.Errorf("explicit min level = %s, want critical", subs[1].MinLevel)
	}
}
