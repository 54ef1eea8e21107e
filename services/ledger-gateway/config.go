package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"attribledger/native/revenue"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the ledger gateway.
type Config struct {
	ListenAddress string           `yaml:"listen"`
	Environment   string           `yaml:"env"`
	DatabasePath  string           `yaml:"database"`
	LogFile       string           `yaml:"log_file"`
	Rounding      string           `yaml:"rounding_policy"`
	Settlement    SettlementConfig `yaml:"settlement"`
	Compliance    ComplianceConfig `yaml:"compliance"`
	Ingest        IngestConfig     `yaml:"ingest"`
}

// SettlementConfig configures the external settlement channel client.
type SettlementConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	Timeout     Duration `yaml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts"`
	BaseBackoff Duration `yaml:"base_backoff"`
	MaxBackoff  Duration `yaml:"max_backoff"`
}

// ComplianceConfig configures the periodic evaluation loop.
type ComplianceConfig struct {
	Interval       Duration `yaml:"interval"`
	ViolationFloor float64  `yaml:"violation_floor"`
	RecoveryFloor  float64  `yaml:"recovery_floor"`
}

// IngestConfig bounds the revenue webhook ingest rate.
type IngestConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() Config {
	return Config{
		ListenAddress: ":8490",
		Rounding:      string(revenue.RemainderToPlatform),
		Settlement: SettlementConfig{
			Timeout:     Duration{10 * time.Second},
			MaxAttempts: 5,
			BaseBackoff: Duration{time.Second},
			MaxBackoff:  Duration{30 * time.Second},
		},
		Compliance: ComplianceConfig{
			Interval:       Duration{time.Minute},
			ViolationFloor: 0.6,
			RecoveryFloor:  0.9,
		},
		Ingest: IngestConfig{
			RatePerSecond: 50,
			Burst:         100,
		},
	}
}

// LoadConfig reads and validates the YAML configuration at path. Unset fields
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a working gateway.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	if !revenue.RoundingPolicy(c.Rounding).Valid() {
		return fmt.Errorf("unknown rounding policy %q", c.Rounding)
	}
	if c.Settlement.MaxAttempts <= 0 {
		return fmt.Errorf("settlement max_attempts must be positive")
	}
	if c.Compliance.ViolationFloor <= 0 || c.Compliance.ViolationFloor > 1 {
		return fmt.Errorf("violation_floor must be in (0, 1]")
	}
	if c.Compliance.RecoveryFloor < c.Compliance.ViolationFloor || c.Compliance.RecoveryFloor > 1 {
		return fmt.Errorf("recovery_floor must be in [violation_floor, 1]")
	}
	return nil
}
