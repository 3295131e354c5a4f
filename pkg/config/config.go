// Package config loads and validates the indexer configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so values like "5s" parse from YAML and
// from default tags.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(dur)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Chain      ChainConfig      `yaml:"chain"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Display    DisplayConfig    `yaml:"display"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	ZonesFile  string           `yaml:"zones_file" default:"zones.yaml"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string   `yaml:"host" default:"0.0.0.0"`
	Port            int      `yaml:"port" default:"8080"`
	ReadTimeout     Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout    Duration `yaml:"write_timeout" default:"30s"`
	IdleTimeout     Duration `yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" default:"30s"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost" validate:"required"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user" default:"postgres"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"grid_mirror"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// ChainConfig contains chain endpoint settings
type ChainConfig struct {
	RPCURL              string   `yaml:"rpc_url" validate:"required,url"`
	ChainID             int64    `yaml:"chain_id" default:"31337"`
	MarketplaceContract string   `yaml:"marketplace_contract" validate:"required"`
	StartBlock          uint64   `yaml:"start_block"`
	RequestTimeout      Duration `yaml:"request_timeout" default:"15s"`
	MaxRetries          int      `yaml:"max_retries" default:"3"`
}

// IndexerConfig contains sync loop settings
type IndexerConfig struct {
	PollInterval  Duration `yaml:"poll_interval" default:"5s"`
	MaxBackoff    Duration `yaml:"max_backoff" default:"2m"`
	ChunkSize     uint64   `yaml:"chunk_size" default:"5000"`
	EventRetries  int      `yaml:"event_retries" default:"3"`
	ListingWindow Duration `yaml:"listing_window" default:"24h"`
}

// DisplayConfig contains display-currency conversion settings.
// The rate is an integer fraction mapping wei into display minor units,
// e.g. 28500000/1e18 for 285000 INR per ETH shown with two decimals.
type DisplayConfig struct {
	Currency string `yaml:"currency" default:"INR"`
	RateNum  string `yaml:"rate_num" default:"28500000"`
	RateDen  string `yaml:"rate_den" default:"1000000000000000000"`
	Decimals uint   `yaml:"decimals" default:"2"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	Enabled     bool `yaml:"enabled" default:"true"`
	MetricsPort int  `yaml:"metrics_port" default:"9090"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// Load reads, defaults and validates configuration from a YAML file.
func Load(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}
