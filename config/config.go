package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RPCAddress   string `toml:"RPCAddress" yaml:"rpc_address"`
	DataDir      string `toml:"DataDir" yaml:"data_dir"`
	KeystorePath string `toml:"KeystorePath" yaml:"keystore_path"`

	Market    MarketConfig    `toml:"market" yaml:"market"`
	EventLog  EventLogConfig  `toml:"eventlog" yaml:"eventlog"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	RateLimit RateLimitConfig `toml:"ratelimit" yaml:"ratelimit"`
	Webhook   WebhookConfig   `toml:"webhook" yaml:"webhook"`
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		RPCAddress:   ":8080",
		DataDir:      "./market-data",
		KeystorePath: "operator.keystore",
		Market: MarketConfig{
			Variant:        "full-escrow",
			EscrowQuantity: 1,
		},
		EventLog: EventLogConfig{DSN: "sqlite:./market-data/events.db"},
		Log:      LogConfig{Env: "local", Level: "info"},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
	}
}

// Load loads the configuration from the given path. A missing file is created
// with defaults. Files ending in .yaml or .yml are decoded as YAML, everything
// else as TOML.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = def.RPCAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = def.DataDir
	}
	if strings.TrimSpace(c.Market.Variant) == "" {
		c.Market.Variant = def.Market.Variant
	}
	if c.Market.EscrowQuantity == 0 {
		c.Market.EscrowQuantity = def.Market.EscrowQuantity
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = def.Log.Level
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.RequestsPerSecond) + 1
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
