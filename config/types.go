package config

// MarketConfig selects the settlement variant and program identity.
type MarketConfig struct {
	// Variant is "full-escrow" or "no-escrow".
	Variant string `toml:"Variant" yaml:"variant"`
	// ProgramID overrides the derived default market program address.
	ProgramID string `toml:"ProgramID,omitempty" yaml:"program_id,omitempty"`
	// EscrowQuantity is the number of asset units a full-escrow listing locks.
	EscrowQuantity uint64 `toml:"EscrowQuantity" yaml:"escrow_quantity"`
	// Paused halts list and buy while keeping reads available.
	Paused bool `toml:"Paused" yaml:"paused"`
}

// EventLogConfig points the committed-event log at a SQL database. An empty
// DSN disables the log. "sqlite:<path>" and "postgres://..." are understood.
type EventLogConfig struct {
	DSN string `toml:"DSN" yaml:"dsn"`
}

type LogConfig struct {
	Env        string `toml:"Env" yaml:"env"`
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `toml:"MaxBackups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `toml:"MaxAgeDays,omitempty" yaml:"max_age_days,omitempty"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers,omitempty" yaml:"headers,omitempty"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
}

// RateLimitConfig bounds JSON-RPC requests per client address. A zero
// RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"requests_per_second"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// WebhookConfig enables signed HTTP notifications for listed and bought
// events. An empty URL disables them.
type WebhookConfig struct {
	URL         string `toml:"URL" yaml:"url"`
	Secret      string `toml:"Secret,omitempty" yaml:"secret,omitempty"`
	MaxAttempts int    `toml:"MaxAttempts,omitempty" yaml:"max_attempts,omitempty"`
}
