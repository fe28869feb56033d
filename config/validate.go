package config

import (
	"fmt"
	"strings"

	"escrowmarket/crypto"
	"escrowmarket/native/market"
)

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	if _, err := market.ParseVariant(c.Market.Variant); err != nil {
		return fmt.Errorf("market: %w", err)
	}
	if id := strings.TrimSpace(c.Market.ProgramID); id != "" {
		if _, err := crypto.ParseAddress(id); err != nil {
			return fmt.Errorf("market: ProgramID: %w", err)
		}
	}
	if dsn := strings.TrimSpace(c.EventLog.DSN); dsn != "" {
		if _, _, err := ParseDSN(dsn); err != nil {
			return fmt.Errorf("eventlog: %w", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit: negative values")
	}
	if url := strings.TrimSpace(c.Webhook.URL); url != "" {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("webhook: URL must be http or https")
		}
		if strings.TrimSpace(c.Webhook.Secret) == "" {
			return fmt.Errorf("webhook: Secret required when URL is set")
		}
	}
	return nil
}

// ParsedVariant returns the parsed settlement variant.
func (m MarketConfig) ParsedVariant() (market.Variant, error) {
	return market.ParseVariant(m.Variant)
}

// ProgramAddress returns the configured program, or the default when unset.
func (m MarketConfig) ProgramAddress() (crypto.Address, error) {
	if strings.TrimSpace(m.ProgramID) == "" {
		return market.DefaultProgramID, nil
	}
	return crypto.ParseAddress(m.ProgramID)
}

// ParseDSN splits an event log DSN into a driver name and its connection
// string.
func ParseDSN(dsn string) (driver, conn string, err error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite:"), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported DSN %q", dsn)
	}
}
