package config

import (
	"fmt"
	"time"

	"github.com/btcex/btcexd/internal/storage/marketdb"
)

// Config is the complete btcexd configuration.
type Config struct {
	// 1. HTTP API server
	Server ServerConfig `toml:"server" mapstructure:"server"`

	// 2. Database
	Database marketdb.Config `toml:"database" mapstructure:"database"`

	// 3. Market engine
	Market MarketConfig `toml:"market" mapstructure:"market"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	BindAddr        string        `toml:"bind_addr" mapstructure:"bind_addr"`
	Port            int           `toml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// MarketConfig configures engine-side behavior.
type MarketConfig struct {
	// SweepInterval is how often the expiry sweeper looks for futures whose
	// expiry date has passed.
	SweepInterval time.Duration `toml:"sweep_interval" mapstructure:"sweep_interval"`
}

// Validate performs validation on every configuration section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Market.Validate(); err != nil {
		return fmt.Errorf("market: %w", err)
	}
	return nil
}

// Validate performs validation on the server configuration.
func (s *ServerConfig) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}
	if s.ReadTimeout <= 0 || s.WriteTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown timeout must be >= 0")
	}
	return nil
}

// Validate performs validation on the market configuration.
func (m *MarketConfig) Validate() error {
	if m.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	return nil
}

// ListenAddr returns the address the HTTP server binds to.
func (s *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.BindAddr, s.Port)
}
