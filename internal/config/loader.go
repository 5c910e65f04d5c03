package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment overrides, so the production
// database is named by BTCEXD_DATABASE_URL and the test database by
// BTCEXD_TEST_DATABASE_URL.
const EnvPrefix = "BTCEXD"

// TestDatabaseEnv names the database used by the test suite.
const TestDatabaseEnv = "BTCEXD_TEST_DATABASE_URL"

// LoadConfig loads configuration from multiple sources in priority order:
// 1. Default values
// 2. Configuration file (btcexd.toml), when a path is given
// 3. Environment variables (BTCEXD_ prefix, dots replaced by underscores)
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Defaults first
	setDefaults(v)

	// 2. Optional configuration file
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not accessible: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 3. Environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
