package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults sets the default value for every configuration key.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_addr", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "btcex")
	v.SetDefault("database.username", "btcex")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 15*time.Minute)
	v.SetDefault("database.default_timeout", 30*time.Second)
	v.SetDefault("database.max_retries", 3)
	v.SetDefault("database.retry_delay", 100*time.Millisecond)

	// Market defaults
	v.SetDefault("market.sweep_interval", time.Minute)
}
