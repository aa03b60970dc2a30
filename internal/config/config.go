package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all runtime configuration for the application.
type Config struct {
	// File paths
	ConfigPath string
	DBPath     string

	// Server settings
	ServerHost string
	ServerPort int
	APIKey     string

	// Run settings
	Interval      time.Duration
	RunTimeout    time.Duration
	RetentionDays int

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		ConfigPath:    DefaultConfigPath,
		DBPath:        DefaultDBPath,
		ServerHost:    DefaultServerHost,
		ServerPort:    DefaultServerPort,
		APIKey:        GetEnvString("RADAR_API_KEY", ""),
		Interval:      GetEnvDuration("RADAR_INTERVAL", time.Duration(DefaultInterval)*time.Minute),
		RunTimeout:    GetEnvDuration("RADAR_RUN_TIMEOUT", time.Duration(DefaultRunTimeout)*time.Minute),
		RetentionDays: GetEnvInt("RADAR_RETENTION_DAYS", DefaultRetentionDays),
		LogLevel:      logLevel,
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
