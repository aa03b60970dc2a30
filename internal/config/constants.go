package config

// Constants defining default values for application configuration
const (
	DefaultConfigPath = "./radar.yaml"
	DefaultDBPath     = "./radar.db"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultInterval      = 15 // Minutes between ingestion runs
	DefaultRunTimeout    = 30 // Minutes before a run is cancelled
	DefaultRetentionDays = 14 // Days to keep discarded items before purging

	DefaultLogLevel = "info"
)
