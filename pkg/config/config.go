package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	ProfilesDir string
	// AuthDisabled skips bearer-token auth; meant for local development only.
	AuthDisabled bool
	RateLimitRPS int
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "mandate.db"
	}

	rps := 20
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rps = n
		}
	}

	return &Config{
		Port:         port,
		LogLevel:     logLevel,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SQLitePath:   sqlitePath,
		RedisURL:     os.Getenv("REDIS_URL"),
		ProfilesDir:  os.Getenv("PROFILES_DIR"),
		AuthDisabled: os.Getenv("AUTH_DISABLED") == "true",
		RateLimitRPS: rps,
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}
