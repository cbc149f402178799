package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	RPID   string // Required: relying party identifier (domain) for possession ceremonies
	RPName string // Optional: relying party display name (default: TAMV MD-X4)
	Issuer string // Optional: issuer shown in authenticator apps (default: TAMV MD-X4)

	// FunctionsSecret verifies HS256 bearer tokens minted by the gateway.
	// Empty disables the authn gate.
	FunctionsSecret string

	DatabaseFile        string        // Optional: path to SQLite database file (default: ./mdx.db)
	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	cfg := Config{
		RPID:                getEnvOrDefault("MDX_RP_ID", "localhost"),
		RPName:              getEnvOrDefault("MDX_RP_NAME", "TAMV MD-X4"),
		Issuer:              getEnvOrDefault("MDX_TOTP_ISSUER", "TAMV MD-X4"),
		FunctionsSecret:     os.Getenv("MDX_FUNCTIONS_SECRET"),
		DatabaseFile:        getEnvOrDefault("MDX_DATABASE_FILE", "mdx.db"),
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
