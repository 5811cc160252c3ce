package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// GetEnv returns the environment variable value or a default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetBoolEnv returns a boolean environment variable or a default.
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetLogLevel parses LOG_LEVEL (debug, info, warn, error). Unknown values fall back to info.
func GetLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(GetEnv("LOG_LEVEL", "info"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// GetSecretFile reads a secret from a file path.
// Works with Docker secrets (/run/secrets/) and CI secret mounts.
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
