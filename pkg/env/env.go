package env

import (
	"os"
	"strconv"
	"time"

	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

// GetOrDefault returns the environment variable value or the default if not set
func GetOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	debug.Debug("%s not set, using default: %s", key, defaultValue)
	return defaultValue
}

// MustGet returns the environment variable value or panics if not set
func MustGet(key string) string {
	value := os.Getenv(key)
	if value == "" {
		debug.Error("Required environment variable %s not set", key)
		panic("Required environment variable " + key + " not set")
	}
	return value
}

// GetBool returns the environment variable as a boolean
// Returns false if the variable is not set or is not "true", "1", "yes", or "y" (case insensitive)
func GetBool(key string) bool {
	value := os.Getenv(key)
	switch value {
	case "true", "1", "yes", "y", "TRUE", "YES", "Y":
		return true
	default:
		return false
	}
}

// GetBoolOrDefault returns the environment variable as a boolean or the default value if not set
func GetBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return GetBool(key)
	}
	return defaultValue
}

// GetIntOrDefault parses the variable as an int. Unparseable values fall back to the default.
func GetIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		debug.Warning("Invalid integer for %s (%q), using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// GetDurationOrDefault accepts Go duration strings ("90s", "2m") or a bare number of seconds.
func GetDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	debug.Warning("Invalid duration for %s (%q), using default: %s", key, value, defaultValue)
	return defaultValue
}
