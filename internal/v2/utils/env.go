package utils

import (
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"
)

// GetEnvOrDefault gets environment variable or returns default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvIntOrDefault parses an integer environment variable, falling back on absence or garbage
func GetEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		glog.Warningf("ignore invalid %s=%q: %v", key, value, err)
		return defaultValue
	}
	return n
}

// GetEnvDurationOrDefault accepts either a Go duration ("30s") or a number of seconds
func GetEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	glog.Warningf("ignore invalid %s=%q", key, value)
	return defaultValue
}

// IsDevelopment reports whether GO_ENV marks a development environment
func IsDevelopment() bool {
	env := os.Getenv("GO_ENV")
	return env == "development" || env == "dev"
}
