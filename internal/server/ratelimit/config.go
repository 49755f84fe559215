package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadConfig reads RATE_LIMIT_* environment variables
func LoadConfig() *Config {
	if !getEnvBool("RATE_LIMIT_ENABLED", true) {
		return &Config{}
	}
	return &Config{
		Enabled: true,
		Default: Rule{
			Limit:  getEnvInt("RATE_LIMIT_DEFAULT_LIMIT", 600),
			Window: getEnvDuration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		},
		Rules:           DefaultRules(),
		Allow:           parseIPList(os.Getenv("RATE_LIMIT_WHITELIST")),
		Deny:            parseIPList(os.Getenv("RATE_LIMIT_BLACKLIST")),
		CleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		IdleTTL:         time.Hour,
	}
}

// DefaultRules throttles login attempts and browser-launching routes hardest
func DefaultRules() []Rule {
	return []Rule{
		{Method: "POST", Path: "/login", Limit: 10, Window: time.Minute, Burst: 5},
		{Method: "POST", Path: "/auth-tasks", Limit: 10, Window: time.Hour, Burst: 3},
		{Method: "POST", Path: "/items", Limit: 120, Window: time.Minute, Burst: 20},
		{Method: "POST", Path: "/items/", Limit: 60, Window: time.Minute, Burst: 10},
		{Method: "PUT", Path: "/jobs/", Limit: 60, Window: time.Minute, Burst: 10},
		{Method: "POST", Path: "/jobs/", Limit: 60, Window: time.Minute, Burst: 10},
	}
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseIPList(list string) map[string]bool {
	result := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			result[ip] = true
		}
	}
	return result
}
