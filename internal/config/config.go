// Package config provides configuration loading and validation for the
// orchestrator service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config represents the service configuration. Values come from defaults,
// then an optional JSON file, then environment variables.
type Config struct {
	DatabaseURL string `json:"database_url,omitempty"`
	// MasterSecret derives the credential vault key. Never read from the JSON file.
	MasterSecret string `json:"-" validate:"required"`
	HTTPAddr     string `json:"http_addr,omitempty" validate:"required"`
	LogLevel     string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn warning error"`

	Scheduler    SchedulerConfig    `json:"scheduler"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Session      SessionConfig      `json:"session"`
	Gateway      GatewayConfig      `json:"gateway"`
	IndexCheck   IndexCheckConfig   `json:"index_check"`
}

// SchedulerConfig controls misfire handling
type SchedulerConfig struct {
	MisfireGrace Duration `json:"misfire_grace,omitempty"`
}

// OrchestratorConfig controls scans, retries and the worker pool
type OrchestratorConfig struct {
	Workers      int      `json:"workers,omitempty" validate:"gte=1"`
	QueueSize    int      `json:"queue_size,omitempty" validate:"gte=1"`
	ScanBatch    int      `json:"scan_batch,omitempty" validate:"gte=1"`
	MaxRetries   int      `json:"max_retries,omitempty" validate:"gte=1"`
	RetryBackoff Duration `json:"retry_backoff,omitempty"`
	MaxBackoff   Duration `json:"max_backoff,omitempty"`
	StaleAfter   Duration `json:"stale_after,omitempty"`
	IndexLease   Duration `json:"index_lease,omitempty"`
}

// SessionConfig controls browser automation and authorization
type SessionConfig struct {
	MaxConcurrent      int      `json:"max_concurrent,omitempty" validate:"gte=1"`
	PerPlatform        int      `json:"per_platform,omitempty" validate:"gte=1"`
	DelayMin           Duration `json:"delay_min,omitempty"`
	DelayMax           Duration `json:"delay_max,omitempty"`
	Headless           bool     `json:"headless,omitempty"`
	LoginPollAttempts  int      `json:"login_poll_attempts,omitempty" validate:"gte=1"`
	LoginPollInterval  Duration `json:"login_poll_interval,omitempty"`
	AuthGrace          Duration `json:"auth_grace,omitempty"`
	PublishPollTimeout Duration `json:"publish_poll_timeout,omitempty"`
}

// GatewayConfig selects and configures the content gateway backend
type GatewayConfig struct {
	Provider     string   `json:"provider,omitempty" validate:"oneof=n8n gemini"`
	BaseURL      string   `json:"base_url,omitempty" validate:"omitempty,url"`
	ShortTimeout Duration `json:"short_timeout,omitempty"`
	LongTimeout  Duration `json:"long_timeout,omitempty"`
	MaxRetries   int      `json:"max_retries,omitempty" validate:"gte=0"`
	APIKey       string   `json:"-"`
	Model        string   `json:"model,omitempty"`
}

// IndexCheckConfig configures the search-result probe
type IndexCheckConfig struct {
	SearchURL string   `json:"search_url,omitempty" validate:"omitempty,url"`
	Timeout   Duration `json:"timeout,omitempty"`
	// GoogleCX selects the Programmable Search engine. When set together
	// with GoogleAPIKey the Custom Search API replaces the page probe.
	GoogleCX     string `json:"google_cx,omitempty"`
	GoogleAPIKey string `json:"-"`
}

// Duration unmarshals from a Go duration string such as "45s"
type Duration time.Duration

// D returns the value as a time.Duration
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		Scheduler: SchedulerConfig{
			MisfireGrace: Duration(60 * time.Second),
		},
		Orchestrator: OrchestratorConfig{
			Workers:      4,
			QueueSize:    32,
			ScanBatch:    20,
			MaxRetries:   3,
			RetryBackoff: Duration(time.Minute),
			MaxBackoff:   Duration(30 * time.Minute),
			StaleAfter:   Duration(30 * time.Minute),
			IndexLease:   Duration(5 * time.Minute),
		},
		Session: SessionConfig{
			MaxConcurrent:      2,
			PerPlatform:        1,
			DelayMin:           Duration(15 * time.Second),
			DelayMax:           Duration(30 * time.Second),
			Headless:           true,
			LoginPollAttempts:  120,
			LoginPollInterval:  Duration(2 * time.Second),
			AuthGrace:          Duration(60 * time.Second),
			PublishPollTimeout: Duration(25 * time.Second),
		},
		Gateway: GatewayConfig{
			Provider:     "n8n",
			BaseURL:      "http://localhost:5678/webhook",
			ShortTimeout: Duration(45 * time.Second),
			LongTimeout:  Duration(300 * time.Second),
			MaxRetries:   1,
			Model:        "gemini-1.5-flash",
		},
		IndexCheck: IndexCheckConfig{
			SearchURL: "https://www.baidu.com/s",
			Timeout:   Duration(20 * time.Second),
		},
	}
}

// Load builds the configuration. path may be empty to skip the JSON file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeFile overlays values from a JSON file onto c
func (c *Config) mergeFile(path string) error {
	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DatabaseURL = getEnvString("DATABASE_URL", c.DatabaseURL)
	c.MasterSecret = getEnvString("ENCRYPTION_KEY", c.MasterSecret)
	c.HTTPAddr = getEnvString("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)

	c.Scheduler.MisfireGrace = Duration(getEnvDuration("SCHEDULER_MISFIRE_GRACE", c.Scheduler.MisfireGrace.D()))

	o := &c.Orchestrator
	o.Workers = getEnvInt("ORCHESTRATOR_WORKERS", o.Workers)
	o.QueueSize = getEnvInt("ORCHESTRATOR_QUEUE_SIZE", o.QueueSize)
	o.ScanBatch = getEnvInt("ORCHESTRATOR_SCAN_BATCH", o.ScanBatch)
	o.MaxRetries = getEnvInt("ORCHESTRATOR_MAX_RETRIES", o.MaxRetries)
	o.RetryBackoff = Duration(getEnvDuration("ORCHESTRATOR_RETRY_BACKOFF", o.RetryBackoff.D()))
	o.MaxBackoff = Duration(getEnvDuration("ORCHESTRATOR_MAX_BACKOFF", o.MaxBackoff.D()))
	o.StaleAfter = Duration(getEnvDuration("ORCHESTRATOR_STALE_AFTER", o.StaleAfter.D()))
	o.IndexLease = Duration(getEnvDuration("ORCHESTRATOR_INDEX_LEASE", o.IndexLease.D()))

	s := &c.Session
	s.MaxConcurrent = getEnvInt("SESSION_MAX_CONCURRENT", s.MaxConcurrent)
	s.PerPlatform = getEnvInt("SESSION_PER_PLATFORM", s.PerPlatform)
	s.DelayMin = Duration(getEnvDuration("SESSION_DELAY_MIN", s.DelayMin.D()))
	s.DelayMax = Duration(getEnvDuration("SESSION_DELAY_MAX", s.DelayMax.D()))
	s.Headless = getEnvBool("SESSION_HEADLESS", s.Headless)
	s.LoginPollAttempts = getEnvInt("SESSION_LOGIN_POLL_ATTEMPTS", s.LoginPollAttempts)
	s.LoginPollInterval = Duration(getEnvDuration("SESSION_LOGIN_POLL_INTERVAL", s.LoginPollInterval.D()))
	s.AuthGrace = Duration(getEnvDuration("SESSION_AUTH_GRACE", s.AuthGrace.D()))
	s.PublishPollTimeout = Duration(getEnvDuration("SESSION_PUBLISH_POLL_TIMEOUT", s.PublishPollTimeout.D()))

	g := &c.Gateway
	g.Provider = strings.ToLower(getEnvString("GATEWAY_PROVIDER", g.Provider))
	g.BaseURL = getEnvString("GATEWAY_BASE_URL", g.BaseURL)
	g.ShortTimeout = Duration(getEnvDuration("GATEWAY_SHORT_TIMEOUT", g.ShortTimeout.D()))
	g.LongTimeout = Duration(getEnvDuration("GATEWAY_LONG_TIMEOUT", g.LongTimeout.D()))
	g.MaxRetries = getEnvInt("GATEWAY_MAX_RETRIES", g.MaxRetries)
	g.APIKey = getEnvString("GEMINI_API_KEY", g.APIKey)
	g.Model = getEnvString("GEMINI_MODEL", g.Model)

	c.IndexCheck.SearchURL = getEnvString("INDEX_CHECK_SEARCH_URL", c.IndexCheck.SearchURL)
	c.IndexCheck.Timeout = Duration(getEnvDuration("INDEX_CHECK_TIMEOUT", c.IndexCheck.Timeout.D()))
	c.IndexCheck.GoogleCX = getEnvString("GOOGLE_SEARCH_CX", c.IndexCheck.GoogleCX)
	c.IndexCheck.GoogleAPIKey = getEnvString("GOOGLE_SEARCH_API_KEY", c.IndexCheck.GoogleAPIKey)
}

var validate = validator.New()

// normalize validates the configuration and checks cross-field constraints
func (c *Config) normalize() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.Session.DelayMin < 0 || c.Session.DelayMax < c.Session.DelayMin {
		return fmt.Errorf("config error: session delay range [%s, %s] is invalid",
			c.Session.DelayMin.D(), c.Session.DelayMax.D())
	}
	if c.Orchestrator.RetryBackoff <= 0 {
		return fmt.Errorf("config error: 'retry_backoff' must be positive")
	}
	if c.Orchestrator.MaxBackoff < c.Orchestrator.RetryBackoff {
		return fmt.Errorf("config error: 'max_backoff' must be at least 'retry_backoff'")
	}
	if c.Session.PerPlatform > c.Session.MaxConcurrent {
		return fmt.Errorf("config error: 'per_platform' (%d) cannot exceed 'max_concurrent' (%d)",
			c.Session.PerPlatform, c.Session.MaxConcurrent)
	}
	if c.Gateway.Provider == "gemini" && c.Gateway.APIKey == "" {
		return fmt.Errorf("config error: GEMINI_API_KEY is required for the gemini gateway")
	}
	if (c.IndexCheck.GoogleCX == "") != (c.IndexCheck.GoogleAPIKey == "") {
		return fmt.Errorf("config error: GOOGLE_SEARCH_CX and GOOGLE_SEARCH_API_KEY must be set together")
	}
	if c.Gateway.Provider == "n8n" && c.Gateway.BaseURL == "" {
		return fmt.Errorf("config error: 'base_url' is required for the n8n gateway")
	}
	return nil
}

// getEnvString gets an environment variable as a string with a default value.
func getEnvString(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration with a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
