package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend    string
	SQLiteDBPath   string
	MemorySeedFile string

	// AMQP. An empty URL runs syncs in-process.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Secrets
	JWTSecret string
	SecretKey string

	// Monobank
	MonobankBaseURL string

	Timezone          string
	CategoryRulesFile string

	// Sync
	SyncLookbackMonths    int
	SyncRequestInterval   time.Duration
	SyncRateLimitCooldown time.Duration
	SyncStaleAfter        time.Duration

	// Worker
	RevalidateInterval time.Duration
	RevalidateJitter   time.Duration
	RateCacheTTL       time.Duration

	LogLevel  string
	LogFormat string

	// Google Sheets export (optional)
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		DataBackend:    getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/burnrate.db"),
		MemorySeedFile: getEnv("MEMORY_SEED_FILE", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "burnrate"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "sync_requests"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		SecretKey: getEnv("SECRET_KEY", ""),

		MonobankBaseURL: getEnv("MONOBANK_BASE_URL", "https://api.monobank.ua"),

		Timezone:          getEnv("TIMEZONE", "Europe/Kyiv"),
		CategoryRulesFile: getEnv("CATEGORY_RULES_FILE", ""),

		SyncLookbackMonths:    getEnvInt("SYNC_LOOKBACK_MONTHS", 12),
		SyncRequestInterval:   getEnvDuration("SYNC_REQUEST_INTERVAL", 61*time.Second),
		SyncRateLimitCooldown: getEnvDuration("SYNC_RATE_LIMIT_COOLDOWN", 60*time.Second),
		SyncStaleAfter:        getEnvDuration("SYNC_STALE_AFTER", 720*time.Hour),

		RevalidateInterval: getEnvDuration("REVALIDATE_INTERVAL", 15*time.Minute),
		RevalidateJitter:   getEnvDuration("REVALIDATE_JITTER", 2*time.Minute),
		RateCacheTTL:       getEnvDuration("RATE_CACHE_TTL", 5*time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
	}

	return cfg
}

// Location resolves Timezone, falling back to UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ExportEnabled reports whether the Google Sheets export is configured.
func (c *Config) ExportEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET must be at least 32 characters")
	}
	if key, err := hex.DecodeString(c.SecretKey); err != nil || len(key) != 32 {
		errors = append(errors, "SECRET_KEY must be 64 hex characters (32 bytes)")
	}

	if parsedURL, err := url.Parse(c.MonobankBaseURL); err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid Monobank base URL '%s': must be an absolute http(s) URL", c.MonobankBaseURL))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if c.CategoryRulesFile != "" {
		if _, err := os.Stat(c.CategoryRulesFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("category rules file does not exist: %s", c.CategoryRulesFile))
		}
	}

	if c.SyncLookbackMonths < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync lookback %d: must be at least 1 month", c.SyncLookbackMonths))
	} else if c.SyncLookbackMonths > 24 {
		errors = append(errors, fmt.Sprintf("invalid sync lookback %d: must be at most 24 months", c.SyncLookbackMonths))
	}
	if c.SyncRequestInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid sync request interval %v: must not be negative", c.SyncRequestInterval))
	}
	if c.SyncRateLimitCooldown < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit cooldown %v: must not be negative", c.SyncRateLimitCooldown))
	}
	if c.SyncStaleAfter < 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync stale threshold %v: must be at least 24 hours", c.SyncStaleAfter))
	}

	if c.RevalidateInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid revalidate interval %v: must be at least 1 minute", c.RevalidateInterval))
	}
	if c.RevalidateJitter < 0 || c.RevalidateJitter >= c.RevalidateInterval {
		errors = append(errors, fmt.Sprintf("invalid revalidate jitter %v: must be between 0 and the interval", c.RevalidateJitter))
	}
	if c.RateCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate cache TTL %v: must not be negative", c.RateCacheTTL))
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if c.GoogleSpreadsheetID != "" {
		hasFile := c.GoogleServiceAccountFile != ""
		hasJSON := c.GoogleServiceAccountJSON != ""
		if !hasFile && !hasJSON {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for sheets export")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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
