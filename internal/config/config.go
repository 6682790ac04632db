package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage drivers
const (
	DriverMemory     = "memory"
	DriverClickHouse = "clickhouse"
	DriverPostgres   = "postgres"
)

// Config holds the application configuration
type Config struct {
	// HTTP API configuration
	Port           string
	APIToken       string // Bearer token for /api routes; empty disables the check
	RateLimitRPS   float64
	RateLimitBurst int
	LogFormat      string // "json" or "console"

	// Lending configuration
	LoanPeriod time.Duration

	// Storage configuration
	StorageDriver string

	// ClickHouse configuration
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	// PostgreSQL configuration
	PostgresDSN string

	// Upstream catalog import
	CatalogSourceURL   string
	CatalogSourceToken string

	// Telegram bot configuration (optional)
	TelegramToken  string
	AllowedUserIDs []int64
	WebhookMode    bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL     string // URL for webhook (required if WebhookMode is true)
	WebhookSecret  string // Expected X-Telegram-Bot-Api-Secret-Token (required if WebhookMode is true)
}

// BotEnabled reports whether the Telegram bot should be started
func (c *Config) BotEnabled() bool {
	return c.TelegramToken != ""
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}

	config.Port = getEnv("PORT", "8080")
	config.APIToken = os.Getenv("API_TOKEN")
	config.LogFormat = getEnv("LOG_FORMAT", "json")
	if config.LogFormat != "json" && config.LogFormat != "console" {
		return nil, fmt.Errorf("invalid LOG_FORMAT: %s (expected json or console)", config.LogFormat)
	}

	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "5"), 64)
	if err != nil || rps < 0 {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %s", os.Getenv("RATE_LIMIT_RPS"))
	}
	config.RateLimitRPS = rps

	burst, err := strconv.Atoi(getEnv("RATE_LIMIT_BURST", "10"))
	if err != nil || burst < 0 {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %s", os.Getenv("RATE_LIMIT_BURST"))
	}
	config.RateLimitBurst = burst

	days, err := strconv.Atoi(getEnv("LOAN_PERIOD_DAYS", "14"))
	if err != nil || days <= 0 {
		return nil, fmt.Errorf("invalid LOAN_PERIOD_DAYS: %s", os.Getenv("LOAN_PERIOD_DAYS"))
	}
	config.LoanPeriod = time.Duration(days) * 24 * time.Hour

	// Storage driver (default: memory)
	config.StorageDriver = getEnv("STORAGE_DRIVER", DriverMemory)
	switch config.StorageDriver {
	case DriverMemory:
	case DriverClickHouse:
		if err := loadClickHouse(config); err != nil {
			return nil, err
		}
	case DriverPostgres:
		config.PostgresDSN = os.Getenv("POSTGRES_DSN")
		if config.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required when STORAGE_DRIVER is postgres")
		}
	default:
		return nil, fmt.Errorf("invalid STORAGE_DRIVER: %s (expected memory, clickhouse or postgres)", config.StorageDriver)
	}

	config.CatalogSourceURL = os.Getenv("CATALOG_SOURCE_URL")
	config.CatalogSourceToken = os.Getenv("CATALOG_SOURCE_TOKEN")

	// Telegram bot is optional; ALLOWED_USER_IDS is required once a token is set
	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.TelegramToken != "" {
		if err := loadBot(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func loadClickHouse(config *Config) error {
	config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if config.ClickHouseHost == "" {
		return fmt.Errorf("CLICKHOUSE_HOST is required when STORAGE_DRIVER is clickhouse")
	}

	portStr := os.Getenv("CLICKHOUSE_PORT")
	if portStr == "" {
		config.ClickHousePort = 9000 // Default ClickHouse native port
	} else {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid CLICKHOUSE_PORT: %w", err)
		}
		config.ClickHousePort = port
	}

	config.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
	config.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
	config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
	config.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	return nil
}

func loadBot(config *Config) error {
	allowedIDsStr := os.Getenv("ALLOWED_USER_IDS")
	if allowedIDsStr == "" {
		return fmt.Errorf("ALLOWED_USER_IDS is required (comma-separated list of Telegram user IDs)")
	}

	for _, idStr := range strings.Split(allowedIDsStr, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user ID in ALLOWED_USER_IDS: %s", idStr)
		}
		config.AllowedUserIDs = append(config.AllowedUserIDs, id)
	}

	config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
	if config.WebhookMode {
		config.WebhookURL = os.Getenv("WEBHOOK_URL")
		if config.WebhookURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
		}
		config.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
		if !validWebhookSecret(config.WebhookSecret) {
			return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_MODE is true (1-256 characters of A-Z, a-z, 0-9, _ and -)")
		}
	}
	return nil
}

// validWebhookSecret checks the character set Telegram accepts for secret_token
func validWebhookSecret(secret string) bool {
	if len(secret) == 0 || len(secret) > 256 {
		return false
	}
	for _, r := range secret {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
