package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Feed
	Symbol         string
	Timeframe      string
	BarLimit       int
	PollInterval   time.Duration
	BinanceBaseURL string
	FeedRPS        int

	// Engine
	StartingBalance float64
	NotifyRetention int
	MaxBars         int
	DefinitionsFile string

	// Servers
	HTTPAddr    string
	MetricsAddr string

	// Infrastructure
	RedisAddr     string // empty disables the Redis publisher
	RedisPassword string
	JournalDSN    string

	// Notifications
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   int64

	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory, or the files named in
// envFiles, pre-populate variables that are not already set.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		// a missing default .env is fine
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := &Config{
		Symbol:         strings.ToUpper(getEnv("SYMBOL", "BTCUSDT")),
		Timeframe:      strings.ToLower(getEnv("TIMEFRAME", "1m")),
		BarLimit:       getInt("BAR_LIMIT", 500),
		PollInterval:   time.Duration(getInt("POLL_INTERVAL_SEC", 10)) * time.Second,
		BinanceBaseURL: getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
		FeedRPS:        getInt("FEED_RPS", 5),

		StartingBalance: getFloat("STARTING_BALANCE", 10000),
		NotifyRetention: getInt("NOTIFY_RETENTION", 50),
		MaxBars:         getInt("MAX_BARS", 1000),
		DefinitionsFile: getEnv("DEFINITIONS_FILE", ""),

		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		JournalDSN:    getEnv("JOURNAL_DSN", "file::memory:?cache=shared"),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   int64(getInt("TELEGRAM_CHAT_ID", 0)),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg, cfg.Validate()
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	switch {
	case c.Symbol == "":
		return fmt.Errorf("config: SYMBOL must not be empty")
	case c.BarLimit <= 0:
		return fmt.Errorf("config: BAR_LIMIT must be positive, got %d", c.BarLimit)
	case c.PollInterval <= 0:
		return fmt.Errorf("config: POLL_INTERVAL_SEC must be positive")
	case c.StartingBalance < 0:
		return fmt.Errorf("config: STARTING_BALANCE must not be negative")
	case c.TelegramBotToken != "" && c.TelegramChatID == 0:
		return fmt.Errorf("config: TELEGRAM_CHAT_ID is required with TELEGRAM_BOT_TOKEN")
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}
