package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv unsets every key Load reads, restoring them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SYMBOL", "TIMEFRAME", "BAR_LIMIT", "POLL_INTERVAL_SEC", "BINANCE_BASE_URL",
		"FEED_RPS", "STARTING_BALANCE", "NOTIFY_RETENTION", "MAX_BARS", "DEFINITIONS_FILE",
		"HTTP_ADDR", "METRICS_ADDR", "REDIS_ADDR", "REDIS_PASSWORD", "JOURNAL_DSN",
		"WEBHOOK_URL", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "LOG_LEVEL",
	} {
		k := k
		if v, ok := os.LookupEnv(k); ok {
			t.Cleanup(func() { os.Setenv(k, v) })
		} else {
			t.Cleanup(func() { os.Unsetenv(k) })
		}
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Symbol != "BTCUSDT" || cfg.Timeframe != "1m" || cfg.BarLimit != 500 {
		t.Errorf("feed defaults = %s %s %d", cfg.Symbol, cfg.Timeframe, cfg.BarLimit)
	}
	if cfg.PollInterval != 10*time.Second || cfg.StartingBalance != 10000 || cfg.NotifyRetention != 50 {
		t.Errorf("engine defaults = %v %v %d", cfg.PollInterval, cfg.StartingBalance, cfg.NotifyRetention)
	}
	if cfg.RedisAddr != "" || cfg.JournalDSN != "file::memory:?cache=shared" {
		t.Errorf("infra defaults = %q %q", cfg.RedisAddr, cfg.JournalDSN)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	content := "SYMBOL=ethusdt\nTIMEFRAME=15M\nPOLL_INTERVAL_SEC=30\nSTARTING_BALANCE=2500.5\nBAR_LIMIT=oops\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	// variables already set win over the file
	os.Setenv("HTTP_ADDR", ":9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Symbol != "ETHUSDT" || cfg.Timeframe != "15m" {
		t.Errorf("context = %s %s", cfg.Symbol, cfg.Timeframe)
	}
	if cfg.PollInterval != 30*time.Second || cfg.StartingBalance != 2500.5 {
		t.Errorf("poll=%v balance=%v", cfg.PollInterval, cfg.StartingBalance)
	}
	if cfg.BarLimit != 500 {
		t.Errorf("invalid BAR_LIMIT should fall back, got %d", cfg.BarLimit)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTP_ADDR = %s", cfg.HTTPAddr)
	}
}

func TestLoad_MissingEnvFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Error("expected error for a missing explicit env file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(c *Config)
	}{
		{"bar limit", func(c *Config) { c.BarLimit = 0 }},
		{"poll", func(c *Config) { c.PollInterval = 0 }},
		{"balance", func(c *Config) { c.StartingBalance = -1 }},
		{"telegram", func(c *Config) { c.TelegramBotToken = "x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Symbol: "BTCUSDT", BarLimit: 500, PollInterval: time.Second}
			tt.mod(c)
			if err := c.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
