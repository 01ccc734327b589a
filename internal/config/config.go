package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env  string `validate:"required,oneof=dev prod"`
	HTTP struct {
		Addr string `validate:"required"`
	}
	Upstream struct {
		URL     string        `validate:"required,url"`
		APIKey  string
		Timeout time.Duration `validate:"gt=0"`
	}
	Reaper struct {
		Schedule string        `validate:"required"`
		IdleTTL  time.Duration `validate:"gt=0"`
	}
	Telegram struct {
		Token       string
		AlertChatID int64
		// AdminIDs may run operator commands; empty means nobody
		AdminIDs []int64
		// WebhookURL switches the bot from polling to webhook delivery
		WebhookURL    string `validate:"omitempty,url"`
		WebhookSecret string
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	var err error
	c.Env = getenv("ENV", "prod")
	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.Upstream.URL = os.Getenv("UPSTREAM_URL")
	c.Upstream.APIKey = os.Getenv("UPSTREAM_API_KEY")
	if c.Upstream.Timeout, err = durationEnv("UPSTREAM_TIMEOUT", 10*time.Minute); err != nil {
		return Config{}, err
	}
	c.Reaper.Schedule = getenv("REAPER_SCHEDULE", "@every 10m")
	if c.Reaper.IdleTTL, err = durationEnv("SESSION_IDLE_TTL", 192*time.Hour); err != nil {
		return Config{}, err
	}
	c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("TELEGRAM_ALERT_CHAT_ID"); v != "" {
		if c.Telegram.AlertChatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Config{}, fmt.Errorf("TELEGRAM_ALERT_CHAT_ID: %w", err)
		}
	}
	c.Telegram.WebhookURL = os.Getenv("TELEGRAM_WEBHOOK_URL")
	c.Telegram.WebhookSecret = os.Getenv("TELEGRAM_WEBHOOK_SECRET")
	if c.Telegram.AdminIDs, err = parseIDs(os.Getenv("TELEGRAM_ADMIN_IDS")); err != nil {
		return Config{}, fmt.Errorf("TELEGRAM_ADMIN_IDS: %w", err)
	}
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/retrygate.log")

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	if c.Telegram.Token != "" && c.Telegram.AlertChatID == 0 {
		return Config{}, errors.New("TELEGRAM_ALERT_CHAT_ID required when TELEGRAM_BOT_TOKEN is set")
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

// parseIDs reads a comma or newline separated list of Telegram ids.
func parseIDs(s string) ([]int64, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == '\t' })
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
