package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DiscordToken string
	BotOwnerID   string

	DatabaseURL string

	FeedBaseURL string
	FeedTimeout time.Duration

	PollInterval time.Duration
	OrderExpiry  time.Duration
	ClockSkew    time.Duration
	FeeTolerance decimal.Decimal

	RabbitURL       string
	OrdersExchange  string
	OutboxInterval  time.Duration
	OutboxBatchSize int

	HTTPAddr            string
	ShutdownGracePeriod time.Duration
}

// Load reads configuration from the environment, with a .env file as an
// optional local override. Only the Discord token and database URL are
// required; everything else has a sane default. RABBIT_URL empty disables
// event publishing.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DiscordToken: getEnv("DISCORD_TOKEN", ""),
		BotOwnerID:   getEnv("BOT_OWNER_ID", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		FeedBaseURL: getEnv("FEED_BASE_URL", "https://litecoinspace.org/api"),
		FeedTimeout: parseDuration("FEED_TIMEOUT", 15*time.Second),

		PollInterval: parseDuration("POLL_INTERVAL", 25*time.Second),
		OrderExpiry:  parseDuration("ORDER_EXPIRY", 30*time.Minute),
		ClockSkew:    parseDuration("CLOCK_SKEW", time.Minute),
		FeeTolerance: parseDecimal("FEE_TOLERANCE", decimal.NewFromFloat(0.05)),

		RabbitURL:       getEnv("RABBIT_URL", ""),
		OrdersExchange:  getEnv("ORDERS_EXCHANGE", "purchasebot.orders"),
		OutboxInterval:  parseDuration("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatchSize: parseInt("OUTBOX_BATCH", 32),

		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		ShutdownGracePeriod: parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return def
}

func parseInt(key string, def int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	return def
}

func parseDecimal(key string, def decimal.Decimal) decimal.Decimal {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	if d, err := decimal.NewFromString(raw); err == nil {
		return d
	}
	return def
}
