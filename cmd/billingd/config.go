package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xraph/billing"
	"github.com/xraph/billing/jobs"
	"github.com/xraph/billing/provider/coinbase"
	"github.com/xraph/billing/provider/mollie"
	"github.com/xraph/billing/provider/stripe"
)

// Config is the daemon configuration. It is read from the YAML file named
// by BILLING_CONFIG, then overridden from the environment.
type Config struct {
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"database_url"`
	RedisAddr   string `yaml:"redis_addr"`
	LogLevel    string `yaml:"log_level"`

	Engine   billing.Config  `yaml:"engine"`
	Schedule jobs.Schedule   `yaml:"schedule"`
	Workers  int             `yaml:"workers"`
	Mollie   mollie.Config   `yaml:"mollie"`
	Stripe   stripe.Config   `yaml:"stripe"`
	Coinbase coinbase.Config `yaml:"coinbase"`
}

func defaultConfig() Config {
	return Config{
		Addr:     ":8080",
		LogLevel: "info",
		Engine:   billing.DefaultConfig(),
		Schedule: jobs.DefaultSchedule(),
		Workers:  10,
	}
}

// loadConfig reads .env, the optional YAML file and the environment.
func loadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment")
	}

	cfg := defaultConfig()
	if path := os.Getenv("BILLING_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Addr = getEnv("ADDR", c.Addr)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Engine.DefaultProvider = getEnv("BILLING_DEFAULT_PROVIDER", c.Engine.DefaultProvider)

	c.Mollie.APIKey = getEnv("MOLLIE_API_KEY", c.Mollie.APIKey)
	c.Mollie.WebhookURL = getEnv("MOLLIE_WEBHOOK_URL", c.Mollie.WebhookURL)
	c.Mollie.RedirectURL = getEnv("MOLLIE_REDIRECT_URL", c.Mollie.RedirectURL)

	c.Stripe.SecretKey = getEnv("STRIPE_SECRET_KEY", c.Stripe.SecretKey)
	c.Stripe.WebhookSecret = getEnv("STRIPE_WEBHOOK_SECRET", c.Stripe.WebhookSecret)
	c.Stripe.RedirectURL = getEnv("STRIPE_REDIRECT_URL", c.Stripe.RedirectURL)

	c.Coinbase.APIKey = getEnv("COINBASE_API_KEY", c.Coinbase.APIKey)
	c.Coinbase.WebhookSecret = getEnv("COINBASE_WEBHOOK_SECRET", c.Coinbase.WebhookSecret)
	c.Coinbase.RedirectURL = getEnv("COINBASE_REDIRECT_URL", c.Coinbase.RedirectURL)

	if v := os.Getenv("BILLING_MIN_PAYMENT_AMOUNT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("BILLING_MIN_PAYMENT_AMOUNT: %w", err)
		}
		c.Engine.MinPaymentAmount = n
	}
	if v := os.Getenv("BILLING_PROVIDER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BILLING_PROVIDER_TIMEOUT: %w", err)
		}
		c.Engine.ProviderTimeout = d
	}
	if v := os.Getenv("BILLING_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BILLING_WORKERS: %w", err)
		}
		c.Workers = n
	}
	return nil
}

func (c Config) level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
