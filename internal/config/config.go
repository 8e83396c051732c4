// Package config содержит логику чтения конфигурации сервиса корзины.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса корзины.
type Config struct {
	RunAddress       string        `env:"RUN_ADDRESS"`
	DatabaseURI      string        `env:"DATABASE_URI"`
	IikoBaseURL      string        `env:"IIKO_BASE_URL"`
	IikoTimeout      time.Duration `env:"IIKO_TIMEOUT"`
	IikoTokenTTL     time.Duration `env:"IIKO_TOKEN_TTL"`
	YooKassaBaseURL  string        `env:"YOOKASSA_BASE_URL"`
	TelegramBotToken string        `env:"TELEGRAM_BOT_TOKEN"`
	MaxOrdersLimit   int           `env:"MAX_ORDERS_LIMIT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envIikoBaseURL := cfg.IikoBaseURL
	envYooKassaBaseURL := cfg.YooKassaBaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.IikoBaseURL, "iiko", "https://api-ru.iiko.services", "iiko Cloud API base URL")
	flag.StringVar(&cfg.YooKassaBaseURL, "yookassa", "https://api.yookassa.ru", "YooKassa API base URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envIikoBaseURL != "" {
		cfg.IikoBaseURL = envIikoBaseURL
	}
	if envYooKassaBaseURL != "" {
		cfg.YooKassaBaseURL = envYooKassaBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.IikoTimeout <= 0 {
		cfg.IikoTimeout = 15 * time.Second
	}
	if cfg.IikoTokenTTL <= 0 {
		cfg.IikoTokenTTL = 10 * time.Minute
	}
	if cfg.MaxOrdersLimit <= 0 {
		cfg.MaxOrdersLimit = 50
	}

	return cfg, nil
}
