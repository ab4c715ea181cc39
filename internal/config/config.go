// Package config содержит логику чтения конфигурации витрины магазина.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/storefront-system/internal/validation"
)

// Config содержит параметры конфигурации витрины магазина.
type Config struct {
	RunAddress        string   `env:"RUN_ADDRESS"`
	DatabaseURI       string   `env:"DATABASE_URI"`
	PaymentAPIAddress string   `env:"PAYMENT_API_ADDRESS"`
	PaymentAPIKey     string   `env:"PAYMENT_API_KEY"`
	WebhookSecret     string   `env:"WEBHOOK_SECRET"`
	AuthSecret        string   `env:"AUTH_SECRET"`
	Currency          string   `env:"CURRENCY"`
	Locale            string   `env:"LOCALE"`
	AllowedCountries  []string `env:"ALLOWED_COUNTRIES" envSeparator:","`
	SuccessURL        string   `env:"SUCCESS_URL"`
	CancelURL         string   `env:"CANCEL_URL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPaymentAddress := cfg.PaymentAPIAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentAPIAddress, "p", "", "payment provider API address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPaymentAddress != "" {
		cfg.PaymentAPIAddress = envPaymentAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.Currency == "" {
		cfg.Currency = "pln"
	}
	if cfg.Locale == "" {
		cfg.Locale = "pl"
	}
	if len(cfg.AllowedCountries) == 0 {
		cfg.AllowedCountries = []string{"PL"}
	}
	if cfg.SuccessURL == "" {
		cfg.SuccessURL = "http://" + cfg.RunAddress + "/success"
	}
	if cfg.CancelURL == "" {
		cfg.CancelURL = "http://" + cfg.RunAddress + "/denied"
	}

	if !validation.IsValidCurrency(cfg.Currency) {
		return nil, fmt.Errorf("invalid currency code: %q", cfg.Currency)
	}

	return cfg, nil
}
