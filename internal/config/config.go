// Package config содержит логику чтения конфигурации сервиса заказов.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса заказов.
type Config struct {
	RunAddress      string        `env:"RUN_ADDRESS"`
	DatabaseURI     string        `env:"DATABASE_URI"`
	NotifierAddress string        `env:"NOTIFIER_ADDRESS"`
	CatalogFile     string        `env:"CATALOG_FILE"`
	AuthSecret      string        `env:"AUTH_SECRET"`
	IntegritySecret string        `env:"INTEGRITY_SECRET"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL"`
	PaymentWindow   time.Duration `env:"PAYMENT_WINDOW"`
	CancelWindow    time.Duration `env:"CANCEL_WINDOW"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs разбирает флаги args, затем применяет переменные окружения.
// Значение из окружения имеет приоритет над флагом.
func ParseArgs(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("stallorder", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	fs.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage when empty")
	fs.StringVar(&cfg.NotifierAddress, "n", "", "notification service address, log only when empty")
	fs.StringVar(&cfg.CatalogFile, "f", "", "JSON catalog of vendors, menu items and vouchers to load at startup")
	fs.StringVar(&cfg.AuthSecret, "s", "stallorder-secret", "secret for identity tokens")
	fs.StringVar(&cfg.IntegritySecret, "k", "stallorder-integrity", "secret for order checksums and pickup tokens")
	fs.DurationVar(&cfg.SweepInterval, "i", 30*time.Second, "interval between expired payment sweeps")
	fs.DurationVar(&cfg.PaymentWindow, "w", 15*time.Minute, "wallet payment window")
	fs.DurationVar(&cfg.CancelWindow, "c", 5*time.Minute, "customer cancellation window")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.IntegritySecret == "" {
		return errors.New("integrity secret is required")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.SweepInterval)
	}
	if c.PaymentWindow <= 0 {
		return fmt.Errorf("payment window must be positive, got %s", c.PaymentWindow)
	}
	if c.CancelWindow < 0 {
		return fmt.Errorf("cancel window must not be negative, got %s", c.CancelWindow)
	}
	return nil
}
