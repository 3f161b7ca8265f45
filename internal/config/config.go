// Package config содержит логику чтения конфигурации платёжного сервиса.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/storefront-payments/internal/slipok"
)

// Config содержит параметры конфигурации платёжного сервиса.
// Секреты задаются только через переменные окружения.
type Config struct {
	RunAddress       string        `env:"RUN_ADDRESS"`
	DatabaseURI      string        `env:"DATABASE_URI"`
	QRGatewayAddress string        `env:"QR_GATEWAY_ADDRESS"`
	SlipAPIAddress   string        `env:"SLIP_API_ADDRESS"`
	ProviderTimeout  time.Duration `env:"PROVIDER_TIMEOUT"`
	SlipProvider     string        `env:"SLIP_PROVIDER"`

	AuthSecret         string `env:"AUTH_SECRET"`
	QRGatewayAPIKey    string `env:"QR_GATEWAY_API_KEY"`
	QRGatewaySecretKey string `env:"QR_GATEWAY_SECRET_KEY"`
	QRGatewayPartnerID string `env:"QR_GATEWAY_PARTNER_ID"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	return parse(flag.CommandLine, os.Args[1:])
}

func parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{SlipProvider: "slipok"}

	fs.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	fs.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	fs.StringVar(&cfg.QRGatewayAddress, "q", "", "QR payment gateway address")
	fs.StringVar(&cfg.SlipAPIAddress, "s", slipok.DefaultBaseURL, "slip verification API address")
	fs.DurationVar(&cfg.ProviderTimeout, "t", 10*time.Second, "timeout for calls to payment providers")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.ProviderTimeout <= 0 {
		return nil, errors.New("provider timeout must be positive")
	}

	return cfg, nil
}
