// Package config содержит логику чтения конфигурации сервиса заказов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса заказов.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	JWTSecret   string `env:"JWT_SECRET"`
	AMQPURL     string `env:"AMQP_URL"`

	NotifyExchange string `env:"NOTIFY_EXCHANGE" envDefault:"orders_events"`
	Currency       string `env:"CURRENCY" envDefault:"BRL"`

	ProviderTimeout     time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	NotifyTimeout       time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"3s"`
	CatalogTimeout      time.Duration `env:"CATALOG_TIMEOUT" envDefault:"3s"`
	PixExpiration       time.Duration `env:"PIX_EXPIRATION" envDefault:"30m"`
	PaymentSyncInterval time.Duration `env:"PAYMENT_SYNC_INTERVAL" envDefault:"1m"`

	// AutoConfirmPaidOrders подтверждает ожидающий заказ сразу после вебхука об оплате.
	AutoConfirmPaidOrders bool `env:"AUTO_CONFIRM_PAID_ORDERS" envDefault:"false"`

	// Пустой адрес означает боевой API провайдера.
	StripeAPIURL      string `env:"STRIPE_API_URL"`
	MercadoPagoAPIURL string `env:"MERCADOPAGO_API_URL" envDefault:"https://api.mercadopago.com"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret
	envAMQPURL := cfg.AMQPURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "JWT signing secret")
	flag.StringVar(&cfg.AMQPURL, "q", "", "AMQP broker URL for order notifications")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envAMQPURL != "" {
		cfg.AMQPURL = envAMQPURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
