// Package config содержит логику чтения конфигурации сервиса аренды ячеек.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/cellrent/internal/model"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	GatewayURL       string        `env:"GATEWAY_URL"`
	TerminalKey      string        `env:"TERMINAL_KEY"`
	TerminalPassword string        `env:"TERMINAL_PASSWORD"`
	GatewayTimeout   time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	GatewayRetries   int           `env:"GATEWAY_RETRIES" envDefault:"3"`
	NotificationURL  string        `env:"NOTIFICATION_URL"`
	SuccessURL       string        `env:"SUCCESS_URL"`
	FailURL          string        `env:"FAIL_URL"`

	Currency         string `env:"CURRENCY" envDefault:"RUB"`
	MinPaymentMinor  int64  `env:"MIN_PAYMENT_MINOR" envDefault:"1000"`
	ReminderOffsets  []int  `env:"REMINDER_OFFSETS" envSeparator:"," envDefault:"7,3,1"`
	ExpiringSoonDays int    `env:"EXPIRING_SOON_DAYS" envDefault:"2"`
	PaymentSoonDays  int    `env:"PAYMENT_SOON_DAYS" envDefault:"7"`
	Timezone         string `env:"TIMEZONE" envDefault:"UTC"`

	TariffPeriodDays       int   `env:"TARIFF_PERIOD_DAYS" envDefault:"30"`
	TariffPeriodPriceMinor int64 `env:"TARIFF_PERIOD_PRICE_MINOR" envDefault:"300000"`

	NotifySchedule string        `env:"NOTIFY_SCHEDULE" envDefault:"0 0 9 * * *"`
	NotifyEnabled  bool          `env:"NOTIFY_ENABLED" envDefault:"true"`
	NotifyLockTTL  time.Duration `env:"NOTIFY_LOCK_TTL" envDefault:"10m"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	AdminSecret         string   `env:"ADMIN_SECRET"`
	WebhookAllowedCIDRs []string `env:"WEBHOOK_ALLOWED_CIDRS" envSeparator:","`

	NotifyOnce    bool          `env:"-"`
	IssueToken    string        `env:"-"`
	AdminTokenTTL time.Duration `env:"ADMIN_TOKEN_TTL" envDefault:"720h"`

	location        *time.Location
	webhookPrefixes []netip.Prefix
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
	envGatewayURL := cfg.GatewayURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayURL, "g", "", "payment gateway base URL")
	flag.BoolVar(&cfg.NotifyOnce, "notify-once", false, "run one notification pass and exit")
	flag.StringVar(&cfg.IssueToken, "issue-token", "", "print an admin token for the operator and exit")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayURL != "" {
		cfg.GatewayURL = envGatewayURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет значения и заполняет производные поля.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return &model.ValidationError{Field: "TIMEZONE", Reason: err.Error()}
	}
	c.location = loc

	if len(c.ReminderOffsets) == 0 {
		return &model.ValidationError{Field: "REMINDER_OFFSETS", Reason: "at least one offset required"}
	}
	seen := make(map[int]bool, len(c.ReminderOffsets))
	for _, o := range c.ReminderOffsets {
		if o < 0 {
			return &model.ValidationError{Field: "REMINDER_OFFSETS", Reason: fmt.Sprintf("negative offset %d", o)}
		}
		if seen[o] {
			return &model.ValidationError{Field: "REMINDER_OFFSETS", Reason: fmt.Sprintf("duplicate offset %d", o)}
		}
		seen[o] = true
	}

	if c.ExpiringSoonDays < 0 || c.PaymentSoonDays < c.ExpiringSoonDays {
		return &model.ValidationError{Field: "PAYMENT_SOON_DAYS", Reason: "must be at least EXPIRING_SOON_DAYS"}
	}
	if c.MinPaymentMinor <= 0 {
		return &model.ValidationError{Field: "MIN_PAYMENT_MINOR", Reason: "must be positive"}
	}
	if c.TariffPeriodDays <= 0 || c.TariffPeriodPriceMinor <= 0 {
		return &model.ValidationError{Field: "TARIFF_PERIOD_DAYS", Reason: "tariff period and price must be positive"}
	}
	if c.GatewayRetries < 0 {
		return &model.ValidationError{Field: "GATEWAY_RETRIES", Reason: "must not be negative"}
	}

	c.webhookPrefixes = nil
	for _, raw := range c.WebhookAllowedCIDRs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := parsePrefix(raw)
		if err != nil {
			return &model.ValidationError{Field: "WEBHOOK_ALLOWED_CIDRS", Reason: err.Error()}
		}
		c.webhookPrefixes = append(c.webhookPrefixes, prefix)
	}

	return nil
}

// parsePrefix принимает как подсеть, так и одиночный адрес.
func parsePrefix(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Location возвращает часовой пояс календарных дней. Заполняется в Validate.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// WebhookPrefixes возвращает разобранный список адресов банка. Заполняется в Validate.
func (c *Config) WebhookPrefixes() []netip.Prefix {
	return c.webhookPrefixes
}

// GatewayConfigured сообщает, заданы ли параметры платёжного шлюза.
func (c *Config) GatewayConfigured() bool {
	return c.GatewayURL != "" && c.TerminalKey != "" && c.TerminalPassword != ""
}

// ErrNoDatabase возвращается, если не задан адрес базы данных.
var ErrNoDatabase = errors.New("database URI is required")
