package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"test"`
	Address  string `env:"RUN_ADDRESS" envDefault:"localhost:4242"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	StorageDriver      string `env:"STORAGE_DRIVER" envDefault:"mongo"`
	MongoURI           string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase      string `env:"MONGO_DATABASE" envDefault:"sweetyshop"`
	DatabaseConnection string `env:"DATABASE_URI"`
	SeedStock          int    `env:"SEED_STOCK" envDefault:"20"`

	StripeSecretKey        string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET"`
	StripeWebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`

	FrontendURL       string   `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	Currency          string   `env:"CURRENCY" envDefault:"eur"`
	ShippingCountries []string `env:"SHIPPING_COUNTRIES" envSeparator:"," envDefault:"FR,BE,LU,MC"`
	HomeFeeCents      int64    `env:"SHIPPING_HOME_FEE_CENTS" envDefault:"490"`
	PickupFeeCents    int64    `env:"SHIPPING_PICKUP_FEE_CENTS" envDefault:"390"`

	AdminPassword  string        `env:"ADMIN_PASSWORD"`
	AdminToken     string        `env:"ADMIN_TOKEN"`
	AdminJWTTTL    time.Duration `env:"ADMIN_JWT_TTL" envDefault:"12h"`
	AdminJWTSecret string        `env:"ADMIN_JWT_SECRET"`
	CORSOrigins    []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	MailerMode   string `env:"MAILER_MODE" envDefault:"test"`
	SMTPHost     string `env:"SMTP_HOST" envDefault:"smtp-relay.brevo.com"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	FromEmail    string `env:"FROM_EMAIL" envDefault:"La Sweety <contact@lasweety.com>"`
	ReplyToEmail string `env:"REPLY_TO_EMAIL"`

	BrandName      string `env:"BRAND_NAME" envDefault:"La Sweety"`
	SupportEmail   string `env:"SUPPORT_EMAIL" envDefault:"contact@lasweety.com"`
	CGVURL         string `env:"CGV_URL"`
	ReturnsURL     string `env:"RETURNS_URL"`
	SuccessBaseURL string `env:"SUCCESS_BASE_URL"`

	CompanyName     string `env:"COMPANY_NAME" envDefault:"La Sweety"`
	CompanyAddress1 string `env:"COMPANY_ADDRESS_LINE1"`
	CompanyAddress2 string `env:"COMPANY_ADDRESS_LINE2"`
	CompanyZip      string `env:"COMPANY_POSTAL_CODE"`
	CompanyCity     string `env:"COMPANY_CITY"`
	CompanyCountry  string `env:"COMPANY_COUNTRY" envDefault:"France"`
	CompanySiret    string `env:"COMPANY_SIRET"`
	CompanyVAT      string `env:"COMPANY_VAT_NUMBER"`
	CompanyEmail    string `env:"COMPANY_EMAIL"`

	MailRetryInterval time.Duration `env:"MAIL_RETRY_INTERVAL" envDefault:"5m"`
	MailRetryWorkers  int           `env:"MAIL_RETRY_WORKERS" envDefault:"2"`
	MailMaxAttempts   int           `env:"MAIL_MAX_ATTEMPTS" envDefault:"5"`

	SendCloudURL       string        `env:"SENDCLOUD_URL" envDefault:"https://panel.sendcloud.sc"`
	SendCloudPublicKey string        `env:"SENDCLOUD_PUBLIC_KEY"`
	SendCloudSecretKey string        `env:"SENDCLOUD_SECRET_KEY"`
	RedisURL           string        `env:"REDIS_URL"`
	CarrierCacheTTL    time.Duration `env:"CARRIER_CACHE_TTL" envDefault:"1h"`

	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaOrdersTopic string   `env:"KAFKA_ORDERS_TOPIC" envDefault:"orders.paid"`

	GoogleKeyFile       string `env:"GOOGLE_SERVICE_ACCOUNT_KEY_FILE"`
	GoogleSpreadsheetID string `env:"GOOGLE_SHEETS_SPREADSHEET_ID"`
	GoogleSheetName     string `env:"GOOGLE_SHEETS_ORDERS_SHEET_NAME" envDefault:"Commandes"`
}

func (c *Config) Live() bool {
	return c.AppEnv == "live"
}

func NewConfig() (*Config, error) {
	envFile := ".env"
	if os.Getenv("APP_ENV") == "live" {
		envFile = ".env.live"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	address := flag.String("a", cfg.Address, "{Host:port} for server")
	loglevel := flag.String("l", cfg.LogLevel, "Log level for server")
	driver := flag.String("s", cfg.StorageDriver, "Storage driver: mongo, postgres or memory")
	databaseConnection := flag.String("d", cfg.DatabaseConnection, "Database connection string")

	flag.Parse()

	cfg.Address = *address
	cfg.LogLevel = *loglevel
	cfg.StorageDriver = *driver
	cfg.DatabaseConnection = *databaseConnection

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case "mongo", "memory":
	case "postgres":
		if c.DatabaseConnection == "" {
			return fmt.Errorf("ENV DATABASE_URI must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.Live() {
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("ENV STRIPE_WEBHOOK_SECRET must be set in live")
		}
		if c.AdminToken == "" {
			return fmt.Errorf("ENV ADMIN_TOKEN must be set in live")
		}
	}
	return nil
}
