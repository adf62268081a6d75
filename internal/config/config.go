// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/events.db"`

	ElasticURL string `env:"ELASTIC_URL"`

	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret  string        `env:"JWT_SECRET,required,notEmpty"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"12h"`

	BlobDir string `env:"BLOB_DIR" envDefault:"data/blobs"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM" envDefault:"noreply@example.com"`

	SuperadminEmail        string `env:"SUPERADMIN_EMAIL"`
	SeedSuperadminPassword string `env:"SEED_SUPERADMIN_PASSWORD"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `env:"TWILIO_FROM"`
	SMSDefaultPrefix string `env:"SMS_DEFAULT_PREFIX" envDefault:"+57"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`

	DeliveryInterval    time.Duration `env:"DELIVERY_INTERVAL" envDefault:"1s"`
	DeliveryBatch       int           `env:"DELIVERY_BATCH" envDefault:"100"`
	DeliveryMaxAttempts int           `env:"DELIVERY_MAX_ATTEMPTS" envDefault:"5"`
	DLQRetryInterval    time.Duration `env:"DLQ_RETRY_INTERVAL" envDefault:"30s"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse parses the process environment without touching .env files.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch cfg.DBDriver {
	case "postgres":
		if cfg.PostgresDSN == "" {
			return Config{}, fmt.Errorf("parse env: POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
	case "sqlite":
	default:
		return Config{}, fmt.Errorf("parse env: unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	return cfg, nil
}

func (c Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func (c Config) SMSEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFrom != ""
}
