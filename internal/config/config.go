package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
		// CORS; "*" - любой origin
		AllowedOrigins []string `yaml:"allowed_origins"`
		ShutdownSecs   int      `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`

	Database struct {
		Driver string `yaml:"driver"` // postgres | memory
		DSN    string `yaml:"url"`
	} `yaml:"database"`

	JWT struct {
		Secret string `yaml:"secret"`
		TTL    int    `yaml:"ttl"` // минуты
	} `yaml:"jwt"`

	Gateway struct {
		BaseURL        string `yaml:"base_url"`
		KeyID          string `yaml:"key_id"`
		KeySecret      string `yaml:"key_secret"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		// Circuit breaker
		MaxFailures      uint32 `yaml:"max_failures"`
		OpenTimeoutSecs  int    `yaml:"open_timeout_seconds"`
		HalfOpenRequests uint32 `yaml:"half_open_requests"`
	} `yaml:"gateway"`

	Payments struct {
		Currency           string `yaml:"currency"`
		OrderTTLMinutes    int    `yaml:"order_ttl_minutes"`
		SweepInterval      string `yaml:"sweep_interval"` // time.ParseDuration
		SweepBatchSize     int    `yaml:"sweep_batch_size"`
		YearlyBillableMons int    `yaml:"yearly_billable_months"`
		AmountTolerance    string `yaml:"amount_tolerance"`
	} `yaml:"payments"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Email struct {
		Enabled      bool   `yaml:"enabled"`
		SMTPHost     string `yaml:"smtp_host"`
		SMTPPort     int    `yaml:"smtp_port"`
		SMTPUsername string `yaml:"smtp_user"`
		SMTPPassword string `yaml:"smtp_password"`
		FromEmail    string `yaml:"from_email"`
		FromName     string `yaml:"from_name"`
	} `yaml:"email"`

	// Первый админ создается при старте, если задан email
	FirstAdminEmail string `yaml:"first_admin_email"`
}

// Load читает YAML (если есть), затем накладывает переменные окружения и дефолты.
func Load(path string) (*Config, error) {
	var cfg Config

	// .env необязателен
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config/config.yaml"
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file at %s: %w", path, err)
		}
		log.Printf("Загрузка конфигурации из %s", path)
	case os.IsNotExist(err):
		log.Printf("⚠️ Файл конфигурации %s не найден, используем окружение", path)
	default:
		return nil, fmt.Errorf("failed to open config file at %s: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}


func applyEnv(cfg *Config) {
	setString(&cfg.Server.Env, "SERVER_ENV")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.LogLevel, "LOG_LEVEL")
	setString(&cfg.Database.DSN, "DATABASE_URL")
	setString(&cfg.Database.Driver, "DATABASE_DRIVER")
	setString(&cfg.JWT.Secret, "JWT_SECRET")
	setString(&cfg.Gateway.BaseURL, "GATEWAY_BASE_URL")
	setString(&cfg.Gateway.KeyID, "GATEWAY_KEY_ID")
	setString(&cfg.Gateway.KeySecret, "GATEWAY_KEY_SECRET")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Email.SMTPPassword, "SMTP_PASSWORD")
	setString(&cfg.Payments.SweepInterval, "SWEEP_INTERVAL")
	setString(&cfg.FirstAdminEmail, "FIRST_ADMIN_EMAIL")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownSecs == 0 {
		cfg.Server.ShutdownSecs = 15
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.Env == "" {
		cfg.Server.Env = "development"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.JWT.TTL == 0 {
		cfg.JWT.TTL = 60
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://api.razorpay.com/v1"
	}
	if cfg.Gateway.TimeoutSeconds == 0 {
		cfg.Gateway.TimeoutSeconds = 10
	}
	if cfg.Gateway.MaxFailures == 0 {
		cfg.Gateway.MaxFailures = 5
	}
	if cfg.Gateway.OpenTimeoutSecs == 0 {
		cfg.Gateway.OpenTimeoutSecs = 30
	}
	if cfg.Gateway.HalfOpenRequests == 0 {
		cfg.Gateway.HalfOpenRequests = 1
	}
	if cfg.Payments.Currency == "" {
		cfg.Payments.Currency = "INR"
	}
	if cfg.Payments.OrderTTLMinutes == 0 {
		cfg.Payments.OrderTTLMinutes = 15
	}
	if cfg.Payments.SweepInterval == "" {
		cfg.Payments.SweepInterval = "1m"
	}
	if cfg.Payments.SweepBatchSize == 0 {
		cfg.Payments.SweepBatchSize = 100
	}
	if cfg.Payments.YearlyBillableMons == 0 {
		cfg.Payments.YearlyBillableMons = 10
	}
	if cfg.Payments.AmountTolerance == "" {
		cfg.Payments.AmountTolerance = "0.01"
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = 587
	}
}

// Validate проверяет то, без чего сервис не поднимется.
// Пустые ключи шлюза - не ошибка конфигурации: сервис стартует,
// но заказы отклоняются с PAYMENT_GATEWAY_NOT_CONFIGURED.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database url is required for postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if _, err := time.ParseDuration(c.Payments.SweepInterval); err != nil {
		return fmt.Errorf("invalid payments.sweep_interval %q: %w", c.Payments.SweepInterval, err)
	}
	if c.Payments.YearlyBillableMons < 1 || c.Payments.YearlyBillableMons > 12 {
		return fmt.Errorf("payments.yearly_billable_months must be in 1..12")
	}
	if _, err := decimal.NewFromString(c.Payments.AmountTolerance); err != nil {
		return fmt.Errorf("invalid payments.amount_tolerance %q: %w", c.Payments.AmountTolerance, err)
	}
	return nil
}

// SweepEvery - интервал sweeper'а
func (c *Config) SweepEvery() time.Duration {
	d, err := time.ParseDuration(c.Payments.SweepInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// AmountTolerance - допустимое расхождение суммы клиента и сервера
func (c *Config) AmountTolerance() decimal.Decimal {
	d, err := decimal.NewFromString(c.Payments.AmountTolerance)
	if err != nil {
		return decimal.RequireFromString("0.01")
	}
	return d
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWT.TTL) * time.Minute
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSecs) * time.Second
}

func (c *Config) OrderTTL() time.Duration {
	return time.Duration(c.Payments.OrderTTLMinutes) * time.Minute
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
