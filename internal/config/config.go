package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no --config flag is supplied.
const DefaultConfigPath = "config.yaml"

// AppConfig holds process-level flags.
type AppConfig struct {
	ConfigPath string
}

// Config is the YAML configuration file.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Email    EmailConfig    `yaml:"email"`
	Logging  LoggingConfig  `yaml:"logging"`
	Recharge RechargeConfig `yaml:"recharge"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Mode            string        `yaml:"mode"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max-open-conns"`
	MaxIdleConns    int           `yaml:"max-idle-conns"`
	ConnMaxLifetime time.Duration `yaml:"conn-max-lifetime"`
	TimeZone        string        `yaml:"time-zone"`
	SlowThreshold   time.Duration `yaml:"slow-threshold"`
}

// RedisConfig configures the account lock backend. An empty Addr selects the in-process lock.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock-ttl"`
}

// AuthConfig holds bearer credentials for the three HTTP surfaces.
type AuthConfig struct {
	JWTSecret      string `yaml:"jwt-secret"`
	AdminJWTSecret string `yaml:"admin-jwt-secret"`
	// CronSecret is either the plain shared secret or its bcrypt hash.
	CronSecret string `yaml:"cron-secret"`
}

// StripeConfig configures the payment gateway.
type StripeConfig struct {
	SecretKey string        `yaml:"secret-key"`
	Timeout   time.Duration `yaml:"timeout"`
}

// EmailConfig configures the outbound email service.
type EmailConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api-key"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig configures logrus output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// RechargeConfig holds the retry policy defaults.
type RechargeConfig struct {
	MaxRetries          int           `yaml:"max-retries"`
	BaseDelay           time.Duration `yaml:"base-delay"`
	MaxDelay            time.Duration `yaml:"max-delay"`
	Multiplier          float64       `yaml:"multiplier"`
	Jitter              float64       `yaml:"jitter"`
	PollInterval        time.Duration `yaml:"poll-interval"`
	StaleAfter          time.Duration `yaml:"stale-after"`
	NotificationTimeout time.Duration `yaml:"notification-timeout"`
	PortalURL           string        `yaml:"portal-url"`
}

// ResolveConfigPath returns an absolute path, falling back to DefaultConfigPath.
func ResolveConfigPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultConfigPath
	}
	if abs, errAbs := filepath.Abs(path); errAbs == nil {
		return abs
	}
	return path
}

// Load reads the YAML file at path, applies env overrides and fills defaults.
// A missing file is not an error so that env-only deployments work.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	case os.IsNotExist(errRead):
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, errRead)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	override := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	override(&c.Database.DSN, "DATABASE_DSN")
	override(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	override(&c.Auth.CronSecret, "CRON_SECRET")
	override(&c.Auth.JWTSecret, "JWT_SECRET")
	override(&c.Auth.AdminJWTSecret, "ADMIN_JWT_SECRET")
	override(&c.Redis.Addr, "REDIS_ADDR")
	override(&c.Email.APIKey, "EMAIL_API_KEY")
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Redis.LockTTL <= 0 {
		c.Redis.LockTTL = 2 * time.Minute
	}
	if c.Auth.AdminJWTSecret == "" {
		c.Auth.AdminJWTSecret = c.Auth.JWTSecret
	}
	if c.Stripe.Timeout <= 0 {
		c.Stripe.Timeout = 30 * time.Second
	}
	if c.Email.Timeout <= 0 {
		c.Email.Timeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	r := &c.Recharge
	if r.MaxRetries <= 0 {
		r.MaxRetries = 3
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = 5 * time.Minute
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = 6 * time.Hour
	}
	if r.Multiplier < 1 {
		r.Multiplier = 2
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		r.Jitter = 0.1
	}
	if r.PollInterval <= 0 {
		r.PollInterval = 2 * time.Minute
	}
	if r.StaleAfter <= 0 {
		r.StaleAfter = 10 * time.Minute
	}
	if r.NotificationTimeout <= 0 {
		r.NotificationTimeout = 30 * time.Second
	}
}

// Validate reports missing settings the server cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Database.DSN) == "" {
		missing = append(missing, "database.dsn")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		missing = append(missing, "auth.jwt-secret")
	}
	if strings.TrimSpace(c.Auth.CronSecret) == "" {
		missing = append(missing, "auth.cron-secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing %s", strings.Join(missing, ", "))
	}
	return nil
}
