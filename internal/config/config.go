// Package config loads application configuration from an optional YAML
// file overlaid with environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "JOBPORTAL_"

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	CORS      CORSConfig      `koanf:"cors"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Queue     QueueConfig     `koanf:"queue"`
	Digest    DigestConfig    `koanf:"digest"`
	Email     EmailConfig     `koanf:"email"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Log       LogConfig       `koanf:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// RedisConfig holds Redis settings. When disabled, scheduler leases
// fall back to in-process locking.
type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// QueueConfig holds queue processor settings.
type QueueConfig struct {
	PollInterval      time.Duration `koanf:"poll_interval"`
	BatchSize         int           `koanf:"batch_size"`
	SendTimeout       time.Duration `koanf:"send_timeout"`
	RetryDelay        time.Duration `koanf:"retry_delay"`
	StaleThreshold    time.Duration `koanf:"stale_threshold"`
	RetentionAge      time.Duration `koanf:"retention_age"`
	RetentionInterval time.Duration `koanf:"retention_interval"`
}

// DigestConfig holds digest generation settings.
type DigestConfig struct {
	DailyAt  string `koanf:"daily_at"`  // "HH:MM" local clock
	WeeklyAt string `koanf:"weekly_at"` // "HH:MM" local clock
	// WeeklyDay is the lowercase English weekday name.
	WeeklyDay string `koanf:"weekly_day"`
	Timezone  string `koanf:"timezone"`
	MaxItems  int    `koanf:"max_items"`
}

// EmailConfig selects and configures the outbound email transport.
type EmailConfig struct {
	// Provider is one of "smtp", "ses" or "log".
	Provider string     `koanf:"provider"`
	SMTP     SMTPConfig `koanf:"smtp"`
	SES      SESConfig  `koanf:"ses"`
}

// SMTPConfig holds SMTP transport settings.
type SMTPConfig struct {
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	User        string `koanf:"user"`
	Password    string `koanf:"password"`
	FromAddress string `koanf:"from_address"`
}

// SESConfig holds AWS SES transport settings.
type SESConfig struct {
	Region      string `koanf:"region"`
	FromAddress string `koanf:"from_address"`
}

// AuthConfig holds JWT settings for the API surface.
type AuthConfig struct {
	SecretKey     string        `koanf:"secret_key"`
	TokenDuration time.Duration `koanf:"token_duration"`
}

// RateLimitConfig holds producer endpoint rate limiting.
type RateLimitConfig struct {
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or text
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectAttempts: 5,
			ConnectTimeout:  2 * time.Minute,
			MigrationsPath:  "file://migrations",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Queue: QueueConfig{
			PollInterval:      time.Minute,
			BatchSize:         10,
			SendTimeout:       30 * time.Second,
			RetryDelay:        5 * time.Minute,
			StaleThreshold:    10 * time.Minute,
			RetentionAge:      7 * 24 * time.Hour,
			RetentionInterval: 24 * time.Hour,
		},
		Digest: DigestConfig{
			DailyAt:   "08:00",
			WeeklyAt:  "08:00",
			WeeklyDay: "monday",
			Timezone:  "UTC",
			MaxItems:  10,
		},
		Email: EmailConfig{
			Provider: "log",
			SMTP: SMTPConfig{
				Port: 587,
			},
			SES: SESConfig{
				Region: "us-east-1",
			},
		},
		Auth: AuthConfig{
			TokenDuration: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RPS:   50,
			Burst: 100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the given YAML file (if the path is
// non-empty) and then from JOBPORTAL_* environment variables. Double
// underscores separate nesting levels so that single underscores stay
// part of key names: JOBPORTAL_DATABASE__URL maps to database.url and
// JOBPORTAL_AUTH__SECRET_KEY to auth.secret_key.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WeekdayOf parses the configured weekly digest day.
func (c DigestConfig) WeekdayOf() (time.Weekday, error) {
	days := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
	day, ok := days[strings.ToLower(c.WeeklyDay)]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", c.WeeklyDay)
	}
	return day, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set %sDATABASE__URL)", envPrefix)
	}
	if c.Auth.SecretKey == "" {
		return fmt.Errorf("auth.secret_key is required (set %sAUTH__SECRET_KEY)", envPrefix)
	}
	switch c.Email.Provider {
	case "smtp", "ses", "log":
	default:
		return fmt.Errorf("email.provider must be smtp, ses or log, got %q", c.Email.Provider)
	}
	if _, err := c.Digest.WeekdayOf(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Digest.Timezone); err != nil {
		return fmt.Errorf("digest.timezone: %w", err)
	}
	return nil
}

// PathFromEnv returns the config file path from JOBPORTAL_CONFIG, or
// empty if unset.
func PathFromEnv() string {
	return os.Getenv(envPrefix + "CONFIG")
}
