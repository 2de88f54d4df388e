package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/worktime-engine/factory"
	"github.com/warp/worktime-engine/worktime"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Rules    RulesConfig
	Recalc   RecalcConfig
	Batch    BatchConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	Driver     string // sqlite or postgres
	SQLitePath string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SSLMode    string
}

// RulesConfig describes the calendar rules. A RULES_FILE takes precedence
// over the individual clock settings.
type RulesConfig struct {
	Timezone      string
	NightStart    string
	NightEnd      string
	WeekendAnchor string
	File          string
}

type RecalcConfig struct {
	MaxAttempts       int
	Backoff           time.Duration
	Timeout           time.Duration
	ComputeServiceURL string
	OverrideTolerance time.Duration
	// ReprocessInterval is the period of the stale-segment sweep; 0 disables it.
	ReprocessInterval time.Duration
}

type BatchConfig struct {
	Delay       time.Duration
	Concurrency int
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	config := &Config{}

	appPort, err := strconv.Atoi(getEnv("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}
	config.App = AppConfig{
		Port:     appPort,
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	config.Database = DatabaseConfig{
		Driver:     getEnv("DB_DRIVER", "sqlite"),
		SQLitePath: getEnv("SQLITE_PATH", "./data/worktime.db"),
		Host:       getEnv("DB_HOST", "localhost"),
		Port:       dbPort,
		User:       getEnv("DB_USER", "postgres"),
		Password:   getEnv("DB_PASSWORD", ""),
		Name:       getEnv("DB_NAME", "worktime"),
		SSLMode:    getEnv("DB_SSL_MODE", "disable"),
	}

	config.Rules = RulesConfig{
		Timezone:      getEnv("WORK_TIMEZONE", "UTC"),
		NightStart:    getEnv("NIGHT_START", "22:00"),
		NightEnd:      getEnv("NIGHT_END", "06:00"),
		WeekendAnchor: getEnv("WEEKEND_ANCHOR", "06:00"),
		File:          getEnv("RULES_FILE", ""),
	}

	maxAttempts, err := strconv.Atoi(getEnv("RECALC_MAX_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECALC_MAX_ATTEMPTS: %w", err)
	}
	config.Recalc = RecalcConfig{
		MaxAttempts:       maxAttempts,
		ComputeServiceURL: getEnv("COMPUTE_SERVICE_URL", ""),
	}
	if config.Recalc.Backoff, err = getDuration("RECALC_BACKOFF", "200ms"); err != nil {
		return nil, err
	}
	if config.Recalc.Timeout, err = getDuration("RECALC_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if config.Recalc.OverrideTolerance, err = getDuration("OVERRIDE_TOLERANCE", "3m"); err != nil {
		return nil, err
	}
	if config.Recalc.ReprocessInterval, err = getDuration("REPROCESS_INTERVAL", "15m"); err != nil {
		return nil, err
	}

	concurrency, err := strconv.Atoi(getEnv("BATCH_CONCURRENCY", strconv.Itoa(worktime.DefaultBatchConcurrency)))
	if err != nil {
		return nil, fmt.Errorf("invalid BATCH_CONCURRENCY: %w", err)
	}
	config.Batch = BatchConfig{Concurrency: concurrency}
	if config.Batch.Delay, err = getDuration("BATCH_DELAY", "500ms"); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("APP_PORT out of range: %d", c.App.Port)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required")
		}
	case "postgres":
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Rules.File == "" {
		if _, err := time.LoadLocation(c.Rules.Timezone); err != nil {
			return fmt.Errorf("invalid WORK_TIMEZONE: %w", err)
		}
		for name, v := range map[string]string{
			"NIGHT_START":    c.Rules.NightStart,
			"NIGHT_END":      c.Rules.NightEnd,
			"WEEKEND_ANCHOR": c.Rules.WeekendAnchor,
		} {
			if _, err := worktime.ParseClockTime(v); err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
		}
	}

	if c.Recalc.MaxAttempts < 1 {
		return fmt.Errorf("RECALC_MAX_ATTEMPTS must be at least 1")
	}
	if c.Recalc.Timeout <= 0 {
		return fmt.Errorf("RECALC_TIMEOUT must be positive")
	}
	if c.Recalc.Backoff < 0 || c.Recalc.OverrideTolerance < 0 || c.Batch.Delay < 0 || c.Recalc.ReprocessInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.Recalc.ComputeServiceURL != "" {
		u, err := url.Parse(c.Recalc.ComputeServiceURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("COMPUTE_SERVICE_URL must be an absolute URL")
		}
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RuleSet builds the calendar rules, from RULES_FILE when set.
func (c *Config) RuleSet() (worktime.RuleSet, error) {
	f := factory.NewRuleSetFactory()
	if c.Rules.File != "" {
		return f.LoadFile(c.Rules.File)
	}
	return f.FromJSON(factory.RuleSetJSON{
		Timezone:      c.Rules.Timezone,
		Night:         &factory.NightJSON{Start: c.Rules.NightStart, End: c.Rules.NightEnd},
		WeekendAnchor: c.Rules.WeekendAnchor,
	})
}

// RetryPolicy is the recalculation retry policy.
func (c *Config) RetryPolicy() worktime.RetryPolicy {
	return worktime.RetryPolicy{
		MaxAttempts: c.Recalc.MaxAttempts,
		Backoff:     c.Recalc.Backoff,
		Timeout:     c.Recalc.Timeout,
	}
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
