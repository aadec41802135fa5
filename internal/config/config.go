package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/prehled-vlaku/poller/internal/journey"
)

// Config holds all configuration for the poller service
type Config struct {
	// Storage. DatabaseURL selects PostgreSQL over the SQLite file.
	DatabasePath string `validate:"required_without=DatabaseURL"`
	DatabaseURL  string `validate:"omitempty,url"`

	// Feed
	FeedBaseURL  string `validate:"required,url"`
	FeedToken    string
	HTTPTimeout  time.Duration `validate:"gt=0"`
	RequestPause time.Duration `validate:"gte=0"`
	CyclePause   time.Duration `validate:"gte=0"`
	Timezone     string        `validate:"required"`

	// Heuristics
	Lookahead     time.Duration `validate:"gt=0"`
	ResolveWindow time.Duration `validate:"gt=0"`
	RolloverEarly time.Duration `validate:"gt=0"`
	RolloverLate  time.Duration `validate:"gt=0"`

	// Housekeeping
	StaleAfter        time.Duration `validate:"gt=0"`
	RetentionDuration time.Duration `validate:"gt=0"`
	SessionBackoffMax time.Duration `validate:"gt=0"`

	// Events, status and logging
	NATSURL           string `validate:"omitempty,url"`
	NATSSubjectPrefix string `validate:"required"`
	HTTPAddr          string
	RunOnce           bool
	LogLevel          string `validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	LogFormat         string `validate:"omitempty,oneof=json text"`
}

// thresholdsFile is the optional YAML override of the heuristics.
type thresholdsFile struct {
	LookaheadMinutes   *float64 `yaml:"lookaheadMinutes" validate:"omitempty,gt=0"`
	ResolveWindowHours *float64 `yaml:"resolveWindowHours" validate:"omitempty,gt=0"`
	RolloverEarlyHours *float64 `yaml:"rolloverEarlyHours" validate:"omitempty,gt=0"`
	RolloverLateHours  *float64 `yaml:"rolloverLateHours" validate:"omitempty,gt=0"`
}

// Load reads .env (if present), environment variables with defaults and the
// optional THRESHOLDS_FILE, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath: getEnv("SQLITE_DATABASE", "data/vlaky.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		FeedBaseURL:  getEnv("FEED_BASE_URL", "https://grapp.spravazeleznic.cz"),
		FeedToken:    getEnv("FEED_TOKEN", ""),
		HTTPTimeout:  time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 10)) * time.Second,
		RequestPause: time.Duration(getEnvInt("REQUEST_PAUSE_MS", 1000)) * time.Millisecond,
		CyclePause:   time.Duration(getEnvInt("CYCLE_PAUSE_SECONDS", 15)) * time.Second,
		Timezone:     getEnv("TIMEZONE", "Europe/Prague"),

		Lookahead:     time.Duration(getEnvInt("LOOKAHEAD_MINUTES", 5)) * time.Minute,
		ResolveWindow: time.Duration(getEnvInt("RESOLVE_WINDOW_HOURS", 8)) * time.Hour,
		RolloverEarly: time.Duration(getEnvInt("ROLLOVER_EARLY_HOURS", 3)) * time.Hour,
		RolloverLate:  time.Duration(getEnvInt("ROLLOVER_LATE_HOURS", 12)) * time.Hour,

		StaleAfter:        time.Duration(getEnvInt("STALE_AFTER_HOURS", 12)) * time.Hour,
		RetentionDuration: time.Duration(getEnvInt("RETENTION_HOURS", 168)) * time.Hour,
		SessionBackoffMax: time.Duration(getEnvInt("SESSION_BACKOFF_MAX_SECONDS", 300)) * time.Second,

		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "journeys"),
		HTTPAddr:          getEnv("HTTP_ADDR", ""),
		RunOnce:           getEnvBool("RUN_ONCE") || os.Getenv("CI") != "",
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}

	if path := os.Getenv("THRESHOLDS_FILE"); path != "" {
		if err := cfg.applyThresholdsFile(path); err != nil {
			return nil, err
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	return cfg, nil
}

func (c *Config) applyThresholdsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read thresholds file: %w", err)
	}
	var f thresholdsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse thresholds file %s: %w", path, err)
	}
	if err := validator.New().Struct(f); err != nil {
		return fmt.Errorf("invalid thresholds file %s: %w", path, err)
	}

	set := func(dst *time.Duration, v *float64, unit time.Duration) {
		if v != nil {
			*dst = time.Duration(*v * float64(unit))
		}
	}
	set(&c.Lookahead, f.LookaheadMinutes, time.Minute)
	set(&c.ResolveWindow, f.ResolveWindowHours, time.Hour)
	set(&c.RolloverEarly, f.RolloverEarlyHours, time.Hour)
	set(&c.RolloverLate, f.RolloverLateHours, time.Hour)
	return nil
}

// Thresholds returns the tracker heuristics.
func (c *Config) Thresholds() journey.Thresholds {
	return journey.Thresholds{
		ResolveWindow: c.ResolveWindow,
		RolloverEarly: c.RolloverEarly,
		RolloverLate:  c.RolloverLate,
		Lookahead:     c.Lookahead,
	}
}

// Location returns the zone the feed's bare times are in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
