// Package config loads process settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"disputeflow/completion"
	"disputeflow/dispute"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Env         string `yaml:"env"`
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseURL string `yaml:"database_url"`
	JWTSecret   string `yaml:"jwt_secret"`
	LogLevel    string `yaml:"log_level"`

	PlannerMaxItems     int    `yaml:"planner_max_items"`
	StrategyCatalogFile string `yaml:"strategy_catalog_file"`

	FollowUp   FollowUpConfig   `yaml:"follow_up"`
	Completion CompletionConfig `yaml:"completion"`
}

type FollowUpConfig struct {
	StatusCheckDays    int           `yaml:"status_check_days"`
	LetterDays         int           `yaml:"letter_days"`
	EscalationDays     int           `yaml:"escalation_days"`
	ResponseWindowDays int           `yaml:"response_window_days"`
	Workers            int           `yaml:"workers"`
	PollInterval       time.Duration `yaml:"poll_interval"`
}

type CompletionConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	s := dispute.DefaultSchedule()
	return Config{
		Env:        "development",
		ListenAddr: ":8080",
		LogLevel:   "info",
		FollowUp: FollowUpConfig{
			StatusCheckDays:    s.StatusCheckDays,
			LetterDays:         s.FollowUpLetterDays,
			EscalationDays:     s.EscalationDays,
			ResponseWindowDays: s.ResponseWindowDays,
			Workers:            2,
			PollInterval:       time.Minute,
		},
		Completion: CompletionConfig{
			Provider: string(completion.ProviderNone),
			Timeout:  20 * time.Second,
		},
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides and
// validates the result.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidConfig, key, v))
				return
			}
			*dst = d
		}
	}

	str("APP_ENV", &c.Env)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("DATABASE_URL", &c.DatabaseURL)
	str("JWT_SECRET", &c.JWTSecret)
	str("LOG_LEVEL", &c.LogLevel)
	num("PLANNER_MAX_ITEMS", &c.PlannerMaxItems)
	str("STRATEGY_CATALOG_FILE", &c.StrategyCatalogFile)

	num("FOLLOWUP_STATUS_CHECK_DAYS", &c.FollowUp.StatusCheckDays)
	num("FOLLOWUP_LETTER_DAYS", &c.FollowUp.LetterDays)
	num("FOLLOWUP_ESCALATION_DAYS", &c.FollowUp.EscalationDays)
	num("RESPONSE_WINDOW_DAYS", &c.FollowUp.ResponseWindowDays)
	num("FOLLOWUP_WORKERS", &c.FollowUp.Workers)
	dur("FOLLOWUP_POLL_INTERVAL", &c.FollowUp.PollInterval)

	str("COMPLETION_PROVIDER", &c.Completion.Provider)
	str("COMPLETION_MODEL", &c.Completion.Model)
	str("COMPLETION_API_KEY", &c.Completion.APIKey)
	dur("COMPLETION_TIMEOUT", &c.Completion.Timeout)

	return errors.Join(errs...)
}

// Schedule converts the follow-up settings.
func (c Config) Schedule() dispute.Schedule {
	return dispute.Schedule{
		StatusCheckDays:    c.FollowUp.StatusCheckDays,
		FollowUpLetterDays: c.FollowUp.LetterDays,
		EscalationDays:     c.FollowUp.EscalationDays,
		ResponseWindowDays: c.FollowUp.ResponseWindowDays,
	}
}

func (c Config) CompletionSettings() completion.Settings {
	return completion.Settings{
		Provider: completion.Provider(c.Completion.Provider),
		Model:    c.Completion.Model,
		APIKey:   c.Completion.APIKey,
	}
}

// Development reports whether the process runs with developer defaults.
func (c Config) Development() bool {
	return c.Env == "" || c.Env == "development"
}

// Validate checks the settings that would otherwise fail late.
func (c Config) Validate() error {
	var errs []error
	if err := c.Schedule().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.PlannerMaxItems < 0 {
		errs = append(errs, fmt.Errorf("%w: planner_max_items must not be negative", ErrInvalidConfig))
	}
	if c.FollowUp.Workers < 1 {
		errs = append(errs, fmt.Errorf("%w: follow-up workers must be at least 1", ErrInvalidConfig))
	}
	if c.FollowUp.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: follow-up poll interval must be positive", ErrInvalidConfig))
	}
	if c.Completion.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: completion timeout must be positive", ErrInvalidConfig))
	}
	known := false
	for _, p := range completion.Providers() {
		if strings.EqualFold(c.Completion.Provider, string(p)) {
			known = true
		}
	}
	if !known && c.Completion.Provider != "" {
		errs = append(errs, fmt.Errorf("%w: unknown completion provider %q", ErrInvalidConfig, c.Completion.Provider))
	}
	return errors.Join(errs...)
}
