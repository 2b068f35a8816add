// Package config resolves the server configuration.
//
// Sources, lowest precedence first:
//
//  1. built-in defaults
//  2. a YAML file (CONFIG_PATH, default ./config.yaml; a missing file is fine)
//  3. the process environment, after a .env file in the working directory
//     has been merged into it (variables already set are not overwritten)
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/foxochat/chat-core/internal/auth"
)

const (
	EnvConfigPath            = "CONFIG_PATH"
	EnvPort                  = "PORT"
	EnvDBPath                = "DB_PATH"
	EnvJWTSecret             = "JWT_SECRET"
	EnvTokenLifetime         = "TOKEN_LIFETIME"
	EnvCodeLifetime          = "CODE_LIFETIME"
	EnvCodeResendLifetime    = "CODE_RESEND_LIFETIME"
	EnvCodeSweepSchedule     = "CODE_SWEEP_SCHEDULE"
	EnvCodeMaxAttempts       = "CODE_MAX_ATTEMPTS"
	EnvDevMode               = "DEV_MODE"
	EnvDevSkipCodeValidation = "DEV_SKIP_CODE_VALIDATION"
	EnvSMTPHost              = "SMTP_HOST"
	EnvSMTPPort              = "SMTP_PORT"
	EnvSMTPUser              = "SMTP_USER"
	EnvSMTPPass              = "SMTP_PASS"
	EnvSMTPFrom              = "SMTP_FROM"
	EnvPublicURL             = "PUBLIC_URL"
	EnvLogLevel              = "LOG_LEVEL"
)

const (
	DefaultConfigPath         = "./config.yaml"
	DefaultPort               = 8080
	DefaultDBPath             = "data/chat.db"
	DefaultTokenLifetime      = 30 * 24 * time.Hour
	DefaultCodeLifetime       = 15 * time.Minute
	DefaultCodeResendLifetime = time.Minute
	DefaultCodeSweepSchedule  = "@every 10m"
	DefaultCodeMaxAttempts    = 5
	DefaultSMTPPort           = 465
)

// Config is the fully resolved server configuration.
type Config struct {
	Port      int    `yaml:"port"`
	DBPath    string `yaml:"db-path"`
	LogLevel  string `yaml:"log-level"`
	PublicURL string `yaml:"public-url"`

	// DevMode relaxes delivery: without SMTP settings codes are written to
	// the log. It is also required by DevSkipCodeValidation.
	DevMode bool `yaml:"dev-mode"`
	// DevSkipCodeValidation lets email confirmation succeed without a code
	// and turns resending into a no-op. Only honoured together with DevMode.
	DevSkipCodeValidation bool `yaml:"dev-skip-code-validation"`

	Auth  AuthConfig  `yaml:"auth"`
	Codes CodesConfig `yaml:"codes"`
	SMTP  SMTPConfig  `yaml:"smtp"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt-secret"`
	TokenLifetime time.Duration `yaml:"token-lifetime"`
}

type CodesConfig struct {
	Lifetime       time.Duration `yaml:"lifetime"`
	ResendLifetime time.Duration `yaml:"resend-lifetime"`
	SweepSchedule  string        `yaml:"sweep-schedule"`
	MaxAttempts    int           `yaml:"max-attempts"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Default returns the built-in configuration. It has no signing secret and
// so does not pass Validate on its own.
func Default() Config {
	return Config{
		Port:     DefaultPort,
		DBPath:   DefaultDBPath,
		LogLevel: "info",
		Auth: AuthConfig{
			TokenLifetime: DefaultTokenLifetime,
		},
		Codes: CodesConfig{
			Lifetime:       DefaultCodeLifetime,
			ResendLifetime: DefaultCodeResendLifetime,
			SweepSchedule:  DefaultCodeSweepSchedule,
			MaxAttempts:    DefaultCodeMaxAttempts,
		},
		SMTP: SMTPConfig{
			Port: DefaultSMTPPort,
		},
	}
}

// Load merges .env into the environment, reads the YAML file, applies
// environment overrides and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}

	cfg := Default()

	path := ResolveConfigPath(os.Getenv(EnvConfigPath))
	if err := cfg.readFile(path); err != nil {
		return Config{}, err
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ResolveConfigPath normalizes the config path and applies the default.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = DefaultConfigPath
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.DBPath, EnvDBPath)
	setString(&c.LogLevel, EnvLogLevel)
	setString(&c.PublicURL, EnvPublicURL)
	setString(&c.Auth.JWTSecret, EnvJWTSecret)
	setString(&c.Codes.SweepSchedule, EnvCodeSweepSchedule)
	setString(&c.SMTP.Host, EnvSMTPHost)
	setString(&c.SMTP.Username, EnvSMTPUser)
	setString(&c.SMTP.Password, EnvSMTPPass)
	setString(&c.SMTP.From, EnvSMTPFrom)

	for _, f := range []func() error{
		func() error { return setInt(&c.Port, EnvPort) },
		func() error { return setInt(&c.SMTP.Port, EnvSMTPPort) },
		func() error { return setInt(&c.Codes.MaxAttempts, EnvCodeMaxAttempts) },
		func() error { return setBool(&c.DevMode, EnvDevMode) },
		func() error { return setBool(&c.DevSkipCodeValidation, EnvDevSkipCodeValidation) },
		func() error { return setDuration(&c.Auth.TokenLifetime, EnvTokenLifetime) },
		func() error { return setDuration(&c.Codes.Lifetime, EnvCodeLifetime) },
		func() error { return setDuration(&c.Codes.ResendLifetime, EnvCodeResendLifetime) },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports the first setting that would stop the server from
// running safely.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("config: db path is required")
	}
	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("config: %s must be at least %d bytes", EnvJWTSecret, auth.MinSecretLength)
	}
	if c.Auth.TokenLifetime <= 0 {
		return fmt.Errorf("config: token lifetime must be positive")
	}
	if c.Codes.Lifetime <= 0 || c.Codes.ResendLifetime <= 0 {
		return fmt.Errorf("config: code lifetimes must be positive")
	}
	if c.Codes.ResendLifetime >= c.Codes.Lifetime {
		return fmt.Errorf("config: code resend lifetime (%s) must be shorter than code lifetime (%s)",
			c.Codes.ResendLifetime, c.Codes.Lifetime)
	}
	if c.Codes.MaxAttempts < 1 {
		return fmt.Errorf("config: code max attempts must be at least 1")
	}
	if _, err := cron.ParseStandard(c.Codes.SweepSchedule); err != nil {
		return fmt.Errorf("config: invalid code sweep schedule %q: %w", c.Codes.SweepSchedule, err)
	}
	if c.DevSkipCodeValidation && !c.DevMode {
		return fmt.Errorf("config: %s requires %s", EnvDevSkipCodeValidation, EnvDevMode)
	}
	if !c.DevMode && c.SMTP.Host == "" {
		return fmt.Errorf("config: %s is required outside development mode", EnvSMTPHost)
	}
	if c.SMTP.Host != "" && (c.SMTP.Port < 1 || c.SMTP.Port > 65535) {
		return fmt.Errorf("config: smtp port %d out of range", c.SMTP.Port)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q", c.LogLevel)
	}
	return l, nil
}

// SkipCodeValidation reports whether email confirmation may bypass the code.
func (c *Config) SkipCodeValidation() bool {
	return c.DevMode && c.DevSkipCodeValidation
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: invalid %s value %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: invalid %s value %q: %w", key, v, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: invalid %s value %q: %w", key, v, err)
	}
	*dst = d
	return nil
}
