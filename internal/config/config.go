package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath          = "flexifocus.yaml"
	defaultPort          = "8080"
	defaultBadgeSchedule = "@every 1m"
	envPrefix            = "FLEXIFOCUS_"
)

// Config is the daemon configuration: an optional YAML file overlaid with
// FLEXIFOCUS_* environment variables.
type Config struct {
	Port          string         `yaml:"port"`
	DBPath        string         `yaml:"db_path"`
	JWTSecret     string         `yaml:"jwt_secret"`
	TokenTTLHours int            `yaml:"token_ttl_hours"`
	CORSOrigins   []string       `yaml:"cors_origins"`
	LogLevel      string         `yaml:"log_level"`
	BadgeSchedule string         `yaml:"badge_schedule"`
	BreakURL      string         `yaml:"break_url"`
	Commands      CommandsConfig `yaml:"commands"`
}

// CommandsConfig holds the shell templates behind notifications, the
// completion tone and the break page.
type CommandsConfig struct {
	Notify string `yaml:"notify"`
	Sound  string `yaml:"sound"`
	Open   string `yaml:"open"`
}

// Load reads path if it exists; a missing file yields defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnv(envPrefix+"CONFIG", DefaultPath)
	}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, applies environment overrides and defaults,
// and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv(envPrefix+"PORT", c.Port)
	c.DBPath = getEnv(envPrefix+"DB_PATH", c.DBPath)
	c.JWTSecret = getEnv(envPrefix+"JWT_SECRET", c.JWTSecret)
	c.TokenTTLHours = getEnvInt(envPrefix+"TOKEN_TTL_HOURS", c.TokenTTLHours)
	c.CORSOrigins = getEnvList(envPrefix+"CORS_ORIGINS", c.CORSOrigins)
	c.LogLevel = getEnv(envPrefix+"LOG_LEVEL", c.LogLevel)
	c.BadgeSchedule = getEnv(envPrefix+"BADGE_SCHEDULE", c.BadgeSchedule)
	c.BreakURL = getEnv(envPrefix+"BREAK_URL", c.BreakURL)
	c.Commands.Notify = getEnv(envPrefix+"NOTIFY_COMMAND", c.Commands.Notify)
	c.Commands.Sound = getEnv(envPrefix+"SOUND_COMMAND", c.Commands.Sound)
	c.Commands.Open = getEnv(envPrefix+"OPEN_COMMAND", c.Commands.Open)
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.DBPath == "" {
		c.DBPath = "./data/flexifocus.db"
	}
	if c.JWTSecret == "" {
		c.JWTSecret = "change-this-secret"
	}
	if c.TokenTTLHours == 0 {
		c.TokenTTLHours = 24 * 30
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"chrome-extension://*", "moz-extension://*", "http://localhost:5173"}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.BadgeSchedule == "" {
		c.BadgeSchedule = defaultBadgeSchedule
	}
	if c.BreakURL == "" {
		c.BreakURL = "http://localhost:" + c.Port + "/break"
	}
}

func (c *Config) validate() error {
	var errs []string
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("port %q is not a valid TCP port", c.Port))
	}
	if c.TokenTTLHours < 0 {
		errs = append(errs, "token_ttl_hours must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := cron.ParseStandard(c.BadgeSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("badge_schedule %q: %v", c.BadgeSchedule, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

func (c *Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(value) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level %q is not one of debug, info, warn, error", value)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
