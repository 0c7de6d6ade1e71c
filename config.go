package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nicebartender/keepalive-server/pairing"
)

type Config struct {
	ListenAddr string
	DBPath     string
	StaticDir  string
	LogLevel   slog.Level

	AdminUser string
	AdminPass string
	JWTSecret string
	TokenTTL  time.Duration

	Timing pairing.Timing
}

// fileConfig is the optional YAML configuration file. Durations are Go
// duration strings ("5s", "1m30s").
type fileConfig struct {
	Listen   string `yaml:"listen"`
	DB       string `yaml:"db"`
	Static   string `yaml:"static"`
	LogLevel string `yaml:"log_level"`

	Admin struct {
		User      string `yaml:"user"`
		Password  string `yaml:"password"`
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"admin"`

	Scheduler struct {
		TickInterval   string `yaml:"tick_interval"`
		ConfirmTimeout string `yaml:"confirm_timeout"`
		RetryBackoff   string `yaml:"retry_backoff"`
		Cooldown       string `yaml:"cooldown"`
		MaxAttempts    int    `yaml:"max_attempts"`
	} `yaml:"scheduler"`
}

// LoadConfig resolves the configuration from, lowest precedence first:
// built-in defaults, the YAML file, environment (including .env), flags.
func LoadConfig(args []string) (Config, error) {
	// a missing .env is normal
	_ = godotenv.Load()

	d := pairing.DefaultTiming()
	cfg := Config{}
	var configPath, logLevel string

	fs := flag.NewFlagSet("keepalive-server", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", envOrDefault("KEEPALIVE_CONFIG", ""), "YAML configuration file")
	fs.StringVar(&cfg.ListenAddr, "addr", defaultAddr(), "Listen address")
	fs.StringVar(&cfg.DBPath, "db", envOrDefault("KEEPALIVE_DB", "keepalive.db"), "SQLite database path")
	fs.StringVar(&cfg.StaticDir, "static", envOrDefault("KEEPALIVE_STATIC", ""), "Directory with the admin panel assets")
	fs.StringVar(&logLevel, "log-level", envOrDefault("KEEPALIVE_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.AdminUser, "admin-user", envOrDefault("ADMIN_USER", "admin"), "Admin user name")
	fs.StringVar(&cfg.AdminPass, "admin-pass", envOrDefault("ADMIN_PASS", "admin123"), "Admin password or bcrypt hash")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", envOrDefault("KEEPALIVE_JWT_SECRET", ""), "Secret for admin tokens (random when empty)")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", envDuration("KEEPALIVE_TOKEN_TTL", 24*time.Hour), "Admin token lifetime")
	fs.DurationVar(&cfg.Timing.TickInterval, "tick-interval", envDuration("KEEPALIVE_TICK_INTERVAL", d.TickInterval), "Pairing scan period")
	fs.DurationVar(&cfg.Timing.ConfirmTimeout, "confirm-timeout", envDuration("KEEPALIVE_CONFIRM_TIMEOUT", d.ConfirmTimeout), "How long to wait for a send confirmation")
	fs.DurationVar(&cfg.Timing.RetryBackoff, "retry-backoff", envDuration("KEEPALIVE_RETRY_BACKOFF", d.RetryBackoff), "Pause before retrying a failed send")
	fs.DurationVar(&cfg.Timing.Cooldown, "cooldown", envDuration("KEEPALIVE_COOLDOWN", d.Cooldown), "Pause before an agent can be paired again")
	fs.IntVar(&cfg.Timing.MaxAttempts, "max-attempts", envInt("KEEPALIVE_MAX_ATTEMPTS", d.MaxAttempts), "Send attempts per direction")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if configPath != "" {
		set := explicitlySet(fs)
		if err := applyFile(&cfg, &logLevel, configPath, set); err != nil {
			return Config{}, err
		}
	}

	level, err := parseLevel(logLevel)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = randomSecret()
		slog.Warn("no jwt secret configured, admin tokens will not survive a restart")
	}
	return cfg, nil
}

// explicitlySet returns the flags given on the command line or whose
// environment variable is present. Those win over the file.
func explicitlySet(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	env := map[string]string{
		"addr":            "KEEPALIVE_ADDR",
		"db":              "KEEPALIVE_DB",
		"static":          "KEEPALIVE_STATIC",
		"log-level":       "KEEPALIVE_LOG_LEVEL",
		"admin-user":      "ADMIN_USER",
		"admin-pass":      "ADMIN_PASS",
		"jwt-secret":      "KEEPALIVE_JWT_SECRET",
		"token-ttl":       "KEEPALIVE_TOKEN_TTL",
		"tick-interval":   "KEEPALIVE_TICK_INTERVAL",
		"confirm-timeout": "KEEPALIVE_CONFIRM_TIMEOUT",
		"retry-backoff":   "KEEPALIVE_RETRY_BACKOFF",
		"cooldown":        "KEEPALIVE_COOLDOWN",
		"max-attempts":    "KEEPALIVE_MAX_ATTEMPTS",
	}
	for name, key := range env {
		if os.Getenv(key) != "" {
			set[name] = true
		}
	}
	if os.Getenv("PORT") != "" {
		set["addr"] = true
	}
	return set
}

func applyFile(cfg *Config, logLevel *string, path string, set map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	str := func(flagName, v string, dst *string) {
		if v != "" && !set[flagName] {
			*dst = v
		}
	}
	str("addr", fc.Listen, &cfg.ListenAddr)
	str("db", fc.DB, &cfg.DBPath)
	str("static", fc.Static, &cfg.StaticDir)
	str("log-level", fc.LogLevel, logLevel)
	str("admin-user", fc.Admin.User, &cfg.AdminUser)
	str("admin-pass", fc.Admin.Password, &cfg.AdminPass)
	str("jwt-secret", fc.Admin.JWTSecret, &cfg.JWTSecret)

	var errs []error
	dur := func(flagName, v string, dst *time.Duration) {
		if v == "" || set[flagName] {
			return
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", flagName, err))
			return
		}
		*dst = parsed
	}
	dur("token-ttl", fc.Admin.TokenTTL, &cfg.TokenTTL)
	dur("tick-interval", fc.Scheduler.TickInterval, &cfg.Timing.TickInterval)
	dur("confirm-timeout", fc.Scheduler.ConfirmTimeout, &cfg.Timing.ConfirmTimeout)
	dur("retry-backoff", fc.Scheduler.RetryBackoff, &cfg.Timing.RetryBackoff)
	dur("cooldown", fc.Scheduler.Cooldown, &cfg.Timing.Cooldown)
	if fc.Scheduler.MaxAttempts > 0 && !set["max-attempts"] {
		cfg.Timing.MaxAttempts = fc.Scheduler.MaxAttempts
	}
	if len(errs) > 0 {
		return fmt.Errorf("config %s: %w", path, errors.Join(errs...))
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration", "key", key, "value", v)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("ignoring invalid integer", "key", key, "value", v)
	}
	return fallback
}

func defaultAddr() string {
	if v := os.Getenv("KEEPALIVE_ADDR"); v != "" {
		return v
	}
	// Railway, Render, etc. set PORT
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":3000"
}

func randomSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
