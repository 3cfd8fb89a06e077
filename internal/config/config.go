// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"interactionlog/internal/apperrors"
	"interactionlog/internal/logger"
)

// Config is the full runtime configuration, read from the process environment
// after an optional .env file has been loaded.
type Config struct {
	ServerHost  string `env:"SERVER_HOST" envDefault:"127.0.0.1"`
	ServerPort  string `env:"SERVER_PORT" envDefault:"5051"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`

	DatabasePath  string `env:"DATABASE_PATH" envDefault:"./data/interactions.db"`
	LogsDirectory string `env:"LOGS_DIRECTORY" envDefault:"./logs"`
	LogFileFormat string `env:"LOG_FILE_FORMAT" envDefault:"server_%s.log"`
	TimeZone      string `env:"TIME_ZONE" envDefault:"Local"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Admin dashboard. Both the hash and the secret must be set or the admin
	// API stays disabled.
	AdminUsername     string        `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
	JWTSecret         string        `env:"JWT_SECRET"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"12h"`

	OptionsMaxAge       time.Duration `env:"OPTIONS_MAX_AGE" envDefault:"5m"`
	FallbackOptionsPath string        `env:"FALLBACK_OPTIONS_PATH"`

	// Staff at one branch usually share a public IP, so the rate limit
	// window is short.
	DuplicateWindow time.Duration `env:"DUPLICATE_WINDOW" envDefault:"2m"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"5s"`
	CSRFTokenTTL    time.Duration `env:"CSRF_TOKEN_TTL" envDefault:"1h"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	RetentionDays   int           `env:"RETENTION_DAYS" envDefault:"0"`

	OTELEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint string `env:"OTEL_ENDPOINT"`
}

//
// --- Utility Helpers ---
//

// GetEnvBasedSetting reads <base>_<ENVIRONMENT>, e.g. LOGS_DIRECTORY_PROD.
func GetEnvBasedSetting(base string) string {
	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "dev"
	}
	return os.Getenv(fmt.Sprintf("%s_%s", base, strings.ToUpper(environment)))
}

//
// --- Loaders ---
//

// Load reads envFile (when present) into the process environment and parses
// the typed configuration. A missing .env file is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Printf("No %s file loaded (%v). Using system environment variables.", envFile, err)
		} else {
			log.Printf("Loaded environment variables from %s", envFile)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, apperrors.Configuration("parse environment", err)
	}

	// Per-environment overrides, e.g. ALLOWED_ORIGINS_PROD.
	if v := GetEnvBasedSetting("LOGS_DIRECTORY"); v != "" {
		cfg.LogsDirectory = v
	}
	if v := GetEnvBasedSetting("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := GetEnvBasedSetting("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	cfg.AllowedOrigins = splitList(strings.Join(cfg.AllowedOrigins, ","))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports settings that make the service unable to start.
// Missing admin credentials or database path are not errors here: the
// service starts with those features disabled.
func (c Config) Validate() error {
	port, err := strconv.Atoi(c.ServerPort)
	if err != nil || port <= 0 || port > 65535 {
		return apperrors.Configuration(fmt.Sprintf("SERVER_PORT %q is not a valid port", c.ServerPort), err)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return apperrors.Configuration(fmt.Sprintf("TIME_ZONE %q", c.TimeZone), err)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"SESSION_TTL", c.SessionTTL},
		{"OPTIONS_MAX_AGE", c.OptionsMaxAge},
		{"DUPLICATE_WINDOW", c.DuplicateWindow},
		{"RATE_LIMIT_WINDOW", c.RateLimitWindow},
		{"CSRF_TOKEN_TTL", c.CSRFTokenTTL},
		{"SWEEP_INTERVAL", c.SweepInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return apperrors.Configuration(fmt.Sprintf("%s must be positive, got %s", d.name, d.value), nil)
		}
	}
	if c.RetentionDays < 0 {
		return apperrors.Configuration("RETENTION_DAYS must not be negative", nil)
	}
	if c.OTELEnabled && c.OTELEndpoint == "" {
		return apperrors.Configuration("OTEL_ENABLED is set but OTEL_ENDPOINT is empty", nil)
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.ServerHost, c.ServerPort)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "prod") || strings.EqualFold(c.Environment, "production")
}

// AdminConfigured reports whether the admin API can issue sessions.
func (c Config) AdminConfigured() bool {
	return c.AdminUsername != "" && c.AdminPasswordHash != "" && c.JWTSecret != ""
}

// StorageConfigured reports whether submissions can be persisted.
func (c Config) StorageConfigured() bool {
	return strings.TrimSpace(c.DatabasePath) != ""
}

// LoggerConfig returns a logger.Config populated from the configuration.
func (c Config) LoggerConfig() logger.Config {
	return logger.Config{
		LogsDirectory: c.LogsDirectory,
		LogFileFormat: c.LogFileFormat,
		TimeZone:      c.TimeZone,
	}
}

// LogCurrentEnvironment logs which environment is running and which optional
// features are disabled.
func (c Config) LogCurrentEnvironment() {
	if c.IsProduction() {
		logger.LogInfo("Running in production environment")
	} else {
		logger.LogInfo("Running in development environment (%s)", c.Environment)
	}

	if len(c.AllowedOrigins) == 0 {
		logger.LogWarn("ALLOWED_ORIGINS not set, cross-origin requests will be refused")
	} else {
		logger.LogInfo("Allowed origins: %s", strings.Join(c.AllowedOrigins, ", "))
	}
	if !c.StorageConfigured() {
		logger.LogWarn("DATABASE_PATH not set, submissions are disabled")
	}
	if !c.AdminConfigured() {
		logger.LogWarn("ADMIN_PASSWORD_HASH or JWT_SECRET not set, admin API is disabled")
	}
	if c.RetentionDays > 0 {
		logger.LogInfo("Interaction retention: %d days", c.RetentionDays)
	}
}
