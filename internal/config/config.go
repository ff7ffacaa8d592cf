// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	FrontendURL    string   `env:"FRONTEND_URL"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"./data/voicedesk.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	Auth AuthConfig

	ElevenLabsBaseURL string        `env:"ELEVENLABS_BASE_URL" envDefault:"https://api.elevenlabs.io"`
	VendorTimeout     time.Duration `env:"VENDOR_TIMEOUT" envDefault:"30s"`
	ReplayTimeout     time.Duration `env:"REPLAY_TIMEOUT" envDefault:"60s"`
	VoiceCatalogPath  string        `env:"VOICE_CATALOG_PATH"`

	KnowledgeBaseDir      string        `env:"KNOWLEDGE_BASE_DIR" envDefault:"./data/knowledge"`
	KnowledgeBaseMaxBytes int64         `env:"KNOWLEDGE_BASE_MAX_BYTES" envDefault:"10485760"`
	KnowledgeBaseTTL      time.Duration `env:"KNOWLEDGE_BASE_TTL" envDefault:"720h"`

	DraftTTL      time.Duration `env:"DRAFT_TTL" envDefault:"720h"`
	PendingTTL    time.Duration `env:"PENDING_TTL" envDefault:"168h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	MailboxTTL    time.Duration `env:"MAILBOX_TTL" envDefault:"24h"`

	GRPCHealthPort string `env:"GRPC_HEALTH_PORT"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
}

// AuthConfig describes the identity provider's access tokens.
type AuthConfig struct {
	JWTSecret  string `env:"AUTH_JWT_SECRET"`
	Audience   string `env:"AUTH_AUDIENCE" envDefault:"authenticated"`
	Issuer     string `env:"AUTH_ISSUER"`
	SignupPath string `env:"SIGNUP_PATH" envDefault:"/signup"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET cannot be empty")
	}
	if !strings.HasPrefix(c.Auth.SignupPath, "/") && !strings.HasPrefix(c.Auth.SignupPath, "http") {
		return fmt.Errorf("SIGNUP_PATH must be a path or URL")
	}
	if c.VendorTimeout <= 0 || c.ReplayTimeout <= 0 {
		return fmt.Errorf("VENDOR_TIMEOUT and REPLAY_TIMEOUT must be > 0")
	}
	if c.KnowledgeBaseMaxBytes <= 0 {
		return fmt.Errorf("KNOWLEDGE_BASE_MAX_BYTES must be > 0")
	}
	if c.PendingTTL <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("PENDING_TTL and SWEEP_INTERVAL must be > 0")
	}
	if c.MailboxTTL <= 0 || c.KnowledgeBaseTTL <= 0 {
		return fmt.Errorf("MAILBOX_TTL and KNOWLEDGE_BASE_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// Origins returns the CORS allow list. It falls back to the frontend URL, or
// to any origin in development.
func (c *Config) Origins() []string {
	if len(c.AllowedOrigins) > 0 {
		return c.AllowedOrigins
	}
	if c.FrontendURL != "" {
		return []string{c.FrontendURL}
	}
	return []string{"*"}
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// IsContainer returns true if running inside a container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
