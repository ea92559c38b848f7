// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (DORA_ prefix, plus DATABASE_URL / GEMINI_API_KEY)
//  2. Config file (~/.dora/config.yaml)
//  3. Default values
//
// Categories:
//   - Server: HTTP listen address
//   - Storage: PostgreSQL connection (pgvector required)
//   - AI: Gemini embedder and generation models
//   - Retrieval: top-K fan-out and recency window
//   - GitHub: OAuth application credentials
//   - Vault: symmetric encryption secret for stored tokens
//   - Observability: optional OTLP trace export
//
// Security: sensitive fields never appear in marshaled output. Validation
// uses sentinel errors for errors.Is checks.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the Gemini API key is not set.
	ErrMissingAPIKey = errors.New("missing Gemini API key")

	// ErrMissingEncryptionSecret indicates the token vault secret is not set.
	ErrMissingEncryptionSecret = errors.New("missing encryption secret")

	// ErrWeakEncryptionSecret indicates the token vault secret is too short.
	ErrWeakEncryptionSecret = errors.New("encryption secret too short")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidTopK indicates the retrieval fan-out is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidRecencyWindow indicates the retrieval window is out of range.
	ErrInvalidRecencyWindow = errors.New("invalid retrieval recency window")

	// ErrMissingGitHubOAuth indicates the GitHub OAuth app is not configured.
	ErrMissingGitHubOAuth = errors.New("missing GitHub OAuth configuration")
)

const (
	// DefaultEmbedderModel is the Gemini embedder used for message vectors.
	// It outputs 768 dimensions, matching the messages.embedding column.
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultGenerationModel is the provider-qualified generation model.
	DefaultGenerationModel = "googleai/gemini-2.5-flash"

	// DefaultTopK is the number of prior messages retrieved as context.
	DefaultTopK = 3

	// DefaultRecencyWindowDays bounds how far back context retrieval looks.
	DefaultRecencyWindowDays = 30

	// minEncryptionSecretLen is the minimum vault secret length.
	minEncryptionSecretLen = 16
)

// Config stores application configuration.
// SECURITY: sensitive fields carry a json:"-" tag so a marshaled Config never
// leaks credentials. When adding new secrets (passwords, API keys, tokens),
// tag them the same way.
type Config struct {
	// Server
	Addr string `mapstructure:"addr" json:"addr"`

	// Storage
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"`
	PostgresDBName   string `mapstructure:"postgres_dbname" json:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode" json:"postgres_sslmode"`

	// AI
	GeminiAPIKey    string `mapstructure:"gemini_api_key" json:"-"`
	EmbedderModel   string `mapstructure:"embedder_model" json:"embedder_model"`
	GenerationModel string `mapstructure:"generation_model" json:"generation_model"`

	// Retrieval
	TopK              int `mapstructure:"top_k" json:"top_k"`
	RecencyWindowDays int `mapstructure:"recency_window_days" json:"recency_window_days"`

	// GitHub OAuth application
	GitHubClientID     string `mapstructure:"github_client_id" json:"github_client_id"`
	GitHubClientSecret string `mapstructure:"github_client_secret" json:"-"`
	GitHubRedirectURL  string `mapstructure:"github_redirect_url" json:"github_redirect_url"`

	// FrontendURL is where the OAuth callback redirects the browser.
	FrontendURL string `mapstructure:"frontend_url" json:"frontend_url"`

	// Vault
	EncryptionSecret string `mapstructure:"encryption_secret" json:"-"`

	// Observability (empty endpoint = tracing disabled)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load reads configuration from defaults, the optional config file and the
// environment.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("DORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if dir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, ".dora"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Cloud-style convenience variables override individual settings.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.GeminiAPIKey = key
	}
	if err := cfg.parseDatabaseURL(os.Getenv("DATABASE_URL")); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:8000")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "dora")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "dora")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("generation_model", DefaultGenerationModel)

	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("recency_window_days", DefaultRecencyWindowDays)

	v.SetDefault("github_redirect_url", "http://localhost:8000/api/integrations/github/callback")
	v.SetDefault("frontend_url", "http://localhost:5173")

	v.SetDefault("service_name", "dora-backend")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// Validate checks settings every deployment needs. OAuth settings are checked
// separately by ValidateGitHub since the chat pipeline runs without them.
func (c *Config) Validate() error {
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.GeminiAPIKey == "" {
		return ErrMissingAPIKey
	}
	if c.EncryptionSecret == "" {
		return ErrMissingEncryptionSecret
	}
	if len(c.EncryptionSecret) < minEncryptionSecretLen {
		return fmt.Errorf("%w: need at least %d bytes", ErrWeakEncryptionSecret, minEncryptionSecretLen)
	}
	if c.TopK < 1 || c.TopK > 20 {
		return fmt.Errorf("%w: %d", ErrInvalidTopK, c.TopK)
	}
	if c.RecencyWindowDays < 1 || c.RecencyWindowDays > 365 {
		return fmt.Errorf("%w: %d days", ErrInvalidRecencyWindow, c.RecencyWindowDays)
	}
	return nil
}

// ValidateGitHub checks the GitHub OAuth application settings.
func (c *Config) ValidateGitHub() error {
	if c.GitHubClientID == "" || c.GitHubClientSecret == "" {
		return ErrMissingGitHubOAuth
	}
	return nil
}

// GitHubEnabled reports whether the GitHub integration is configured.
func (c *Config) GitHubEnabled() bool {
	return c.ValidateGitHub() == nil
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error", case
// insensitive). Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// quoteDSNValue quotes a value for PostgreSQL key=value DSN format so values
// containing spaces or quotes parse correctly.
func quoteDSNValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// PostgresConnectionString returns the PostgreSQL DSN for pgx.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresUser,
		quoteDSNValue(c.PostgresPassword),
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// PostgresURL returns the PostgreSQL URL for golang-migrate.
func (c *Config) PostgresURL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.PostgresSSLMode),
	}
	return u.String()
}

// parseDatabaseURL applies a postgres:// URL over the individual settings.
func (c *Config) parseDatabaseURL(dbURL string) error {
	if dbURL == "" {
		return nil
	}

	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://, got %q", parsed.Scheme)
	}

	if host := parsed.Hostname(); host != "" {
		c.PostgresHost = host
	}
	if portStr := parsed.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port in DATABASE_URL: %w", err)
		}
		c.PostgresPort = port
	}
	if parsed.User != nil {
		if user := parsed.User.Username(); user != "" {
			c.PostgresUser = user
		}
		if password, ok := parsed.User.Password(); ok {
			c.PostgresPassword = password
		}
	}
	if parsed.Path != "" {
		c.PostgresDBName = strings.TrimPrefix(parsed.Path, "/")
	}
	if sslmode := parsed.Query().Get("sslmode"); sslmode != "" {
		c.PostgresSSLMode = sslmode
	}
	return nil
}

