// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.rpinsight/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - ReportPortal: API endpoint, token, sync tuning, feature flags
//   - LLM: provider selection, model, temperature, max tokens
//   - Storage: PostgreSQL connection
//   - RAG: embedder model, default result count
//   - Observability: optional OTLP trace export
//
// Security: sensitive values (token, password) are masked in
// MarshalJSON and String. Validation is fail-fast with sentinel errors
// checkable via errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingURL indicates the ReportPortal URL is not set.
	ErrMissingURL = errors.New("missing ReportPortal URL")

	// ErrMissingToken indicates the ReportPortal API token is not set.
	ErrMissingToken = errors.New("missing ReportPortal API token")

	// ErrInvalidURL indicates the ReportPortal URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid ReportPortal URL")

	// ErrInvalidBatchSize indicates the sync batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid sync batch size")

	// ErrInvalidRateLimit indicates the request rate limit is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidTimeout indicates the request timeout is out of range.
	ErrInvalidTimeout = errors.New("invalid request timeout")

	// ErrInvalidMaxRetries indicates the retry count is out of range.
	ErrInvalidMaxRetries = errors.New("invalid max retries")

	// ErrInvalidProvider indicates the LLM provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidResultCount indicates the RAG result count is out of range.
	ErrInvalidResultCount = errors.New("invalid result count")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")
)

// LLM provider identifiers used in Config.Provider.
const (
	ProviderGoogleAI = "googleai"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
)

// DefaultEmbedderModel is the default embedder. text-embedding-004
// outputs 768 dimensions, matching the documents table schema.
const DefaultEmbedderModel = "text-embedding-004"

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// ReportPortal connection
	ReportPortalURL   string `mapstructure:"reportportal_url" json:"reportportal_url"`
	ReportPortalToken string `mapstructure:"reportportal_token" json:"reportportal_token"` // SENSITIVE: masked in MarshalJSON

	// Sync tuning
	SyncBatchSize           int  `mapstructure:"sync_batch_size" json:"sync_batch_size"`
	SyncRateLimit           int  `mapstructure:"sync_rate_limit" json:"sync_rate_limit"` // requests per second
	RequestTimeoutSeconds   int  `mapstructure:"request_timeout_seconds" json:"request_timeout_seconds"`
	MaxRetries              int  `mapstructure:"max_retries" json:"max_retries"`
	EnableFullSync          bool `mapstructure:"enable_full_sync" json:"enable_full_sync"`
	EnableIncrementalSync   bool `mapstructure:"enable_incremental_sync" json:"enable_incremental_sync"`
	IncrementalLookbackDays int  `mapstructure:"incremental_lookback_days" json:"incremental_lookback_days"`
	MaxLogsPerItem          int  `mapstructure:"max_logs_per_item" json:"max_logs_per_item"`

	// LLM provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"` // "googleai" (default), "ollama", "openai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// RAG configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	ResultCount   int    `mapstructure:"result_count" json:"result_count"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Observability configuration
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// TracingConfig configures optional OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".rpinsight")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Sync defaults
	viper.SetDefault("sync_batch_size", 100)
	viper.SetDefault("sync_rate_limit", 10)
	viper.SetDefault("request_timeout_seconds", 30)
	viper.SetDefault("max_retries", 3)
	viper.SetDefault("enable_full_sync", true)
	viper.SetDefault("enable_incremental_sync", true)
	viper.SetDefault("incremental_lookback_days", 7)
	viper.SetDefault("max_logs_per_item", 100)

	// LLM defaults
	viper.SetDefault("provider", ProviderGoogleAI)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// RAG defaults
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("result_count", 20)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "rpinsight")
	viper.SetDefault("postgres_password", "rpinsight_dev_password")
	viper.SetDefault("postgres_db_name", "rpinsight")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.service_name", "rpinsight")
	viper.SetDefault("tracing.environment", "dev")
}

// bindEnvVariables binds environment variable overrides explicitly.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("reportportal_url", "RP_URL")
	mustBind("reportportal_token", "RP_API_TOKEN")
	mustBind("provider", "RPINSIGHT_PROVIDER")
	mustBind("model_name", "RPINSIGHT_MODEL_NAME")
	mustBind("ollama_host", "RPINSIGHT_OLLAMA_HOST")
	mustBind("postgres_password", "RPINSIGHT_POSTGRES_PASSWORD")

	// NOTE: GEMINI_API_KEY and OPENAI_API_KEY are read directly by the
	// Genkit plugins, not via Viper.
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid substring matching against the real secret.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8
// characters or fewer are fully masked; longer secrets keep their
// first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. Masked fields: ReportPortalToken, PostgresPassword.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.ReportPortalToken = maskSecret(a.ReportPortalToken)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3",
// "openai/gpt-4o". A ModelName already containing "/" is returned
// as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// PostgresURL builds the postgres connection URL from the storage
// fields.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RequestTimeout returns the HTTP request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// IncrementalLookback returns the incremental sync window as a
// duration.
func (c *Config) IncrementalLookback() time.Duration {
	return time.Duration(c.IncrementalLookbackDays) * 24 * time.Hour
}
