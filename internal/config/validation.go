package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. ReportPortal connection
	if c.ReportPortalURL == "" {
		return fmt.Errorf("%w: set reportportal_url in config.yaml or the RP_URL environment variable", ErrMissingURL)
	}
	u, err := url.Parse(c.ReportPortalURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q must be an absolute http(s) URL", ErrInvalidURL, c.ReportPortalURL)
	}
	if c.ReportPortalToken == "" {
		return fmt.Errorf("%w: set reportportal_token in config.yaml or the RP_API_TOKEN environment variable", ErrMissingToken)
	}

	// 2. Sync tuning
	if c.SyncBatchSize < 1 || c.SyncBatchSize > 1000 {
		return fmt.Errorf("%w: must be between 1 and 1000, got %d", ErrInvalidBatchSize, c.SyncBatchSize)
	}
	if c.SyncRateLimit < 1 || c.SyncRateLimit > 100 {
		return fmt.Errorf("%w: must be between 1 and 100 requests/second, got %d", ErrInvalidRateLimit, c.SyncRateLimit)
	}
	if c.RequestTimeoutSeconds < 1 || c.RequestTimeoutSeconds > 300 {
		return fmt.Errorf("%w: must be between 1 and 300 seconds, got %d", ErrInvalidTimeout, c.RequestTimeoutSeconds)
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("%w: must be between 0 and 10, got %d", ErrInvalidMaxRetries, c.MaxRetries)
	}
	if c.IncrementalLookbackDays < 1 {
		return fmt.Errorf("%w: incremental_lookback_days must be at least 1, got %d", ErrInvalidTimeout, c.IncrementalLookbackDays)
	}

	// 3. LLM configuration
	validProviders := []string{ProviderGoogleAI, ProviderOllama, ProviderOpenAI}
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v", ErrInvalidProvider, c.Provider, validProviders)
	}
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// Provider API keys are read by the Genkit plugins from the
	// environment; check presence up front so failures surface at
	// startup instead of on the first request.
	switch c.Provider {
	case ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for provider %q",
				ErrInvalidProvider, c.Provider)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required for provider %q",
				ErrInvalidProvider, c.Provider)
		}
	case ProviderOllama:
		if c.OllamaHost == "" || !strings.HasPrefix(c.OllamaHost, "http") {
			return fmt.Errorf("%w: %q must be an http(s) URL", ErrInvalidOllamaHost, c.OllamaHost)
		}
	}

	// 4. RAG configuration
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.ResultCount < 1 || c.ResultCount > 100 {
		return fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidResultCount, c.ResultCount)
	}

	// 5. PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	return nil
}
