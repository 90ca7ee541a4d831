package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/DukeRupert/askbot/internal/audit"
	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/storage"
)

type Config struct {
	Env      string
	LogLevel string

	// Telegram
	TelegramToken string
	PaymentsMode  string // "demo" or "manual"
	Locale        string // BCP 47 tag used to format numbers

	// Entitlement store
	DatabaseDriver string // "postgres", "sqlite" or "memory"
	DatabaseUrl    string

	// AI Provider Configuration
	AIProvider        string // "gemini", "anthropic", "openai" or "mock"
	GeminiAPIKey      string
	GeminiModel       string
	AnthropicAPIKey   string
	AnthropicModel    string
	OpenAIAPIKey      string
	OpenAIModel       string
	AIRequestTimeout  time.Duration
	AIMaxOutputTokens int

	// Quota and subscriptions
	FreeRequestsLimit  int
	FreeImageLimit     int
	ImageQuotaCategory domain.QuotaCategory // "text" shares the text quota
	SubscriptionTiers  string               // "id:price:days[:title],..."; empty uses the default catalogue
	Timezone           string
	Location           *time.Location
	QuotaPolicy        domain.QuotaPolicy
	Catalogue          domain.Catalogue

	// Storage Configuration
	StorageProvider   string // "none", "local" or "r2"
	LocalStoragePath  string
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string

	// Interaction log
	AuditEnabled     bool
	AuditConcurrency int
	AuditQueueSize   int

	// Flood guard
	FloodRate  float64
	FloodBurst int

	// Ops server
	OpsAddr        string
	ReportSchedule string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	// Quota limits must parse; a typo must not silently restore the default.
	freeLimit, err := getEnvIntStrict("FREE_REQUESTS_LIMIT", domain.DefaultFreeLimit)
	if err != nil {
		return nil, err
	}
	freeImageLimit, err := getEnvIntStrict("FREE_IMAGE_LIMIT", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		TelegramToken: getEnv("TELEGRAM_TOKEN", ""),
		PaymentsMode:  getEnv("PAYMENTS_MODE", "demo"),
		Locale:        getEnv("LOCALE", "en"),

		// Store defaults to a local SQLite file for development
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseUrl:    getEnv("DATABASE_URL", "askbot.db"),

		// AI provider defaults
		AIProvider:        getEnv("AI_PROVIDER", "mock"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", ""),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    getEnv("ANTHROPIC_MODEL", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", ""),
		AIRequestTimeout:  getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),
		AIMaxOutputTokens: getEnvInt("AI_MAX_OUTPUT_TOKENS", 1024),

		FreeRequestsLimit:  freeLimit,
		FreeImageLimit:     freeImageLimit,
		ImageQuotaCategory: domain.QuotaCategory(getEnv("IMAGE_QUOTA_CATEGORY", string(domain.QuotaCategoryText))),
		SubscriptionTiers:  getEnv("SUBSCRIPTION_TIERS", ""),
		Timezone:           getEnv("TIMEZONE", "UTC"),

		// Storage defaults to disabled
		StorageProvider:   getEnv("STORAGE_PROVIDER", storage.ProviderNone),
		LocalStoragePath:  getEnv("LOCAL_STORAGE_PATH", "./data/attachments"),
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		AuditEnabled:     getEnvBool("AUDIT_ENABLED", true),
		AuditConcurrency: getEnvInt("AUDIT_CONCURRENCY", audit.DefaultConfig().Concurrency),
		AuditQueueSize:   getEnvInt("AUDIT_QUEUE_SIZE", audit.DefaultConfig().QueueSize),

		FloodRate:  getEnvFloat("FLOOD_RATE", 1),
		FloodBurst: getEnvInt("FLOOD_BURST", 5),

		OpsAddr:        getEnv("OPS_ADDR", ":9090"),
		ReportSchedule: getEnv("REPORT_SCHEDULE", "*/5 * * * *"),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks settings and derives Location, QuotaPolicy and Catalogue.
func (cfg *Config) validate() error {
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
		if cfg.DatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER is '%s'", cfg.DatabaseDriver)
		}
	case "memory":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be 'postgres', 'sqlite' or 'memory', got: %s", cfg.DatabaseDriver)
	}

	// Validate AI provider configuration
	switch cfg.AIProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is 'gemini'")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is 'anthropic'")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is 'openai'")
		}
	case "mock":
	default:
		return fmt.Errorf("AI_PROVIDER must be 'gemini', 'anthropic', 'openai' or 'mock', got: %s", cfg.AIProvider)
	}
	if cfg.AIRequestTimeout <= 0 {
		return fmt.Errorf("AI_REQUEST_TIMEOUT must be positive, got: %s", cfg.AIRequestTimeout)
	}

	// Validate storage configuration
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		if cfg.R2AccountID == "" && cfg.R2Endpoint == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	case storage.ProviderLocal, storage.ProviderNone:
	default:
		return fmt.Errorf("STORAGE_PROVIDER must be 'none', 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	switch cfg.PaymentsMode {
	case "demo", "manual":
	default:
		return fmt.Errorf("PAYMENTS_MODE must be 'demo' or 'manual', got: %s", cfg.PaymentsMode)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if cfg.FreeRequestsLimit < 0 {
		return fmt.Errorf("FREE_REQUESTS_LIMIT must not be negative, got: %d", cfg.FreeRequestsLimit)
	}
	policy := domain.DefaultQuotaPolicy()
	policy.Limits[domain.QuotaCategoryText] = cfg.FreeRequestsLimit
	switch cfg.ImageQuotaCategory {
	case domain.QuotaCategoryText:
	case domain.QuotaCategoryImage:
		if cfg.FreeImageLimit < 0 {
			return fmt.Errorf("FREE_IMAGE_LIMIT must not be negative, got: %d", cfg.FreeImageLimit)
		}
		policy.Limits[domain.QuotaCategoryImage] = cfg.FreeImageLimit
		policy.Categories[domain.RequestKindImage] = domain.QuotaCategoryImage
	default:
		return fmt.Errorf("IMAGE_QUOTA_CATEGORY must be 'text' or 'image', got: %s", cfg.ImageQuotaCategory)
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	cfg.QuotaPolicy = policy

	cfg.Catalogue = domain.DefaultCatalogue()
	if cfg.SubscriptionTiers != "" {
		catalogue, err := domain.ParseCatalogue(cfg.SubscriptionTiers)
		if err != nil {
			return fmt.Errorf("SUBSCRIPTION_TIERS: %w", err)
		}
		cfg.Catalogue = catalogue
	}

	return nil
}

// StorageConfig returns the attachment archive settings.
func (cfg *Config) StorageConfig() storage.Config {
	return storage.Config{
		Provider: cfg.StorageProvider,
		Local:    storage.LocalConfig{BasePath: cfg.LocalStoragePath},
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		},
	}
}

// AuditConfig returns the recorder settings.
func (cfg *Config) AuditConfig() audit.Config {
	c := audit.DefaultConfig()
	c.Concurrency = cfg.AuditConcurrency
	c.QueueSize = cfg.AuditQueueSize
	return c
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvIntStrict(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got: %q", key, value)
	}
	return i, nil
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
