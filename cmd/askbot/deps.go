package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/DukeRupert/askbot/internal"
	"github.com/DukeRupert/askbot/internal/ai"
	"github.com/DukeRupert/askbot/internal/ai/anthropic"
	"github.com/DukeRupert/askbot/internal/ai/gemini"
	"github.com/DukeRupert/askbot/internal/ai/mock"
	"github.com/DukeRupert/askbot/internal/ai/openai"
	"github.com/DukeRupert/askbot/internal/store"
	"github.com/DukeRupert/askbot/internal/store/memory"
	"github.com/DukeRupert/askbot/internal/store/sqlstore"
)

// setup loads configuration and builds the logger.
func setup() (*internal.Config, *slog.Logger, error) {
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("config initialization failed: %w", err)
	}
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	return cfg, logger, nil
}

// openStore connects to the configured entitlement store and applies
// migrations. The returned health check pings the database.
func openStore(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (store.Store, func(context.Context) error, error) {
	if cfg.DatabaseDriver == "memory" {
		logger.Warn("Using in-memory store, state is lost on restart")
		return memory.New(), nil, nil
	}

	st, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseUrl, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	if err := internal.RunMigrations(st.DB(), st.Driver()); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready", "driver", st.Driver())

	return st, st.DB().PingContext, nil
}

// newProvider builds the configured generative provider.
func newProvider(cfg *internal.Config, logger *slog.Logger) (ai.Provider, error) {
	pc := ai.ProviderConfig{
		RequestTimeout:  cfg.AIRequestTimeout,
		MaxOutputTokens: cfg.AIMaxOutputTokens,
	}

	switch cfg.AIProvider {
	case "gemini":
		return gemini.New(gemini.Config{
			APIKey:         cfg.GeminiAPIKey,
			Model:          cfg.GeminiModel,
			ProviderConfig: pc,
		}, logger)
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			Model:          cfg.AnthropicModel,
			ProviderConfig: pc,
		}, logger)
	case "openai":
		return openai.New(openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			ProviderConfig: pc,
		}, logger)
	case "mock":
		logger.Warn("Using mock AI provider")
		return mock.New(logger), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.AIProvider)
	}
}
