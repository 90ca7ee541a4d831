// Package openai implements ai.Provider with the go-openai chat completion
// client.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/DukeRupert/askbot/internal/ai"
)

// DefaultModel is the default chat model to use
const DefaultModel = openai.GPT4oMini

// Config contains configuration for the OpenAI provider
type Config struct {
	APIKey         string
	Model          string
	BaseURL        string
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.Provider using OpenAI chat completions
type Provider struct {
	config Config
	client *openai.Client
	logger *slog.Logger
}

// New creates a new OpenAI provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 60 * time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: config.ProviderConfig.RequestTimeout}

	return &Provider{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}, nil
}

// Name returns "openai".
func (p *Provider) Name() string { return "openai" }

// Generate sends a single chat completion request.
func (p *Provider) Generate(ctx context.Context, params ai.GenerateParams) (*ai.GenerateResult, error) {
	startTime := time.Now()

	if err := ai.ValidateImage(params); err != nil {
		return nil, ai.WrapError("generate", err)
	}

	req := openai.ChatCompletionRequest{
		Model:     p.config.Model,
		Messages:  []openai.ChatCompletionMessage{buildMessage(params)},
		MaxTokens: p.config.ProviderConfig.MaxOutputTokens,
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, ai.WrapError("execute request", p.mapError(ctx, err))
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		if len(resp.Choices) > 0 && resp.Choices[0].FinishReason == openai.FinishReasonContentFilter {
			return nil, ai.WrapError("parse response", ai.EAIContentPolicy)
		}
		return nil, ai.WrapError("parse response", ai.EAIEmptyResponse)
	}

	return &ai.GenerateResult{
		Text: resp.Choices[0].Message.Content,
		Usage: ai.UsageInfo{
			Model:        p.config.Model,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			Duration:     time.Since(startTime),
		},
	}, nil
}

func buildMessage(params ai.GenerateParams) openai.ChatCompletionMessage {
	if !params.HasImage() {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: params.Text,
		}
	}

	prompt := params.Text
	if prompt == "" {
		prompt = ai.DefaultPrompt
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", params.ContentType, base64.StdEncoding.EncodeToString(params.ImageData))
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
		},
	}
}

// mapError maps client errors to provider errors
func (p *Provider) mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ai.EAITimeout
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return fmt.Errorf("%w: %v", ai.EAIUnavailable, err)
	}

	p.logger.Warn("openai request failed", "status", status, "error", err)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ai.EAIUnauthorized
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ai.EAITimeout
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return ai.EAIUnavailable
	default:
		return fmt.Errorf("API error (status %d): %w", status, err)
	}
}
