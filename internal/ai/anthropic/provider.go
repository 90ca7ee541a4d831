package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/askbot/internal/ai"
)

const (
	// APIBaseURL is the base URL for the Anthropic API
	APIBaseURL = "https://api.anthropic.com/v1/messages"

	// APIVersion is the Anthropic API version
	APIVersion = "2023-06-01"

	// DefaultModel is the default Claude model to use
	DefaultModel = "claude-3-5-haiku-latest"

	defaultMaxTokens = 1024
)

// Config contains configuration for the Anthropic provider
type Config struct {
	APIKey         string
	Model          string
	BaseURL        string
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.Provider using Anthropic's Messages API
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a new Anthropic AI provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	// Set defaults
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = APIBaseURL
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 60 * time.Second
	}
	if config.ProviderConfig.MaxOutputTokens == 0 {
		config.ProviderConfig.MaxOutputTokens = defaultMaxTokens
	}

	return &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.ProviderConfig.RequestTimeout,
		},
		logger: logger,
	}, nil
}

// Name returns "anthropic".
func (p *Provider) Name() string { return "anthropic" }

// Generate answers the prompt with Claude
func (p *Provider) Generate(ctx context.Context, params ai.GenerateParams) (*ai.GenerateResult, error) {
	startTime := time.Now()

	// Validate input
	if err := ai.ValidateImage(params); err != nil {
		return nil, ai.WrapError("generate", err)
	}

	// Build the request
	req, err := p.buildRequest(ctx, params)
	if err != nil {
		return nil, ai.WrapError("build request", err)
	}

	// Single attempt; the caller owns retry policy
	resp, err := p.executeRequest(req)
	if err != nil {
		return nil, ai.WrapError("execute request", err)
	}

	text, err := parseResponse(resp)
	if err != nil {
		return nil, ai.WrapError("parse response", err)
	}

	return &ai.GenerateResult{
		Text: text,
		Usage: ai.UsageInfo{
			Model:        p.config.Model,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			Duration:     time.Since(startTime),
		},
	}, nil
}

// buildRequest builds the HTTP request for a message
func (p *Provider) buildRequest(ctx context.Context, params ai.GenerateParams) (*http.Request, error) {
	var content []apiContent
	if params.HasImage() {
		content = append(content, apiContent{
			Type: "image",
			Source: &apiImageSource{
				Type:      "base64",
				MediaType: params.ContentType,
				Data:      base64.StdEncoding.EncodeToString(params.ImageData),
			},
		})
	}
	prompt := params.Text
	if prompt == "" && params.HasImage() {
		prompt = ai.DefaultPrompt
	}
	content = append(content, apiContent{Type: "text", Text: prompt})

	reqBody := apiRequest{
		Model:     p.config.Model,
		MaxTokens: p.config.ProviderConfig.MaxOutputTokens,
		Messages: []apiMessage{
			{Role: "user", Content: content},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", APIVersion)

	return req, nil
}

// executeRequest executes a single HTTP request
func (p *Provider) executeRequest(req *http.Request) (*apiResponse, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ai.EAITimeout
		}
		return nil, fmt.Errorf("%w: %v", ai.EAIUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPError(resp.StatusCode, bodyBytes)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &apiResp, nil
}

// mapHTTPError maps HTTP status codes to provider errors
func (p *Provider) mapHTTPError(statusCode int, body []byte) error {
	var errResp apiErrorResponse
	_ = json.Unmarshal(body, &errResp)

	p.logger.Warn("anthropic request failed",
		"status", statusCode,
		"error_type", errResp.Error.Type,
		"message", errResp.Error.Message,
	)

	switch statusCode {
	case http.StatusUnauthorized:
		return ai.EAIUnauthorized
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusRequestTimeout:
		return ai.EAITimeout
	case http.StatusBadRequest:
		if errResp.Error.Type == "invalid_request_error" && strings.Contains(errResp.Error.Message, "image") {
			return ai.EAIInvalidImage
		}
		return fmt.Errorf("bad request: %s", errResp.Error.Message)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout, 529:
		return ai.EAIUnavailable
	default:
		return fmt.Errorf("API error (status %d): %s", statusCode, errResp.Error.Message)
	}
}

// parseResponse joins the text blocks of a message
func parseResponse(resp *apiResponse) (string, error) {
	var b strings.Builder
	for _, content := range resp.Content {
		if content.Type == "text" {
			b.WriteString(content.Text)
		}
	}
	if b.Len() == 0 {
		return "", ai.EAIEmptyResponse
	}
	return b.String(), nil
}

// API request/response types

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *apiImageSource `json:"source,omitempty"`
}

type apiImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiResponse struct {
	ID         string             `json:"id"`
	Content    []apiContentOutput `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      apiUsage           `json:"usage"`
}

type apiContentOutput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiErrorResponse struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
