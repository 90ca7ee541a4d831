// Package gemini implements ai.Provider over the Google Gemini
// generateContent REST endpoint.
package gemini

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
	// APIBaseURL is the base URL for Gemini models
	APIBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

	// DefaultModel is the default Gemini model to use
	DefaultModel = "gemini-2.0-flash"
)

// Config contains configuration for the Gemini provider
type Config struct {
	APIKey         string
	Model          string
	BaseURL        string
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.Provider using Gemini
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a new Gemini provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = APIBaseURL
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 60 * time.Second
	}

	return &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.ProviderConfig.RequestTimeout,
		},
		logger: logger,
	}, nil
}

// Name returns "gemini".
func (p *Provider) Name() string { return "gemini" }

// Generate sends the prompt (and optional image) in a single request.
func (p *Provider) Generate(ctx context.Context, params ai.GenerateParams) (*ai.GenerateResult, error) {
	startTime := time.Now()

	if err := ai.ValidateImage(params); err != nil {
		return nil, ai.WrapError("generate", err)
	}

	req, err := p.buildRequest(ctx, params)
	if err != nil {
		return nil, ai.WrapError("build request", err)
	}

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
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			Duration:     time.Since(startTime),
		},
	}, nil
}

func (p *Provider) buildRequest(ctx context.Context, params ai.GenerateParams) (*http.Request, error) {
	prompt := params.Text
	if prompt == "" && params.HasImage() {
		prompt = ai.DefaultPrompt
	}

	parts := []apiPart{{Text: prompt}}
	if params.HasImage() {
		parts = append(parts, apiPart{
			InlineData: &apiInlineData{
				MimeType: params.ContentType,
				Data:     base64.StdEncoding.EncodeToString(params.ImageData),
			},
		})
	}

	reqBody := apiRequest{
		Contents: []apiContent{{Role: "user", Parts: parts}},
	}
	if p.config.ProviderConfig.MaxOutputTokens > 0 {
		reqBody.GenerationConfig = &apiGenerationConfig{
			MaxOutputTokens: p.config.ProviderConfig.MaxOutputTokens,
		}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", strings.TrimSuffix(p.config.BaseURL, "/"), p.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", p.config.APIKey)

	return req, nil
}

func (p *Provider) executeRequest(req *http.Request) (*apiResponse, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
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

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// mapHTTPError maps HTTP status codes to provider errors
func (p *Provider) mapHTTPError(statusCode int, body []byte) error {
	var errResp apiErrorResponse
	_ = json.Unmarshal(body, &errResp)

	p.logger.Warn("gemini request failed",
		"status", statusCode,
		"error_status", errResp.Error.Status,
		"message", errResp.Error.Message,
	)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ai.EAIUnauthorized
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ai.EAITimeout
	case http.StatusBadRequest:
		return fmt.Errorf("bad request: %s", errResp.Error.Message)
	case http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusBadGateway:
		return ai.EAIUnavailable
	default:
		return fmt.Errorf("API error (status %d): %s", statusCode, errResp.Error.Message)
	}
}

func parseResponse(resp *apiResponse) (string, error) {
	if resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", ai.EAIContentPolicy, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", ai.EAIEmptyResponse
	}

	candidate := resp.Candidates[0]
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		b.WriteString(part.Text)
	}
	if b.Len() == 0 {
		if candidate.FinishReason == "SAFETY" {
			return "", ai.EAIContentPolicy
		}
		return "", ai.EAIEmptyResponse
	}
	return b.String(), nil
}

// API request/response types

type apiRequest struct {
	Contents         []apiContent         `json:"contents"`
	GenerationConfig *apiGenerationConfig `json:"generationConfig,omitempty"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *apiInlineData `json:"inline_data,omitempty"`
}

type apiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type apiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type apiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
