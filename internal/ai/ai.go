package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider is an opaque generative-language backend.
type Provider interface {
	// Generate answers a prompt, optionally with an attached image. A
	// single attempt is made; callers bound it with ctx.
	Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error)

	// Name identifies the provider in logs and metrics.
	Name() string
}

// GenerateParams contains parameters for a generation request.
type GenerateParams struct {
	Text        string // User prompt or photo caption
	ImageData   []byte // Optional image bytes
	ContentType string // MIME type of ImageData (e.g., "image/jpeg")
	UserID      int64  // Chat user id for tracing
}

// HasImage reports whether an image is attached.
func (p GenerateParams) HasImage() bool {
	return len(p.ImageData) > 0
}

// GenerateResult is the answer returned by a provider.
type GenerateResult struct {
	Text  string
	Usage UsageInfo
}

// UsageInfo tracks API usage for logging and the interaction log.
type UsageInfo struct {
	Model        string        // AI model used
	InputTokens  int           // Tokens in the request
	OutputTokens int           // Tokens in the response
	Duration     time.Duration // Request duration
}

// ProviderConfig contains common configuration for AI providers.
type ProviderConfig struct {
	RequestTimeout  time.Duration // Timeout for individual requests
	MaxOutputTokens int           // Response length cap
}

// DefaultPrompt is used when a photo arrives without a caption.
const DefaultPrompt = "Describe this image."

// MaxImageSize is the largest image accepted by any provider (20MB).
const MaxImageSize = 20 * 1024 * 1024

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIInvalidImage indicates the image format or content is invalid
	EAIInvalidImage = errors.New("invalid image format or content")

	// EAIContentPolicy indicates the prompt or image was blocked
	EAIContentPolicy = errors.New("request violates content policy")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIEmptyResponse indicates the provider returned no text
	EAIEmptyResponse = errors.New("ai provider returned an empty response")
)

// IsTimeout reports whether err is a provider or context deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, EAITimeout) || errors.Is(err, context.DeadlineExceeded)
}

// ValidateImage checks image size and content type before upload.
func ValidateImage(params GenerateParams) error {
	if !params.HasImage() {
		return nil
	}
	if len(params.ImageData) > MaxImageSize {
		return fmt.Errorf("%w: image size %d exceeds maximum %d", EAIInvalidImage, len(params.ImageData), MaxImageSize)
	}
	switch params.ContentType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return nil
	case "":
		return fmt.Errorf("%w: content type is required", EAIInvalidImage)
	default:
		return fmt.Errorf("%w: unsupported content type %s", EAIInvalidImage, params.ContentType)
	}
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}
