// Package storage archives photo attachments received by the bot.
//
// Implementations:
// - LocalStorage: files under a base directory (development, single host)
// - R2Storage: Cloudflare R2 through the S3 API (production)
//
// Archiving is best effort: the assistant answers even when a Put fails.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage stores and retrieves opaque objects by key.
type Storage interface {
	// Put stores data at key. Unless opts.Overwrite is set, an existing key
	// yields ErrKeyExists.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get returns the object at key; the caller must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// PutOptions configures how an object is stored.
type PutOptions struct {
	ContentType string // Auto-detected from the key when empty
	MaxSize     int64  // 0 means no limit
	Overwrite   bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// =============================================================================
// Configuration
// =============================================================================

const (
	ProviderNone  = "none"
	ProviderLocal = "local"
	ProviderR2    = "r2"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	Local    LocalConfig
	R2       R2Config
}

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	BasePath string // e.g. "./data/attachments"
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string // Defaults to "auto"
	Endpoint        string // Overrides the account endpoint (tests, other S3 services)
}

// New returns the configured provider, or nil for ProviderNone.
func New(cfg Config, logger *slog.Logger) (Storage, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderLocal:
		s, err := NewLocalStorage(cfg.Local, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case ProviderR2:
		s, err := NewR2Storage(cfg.R2, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// AttachmentKey returns a unique key for a user's photo.
// Format: attachments/{userID}/{YYYY-MM-DD}/{uuid}{ext}
func AttachmentKey(userID int64, at time.Time, contentType string) string {
	return fmt.Sprintf("attachments/%d/%s/%s%s",
		userID, at.UTC().Format("2006-01-02"), uuid.New(), ExtensionFor(contentType))
}
